package main

import (
	"bolivarwatch/internal/cli"
)

func main() {
	cli.Execute()
}
