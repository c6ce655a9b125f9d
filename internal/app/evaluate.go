package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Evaluate runs the notification engine once and prints its result.
func (a *App) Evaluate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot evaluate")
	}
	if closeStore != nil {
		defer closeStore()
	}

	directory, err := a.openDirectory()
	if err != nil {
		return err
	}
	if directory == nil {
		return errors.New("redis not configured; cannot evaluate")
	}

	sender := a.newSender()
	if sender == nil {
		return errors.New("telegram not configured; cannot evaluate")
	}

	agg, _ := a.newAggregator(store)
	engine := a.newEngine(agg, store, directory, sender)

	result, err := engine.Evaluate(ctx)
	if err != nil {
		return err
	}
	agg.WaitForRecords()

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
