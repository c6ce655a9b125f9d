package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bolivarwatch/internal/rates"
)

// sourceTitles and sourceUnits drive the Spanish message templates.
var sourceTitles = map[rates.Source]string{
	rates.SourceOficial:  "Dólar BCV Oficial",
	rates.SourceParalelo: "Dólar Paralelo",
	rates.SourceEuro:     "Euro",
}

var sourceUnits = map[rates.Source]string{
	rates.SourceOficial:  "Bs/$",
	rates.SourceParalelo: "Bs/$",
	rates.SourceEuro:     "Bs/€",
}

var sourceEmojis = map[rates.Source]string{
	rates.SourceOficial:  "💵",
	rates.SourceParalelo: "💸",
	rates.SourceEuro:     "💶",
}

const dateLayout = "Monday, 02 January 2006"

func signed(pct decimal.Decimal) string {
	if pct.Sign() > 0 {
		return "+" + pct.StringFixed(2)
	}
	return pct.StringFixed(2)
}

func renderInitialSetup(cur map[rates.Source]decimal.Decimal, spread decimal.Decimal, localNow time.Time) string {
	var b strings.Builder
	b.WriteString("🚀 *Sistema Iniciado - Bolívar Watch*\n\n")
	for _, source := range rates.Required() {
		fmt.Fprintf(&b, "%s *%s*\n%s %s\n\n", sourceEmojis[source], sourceTitles[source], cur[source].StringFixed(2), sourceUnits[source])
	}
	fmt.Fprintf(&b, "📊 *Diferencia BCV-Paralelo:* %s%%\n\n", spread.StringFixed(2))
	b.WriteString("✅ Notificaciones activas\n")
	fmt.Fprintf(&b, "📅 %s - %s", localNow.Format(dateLayout), localNow.Format("15:04"))
	return b.String()
}

func renderDailyDigest(cur, change map[rates.Source]decimal.Decimal, spread decimal.Decimal, localNow time.Time) string {
	var b strings.Builder
	b.WriteString("🌅 *Resumen Diario - Venezuela*\n\n")
	for _, source := range rates.Required() {
		fmt.Fprintf(&b, "%s *%s*\n%s %s\n", sourceEmojis[source], sourceTitles[source], cur[source].StringFixed(2), sourceUnits[source])
		if pct, ok := change[source]; ok && !pct.IsZero() {
			fmt.Fprintf(&b, "Cambio: %s%%\n", signed(pct))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "📊 *Diferencia BCV-Paralelo:* %s%%\n\n", spread.StringFixed(2))
	fmt.Fprintf(&b, "📅 %s", localNow.Format(dateLayout))
	return b.String()
}

func renderChangeAlert(cur, prev, change map[rates.Source]decimal.Decimal, significant []rates.Source, spread decimal.Decimal, localNow time.Time) string {
	var alerts []string
	for _, source := range significant {
		pct := change[source]
		arrow, circle, direction := "📈", "🟢", "SUBIÓ"
		if pct.Sign() < 0 {
			arrow, circle, direction = "📉", "🔴", "BAJÓ"
		}
		delta := cur[source].Sub(prev[source])
		alerts = append(alerts, fmt.Sprintf("%s *%s %s* %s\n%s → %s %s\nCambio: %s%% (%s Bs)",
			circle, sourceTitles[source], direction, arrow,
			prev[source].StringFixed(2), cur[source].StringFixed(2), sourceUnits[source],
			signed(pct), delta.StringFixed(2)))
	}

	var b strings.Builder
	b.WriteString("🔔 *¡Cambio Detectado!*\n\n")
	b.WriteString(strings.Join(alerts, "\n\n"))
	fmt.Fprintf(&b, "\n\n📊 *Diferencia BCV-Paralelo:* %s%%\n\n", spread.StringFixed(2))
	fmt.Fprintf(&b, "⏰ %s", localNow.Format("15:04"))
	return b.String()
}

// RenderWelcome is the greeting pushed to a freshly subscribed chat.
func RenderWelcome(siteURL string) string {
	var b strings.Builder
	b.WriteString("🎉 *¡Bienvenido a Bolívar Watch!*\n\n")
	b.WriteString("Te has suscrito a las notificaciones de tasas de cambio.\n\n")
	b.WriteString("📊 Recibirás:\n")
	b.WriteString("- 🔔 Alertas cuando alguna tasa cambie ±1%\n")
	b.WriteString("- 🌅 Resumen diario a las 8:00 AM\n")
	if siteURL != "" {
		fmt.Fprintf(&b, "\n💵 Tasas actuales disponibles en:\n%s\n", siteURL)
	}
	b.WriteString("\n¡Gracias por suscribirte! 🇻🇪")
	return b.String()
}
