package notifier

import (
	"fmt"
	"strings"
	"time"

	"BarOracle/internal/artifact"
	"BarOracle/internal/model"
)

func arrow(direction int) string {
	if direction == model.DirectionRises {
		return "📈"
	}
	return "📉"
}

// FormatPredictionAlert formats the high-confidence alert sent after a
// prediction is persisted.
func FormatPredictionAlert(symbol string, direction int, confidence, price float64, at time.Time) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🚨 <b>BarOracle alert</b> | %s\n\n", symbol))
	b.WriteString(fmt.Sprintf("%s Next bar: <b>%s</b>\n", arrow(direction), model.DirectionLabel(direction)))
	b.WriteString(fmt.Sprintf("Confidence: %.1f%%\n", confidence))
	b.WriteString(fmt.Sprintf("Entry price: %.4f\n", price))
	b.WriteString(fmt.Sprintf("Time: %s UTC", at.UTC().Format("2006-01-02 15:04:05")))
	return b.String()
}

// FormatTick formats the outcome of a manual tick.
func FormatTick(symbol string, direction int, confidence, price float64, persisted bool, alerted bool) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s <b>%s</b>: %s (%.1f%%)\n", arrow(direction), symbol, model.DirectionLabel(direction), confidence))
	b.WriteString(fmt.Sprintf("Price: %.4f\n", price))
	switch {
	case persisted && alerted:
		b.WriteString("Saved, alert sent")
	case persisted:
		b.WriteString("Saved")
	default:
		b.WriteString("Not saved (recent prediction exists or auto-save off)")
	}
	return b.String()
}

// FormatStats formats per-symbol win rates over the recent window.
func FormatStats(stats []model.Stats) string {
	var b strings.Builder
	b.WriteString("📊 <b>Prediction stats</b>")
	if len(stats) > 0 && stats[0].Window > 0 {
		b.WriteString(fmt.Sprintf(" (last %d per symbol)", stats[0].Window))
	}
	b.WriteString("\n\n")
	if len(stats) == 0 {
		b.WriteString("No symbols configured")
		return b.String()
	}
	for _, s := range stats {
		if s.Resolved == 0 {
			b.WriteString(fmt.Sprintf("%s: %d total, none graded yet\n", s.Symbol, s.Total))
			continue
		}
		b.WriteString(fmt.Sprintf("%s: %.1f%% win (%d/%d), %d pending\n",
			s.Symbol, s.WinRate, s.Wins, s.Resolved, s.Pending))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatHistory formats a newest-first prediction list.
func FormatHistory(symbol string, preds []model.Prediction) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🗂 <b>%s history</b>\n\n", symbol))
	if len(preds) == 0 {
		b.WriteString("No predictions yet")
		return b.String()
	}
	for _, p := range preds {
		status := "⏳"
		if !p.Pending() {
			status = "❌"
			if *p.Result == model.ResultCorrect {
				status = "✅"
			}
		}
		b.WriteString(fmt.Sprintf("%s %s %s %.1f%% @ %.4f\n",
			status, p.Timestamp.UTC().Format("01-02 15:04"), model.DirectionLabel(p.Direction), p.Confidence, p.EntryPrice))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatModel describes a loaded artifact.
func FormatModel(symbol string, a *artifact.Artifact) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🧠 <b>Model for %s</b>\n\n", symbol))
	b.WriteString(fmt.Sprintf("Trained on: %s (%s)\n", a.Ticker, a.Interval))
	b.WriteString(fmt.Sprintf("Trained at: %s\n", a.TrainedAt.UTC().Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("Features: %s\n", strings.Join(a.Features, ", ")))
	if len(a.Importance) > 0 {
		b.WriteString("\nImportance:\n")
		for _, fw := range a.Importance {
			b.WriteString(fmt.Sprintf("  %s: %.3f\n", fw.Name, fw.Weight))
		}
	}
	if m := a.Metrics; m != nil {
		b.WriteString(fmt.Sprintf("\nTest accuracy: %.1f%% on %d bars\n", m.Accuracy*100, m.Samples))
		b.WriteString(fmt.Sprintf("Precision %.2f | Recall %.2f | F1 %.2f", m.Precision, m.Recall, m.F1))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatRetrain reports the outcome of one retrain.
func FormatRetrain(symbol string, a *artifact.Artifact, err error) string {
	if err != nil {
		return fmt.Sprintf("❌ Retrain for %s failed: %v", symbol, err)
	}
	reply := fmt.Sprintf("✅ Retrained %s (%s)", symbol, a.Interval)
	if a.Metrics != nil {
		reply += fmt.Sprintf("\nTest accuracy: %.1f%%", a.Metrics.Accuracy*100)
	}
	return reply
}

// FormatHelp lists the chat commands.
func FormatHelp() string {
	return strings.Join([]string{
		"<b>BarOracle commands</b>",
		"/predict SYMBOL - run a prediction now",
		"/stats - win rate per symbol",
		"/history SYMBOL - recent predictions",
		"/model SYMBOL - loaded model details",
		"/retrain SYMBOL - retrain the model",
		"/help - this message",
	}, "\n")
}
