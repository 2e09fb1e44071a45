// internal/syncer/handoff.go
package syncer

import (
	"context"
	"log/slog"
)

// Handoff receives the summary of every successful sync, for report rendering
// or notification further downstream.
type Handoff interface {
	Handle(ctx context.Context, summary *Summary) error
}

// HandoffFunc adapts a function to the Handoff interface.
type HandoffFunc func(ctx context.Context, summary *Summary) error

func (f HandoffFunc) Handle(ctx context.Context, summary *Summary) error {
	return f(ctx, summary)
}

// LogHandoff logs each summary that persisted at least one update.
func LogHandoff(logger *slog.Logger) Handoff {
	return HandoffFunc(func(_ context.Context, summary *Summary) error {
		if summary.Total() == 0 {
			return nil
		}
		attrs := []any{"source", summary.Source.FullName(), "persisted", summary.Total()}
		for kind, n := range summary.Counts {
			attrs = append(attrs, string(kind), n)
		}
		logger.Info("New updates", attrs...)
		return nil
	})
}
