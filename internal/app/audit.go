package app

import (
	"context"
	"time"

	"schedscaler/internal/eventbus"
	"schedscaler/internal/storage"
	logx "schedscaler/pkg/logx"
)

// runAudit appends every scale.* event to store until ctx is canceled or
// events is closed. Events already buffered at cancel are still written.
// Write failures are logged and skipped.
func runAudit(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					writeAudit(context.Background(), store, ev, log)
				default:
					return nil
				}
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			writeAudit(ctx, store, ev, log)
		}
	}
}

func writeAudit(ctx context.Context, store storage.Store, ev eventbus.Event, log logx.Logger) {
	rec, ok := scaleRecord(ev)
	if !ok {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := store.AppendScale(wctx, rec); err != nil {
		log.Warn("audit write failed",
			logx.String("resource", rec.Kind+" "+rec.Namespace+"/"+rec.Name),
			logx.String("outcome", rec.Outcome),
			logx.Err(err),
		)
	}
}

func scaleRecord(ev eventbus.Event) (storage.ScaleRecord, bool) {
	se, ok := ev.Data.(eventbus.ScaleEvent)
	if !ok {
		return storage.ScaleRecord{}, false
	}
	var outcome string
	switch ev.Type {
	case eventbus.TypeScaleApplied:
		outcome = storage.OutcomeApplied
	case eventbus.TypeScaleDryRun:
		outcome = storage.OutcomeDryRun
	case eventbus.TypeScaleFailed:
		outcome = storage.OutcomeFailed
	default:
		return storage.ScaleRecord{}, false
	}
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	return storage.ScaleRecord{
		At:        at.UTC(),
		Kind:      se.Kind,
		Namespace: se.Namespace,
		Name:      se.Name,
		From:      se.From,
		To:        se.To,
		Schedule:  se.Schedule,
		Source:    se.Source,
		FiredAt:   se.FiredAt.UTC(),
		Outcome:   outcome,
		Error:     se.Error,
	}, true
}
