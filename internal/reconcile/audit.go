package reconcile

import (
	"context"
	"errors"
	"log"

	"github.com/scrypster/tessera/pkg/types"
)

// AuditSink receives one event per executed merge.
type AuditSink interface {
	RecordMerge(ctx context.Context, event *types.MergeEvent) error
}

// LogSink writes merge events to the standard logger.
type LogSink struct{}

// RecordMerge implements AuditSink.
func (LogSink) RecordMerge(_ context.Context, e *types.MergeEvent) error {
	mode := "approved"
	if e.Auto {
		mode = "auto"
	}
	log.Printf("reconcile: merged %s into %s (%s, similarity %.3f, %d conflicts, %d relationships moved, reason: %q)",
		e.AbsorbedID, e.PrimaryID, mode, e.Similarity, len(e.Conflicts), e.TransferredRelations, e.Reason)
	return nil
}

// MultiSink fans an event out to every sink. All sinks are called; the
// returned error joins their failures.
type MultiSink []AuditSink

// RecordMerge implements AuditSink.
func (m MultiSink) RecordMerge(ctx context.Context, e *types.MergeEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.RecordMerge(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
