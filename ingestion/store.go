package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/retry"
	"github.com/poiesic/docvec/vectorstore"
)

// storeStage writes embedded chunks to the owner's collection.
type storeStage struct {
	vectors  *vectorstore.Manager
	attempts int
	backoff  time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

var _ stage = (*storeStage)(nil)

func (s *storeStage) name() core.Stage { return core.StageStoring }

func (s *storeStage) percent() int { return percentStoring }

func (s *storeStage) execute(ctx context.Context, r *run) error {
	records := s.records(r)
	if len(records) == 0 {
		return nil
	}

	var result vectorstore.InsertResult
	err := retry.WithBackoff(ctx, func() error {
		callCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		res, err := s.vectors.Insert(callCtx, r.doc.UserID, records)
		if err != nil {
			s.logger.Warn("insert failed", "document", r.doc.ID, "records", len(records), "err", err)
			return err
		}
		result = res
		return nil
	}, s.attempts, s.backoff)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", core.ErrStorageTransient, err)
	}

	r.inserted = result.Inserted
	r.becameNonEmpty = result.BecameNonEmpty
	return nil
}

// records builds one record per successfully embedded chunk.
func (s *storeStage) records(r *run) []*core.VectorRecord {
	now := time.Now().UTC()
	source := filepath.Base(r.doc.SourcePath)
	records := make([]*core.VectorRecord, 0, len(r.chunks))
	for i, c := range r.chunks {
		if i >= len(r.vectors) || r.vectors[i] == nil {
			continue
		}
		metadata := map[string]string{
			"source":     source,
			"chunk":      strconv.Itoa(c.Index),
			"char_start": strconv.Itoa(c.CharStart),
			"char_end":   strconv.Itoa(c.CharEnd),
		}
		if r.pages > 0 {
			metadata["pages"] = strconv.Itoa(r.pages)
		}
		records = append(records, &core.VectorRecord{
			ID:         core.RecordID(r.doc.ID, c.Index),
			UserID:     r.doc.UserID,
			DocumentID: r.doc.ID,
			SessionID:  r.doc.SessionID,
			Text:       c.Text,
			Vector:     r.vectors[i],
			Timestamp:  now,
			Metadata:   metadata,
		})
	}
	return records
}
