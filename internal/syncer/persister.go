package syncer

import (
	"context"
	"errors"
	"time"

	"dbinventory/internal/core"
	"dbinventory/internal/logger"
	"dbinventory/internal/metrics"
)

const DefaultBatchSize = 100

// ApplyResult is the outcome of applying a change list.
type ApplyResult struct {
	Counts        core.ChangeCounts
	Errors        []core.RecordError
	Batches       int
	FailedBatches int
}

// Persister is the only writer of account rows.
type Persister struct {
	accounts core.AccountRepository
	now      func() time.Time
}

func NewPersister(accounts core.AccountRepository) *Persister {
	return &Persister{accounts: accounts, now: time.Now}
}

// Apply writes changes in batches of batchSize, each in its own transaction.
// A failed batch is rolled back and reported in the result; later batches
// still run. Apply fails only when every batch failed.
func (p *Persister) Apply(ctx context.Context, inst core.Instance, changes core.ChangeList, batchSize int) (ApplyResult, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	log := logger.With("persister").With().Int64("instance_id", inst.ID).Logger()

	var res ApplyResult
	var lastErr error
	now := p.now()
	for start := 0; start < len(changes); start += batchSize {
		end := min(start+batchSize, len(changes))
		batch := changes[start:end]
		res.Batches++

		counts, err := p.accounts.ApplyBatch(ctx, inst.ID, inst.Vendor, batch, now)
		if err != nil {
			lastErr = err
			res.FailedBatches++
			metrics.PersistBatchFailures.Inc()
			res.Errors = append(res.Errors, batchError(batch, err))
			log.Warn().Err(err).Int("batch", res.Batches).Int("size", len(batch)).Msg("batch rolled back")
			continue
		}
		res.Counts.Add(counts)
	}

	metrics.AccountChangesTotal.WithLabelValues(string(core.ChangeCreate)).Add(float64(res.Counts.Created))
	metrics.AccountChangesTotal.WithLabelValues(string(core.ChangeUpdate)).Add(float64(res.Counts.Updated))
	metrics.AccountChangesTotal.WithLabelValues(string(core.ChangeTombstone)).Add(float64(res.Counts.Deleted))

	if res.Batches > 0 && res.FailedBatches == res.Batches {
		return res, core.E(core.CodePersist, "persister.apply", lastErr)
	}
	return res, nil
}

// batchError names the change that broke the batch when the store reports it.
func batchError(batch core.ChangeList, err error) core.RecordError {
	var ce *core.ChangeError
	if errors.As(err, &ce) {
		return core.RecordError{Account: ce.Change.Key.String(), Kind: string(ce.Change.Kind), Error: ce.Err.Error()}
	}
	return core.RecordError{
		Account: batch[0].Key.String() + ".." + batch[len(batch)-1].Key.String(),
		Kind:    "batch",
		Error:   err.Error(),
	}
}
