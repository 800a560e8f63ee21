package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"dbinventory/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// batchRepo records batches and fails those whose first key is in failOn.
type batchRepo struct {
	core.AccountRepository
	failOn  map[string]bool
	batches []core.ChangeList
}

func (r *batchRepo) ApplyBatch(_ context.Context, _ int64, _ core.Vendor, batch core.ChangeList, _ time.Time) (core.ChangeCounts, error) {
	r.batches = append(r.batches, batch)
	if r.failOn[batch[0].Key.String()] {
		return core.ChangeCounts{}, &core.ChangeError{Change: batch[0], Err: errors.New("constraint failed")}
	}
	return batch.Count(), nil
}

func creates(n int) core.ChangeList {
	var cl core.ChangeList
	for i := 0; i < n; i++ {
		rec := mysqlRec(fmt.Sprintf("u%02d", i), "%")
		cl = append(cl, core.Change{Kind: core.ChangeCreate, Key: rec.Key(), Record: &rec})
	}
	return cl
}

func TestApplyBatches(t *testing.T) {
	repo := &batchRepo{}
	p := NewPersister(repo)
	res, err := p.Apply(context.Background(), core.Instance{ID: 1, Vendor: core.VendorMySQL}, creates(5), 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Batches)
	assert.Len(t, repo.batches[2], 1)
	assert.Equal(t, 5, res.Counts.Created)
	assert.Empty(t, res.Errors)
}

func TestApplyPartialBatchFailure(t *testing.T) {
	repo := &batchRepo{failOn: map[string]bool{"u02@%": true}}
	p := NewPersister(repo)
	res, err := p.Apply(context.Background(), core.Instance{ID: 1, Vendor: core.VendorMySQL}, creates(6), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedBatches)
	assert.Equal(t, 4, res.Counts.Created)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "u02@%", res.Errors[0].Account)
	assert.Equal(t, "create", res.Errors[0].Kind)
}

func TestApplyAllBatchesFail(t *testing.T) {
	repo := &batchRepo{failOn: map[string]bool{"u00@%": true}}
	p := NewPersister(repo)
	res, err := p.Apply(context.Background(), core.Instance{ID: 1, Vendor: core.VendorMySQL}, creates(1), 0)
	assert.True(t, core.IsCode(err, core.CodePersist))
	assert.Equal(t, 1, res.FailedBatches)
}

func TestApplyEmptyChangeList(t *testing.T) {
	p := NewPersister(&batchRepo{})
	res, err := p.Apply(context.Background(), core.Instance{ID: 1}, nil, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Batches)
}
