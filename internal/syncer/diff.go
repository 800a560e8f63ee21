package syncer

import (
	"context"
	"fmt"
	"sort"

	"dbinventory/internal/core"
)

// Differ turns a snapshot into a change list against the stored accounts.
type Differ struct {
	accounts core.AccountRepository
}

func NewDiffer(accounts core.AccountRepository) *Differ {
	return &Differ{accounts: accounts}
}

// Diff loads the active accounts of the instance and compares them with
// the snapshot.
func (d *Differ) Diff(ctx context.Context, instanceID int64, snapshot []core.AccountRecord) (core.ChangeList, error) {
	current, err := d.accounts.ListActiveByInstance(ctx, instanceID)
	if err != nil {
		return nil, core.E(core.CodePersist, "diff.load", err)
	}
	return Diff(current, snapshot)
}

// Diff compares stored accounts with a fresh snapshot. Keys include the
// MySQL host, so alice@% and alice@localhost never merge. The result holds
// creates, updates, tombstones and no-change entries in that order, each
// group sorted by key.
func Diff(current []core.Account, snapshot []core.AccountRecord) (core.ChangeList, error) {
	stored := make(map[core.AccountKey]*core.Account, len(current))
	for i := range current {
		a := &current[i]
		stored[a.Key()] = a
	}

	var creates, updates, tombstones, unchanged core.ChangeList
	seen := make(map[core.AccountKey]struct{}, len(snapshot))
	for i := range snapshot {
		rec := &snapshot[i]
		key := rec.Key()
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate account %s in snapshot", key)
		}
		seen[key] = struct{}{}

		hash, err := core.StructuralHash(*rec)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", key, err)
		}
		prev, ok := stored[key]
		switch {
		case !ok:
			creates = append(creates, core.Change{Kind: core.ChangeCreate, Key: key, Record: rec, Hash: hash})
		case prev.Hash != hash || !sameErrors(prev.Errors, rec.Errors):
			updates = append(updates, core.Change{Kind: core.ChangeUpdate, Key: key, Record: rec, Prev: prev, Hash: hash})
		default:
			unchanged = append(unchanged, core.Change{Kind: core.ChangeNoChange, Key: key, Record: rec, Prev: prev, Hash: hash})
		}
	}
	for key, prev := range stored {
		if _, ok := seen[key]; !ok {
			tombstones = append(tombstones, core.Change{Kind: core.ChangeTombstone, Key: key, Prev: prev, Hash: prev.Hash})
		}
	}

	out := make(core.ChangeList, 0, len(snapshot)+len(tombstones))
	for _, group := range []core.ChangeList{creates, updates, tombstones, unchanged} {
		sort.SliceStable(group, func(i, j int) bool { return group[i].Key.Less(group[j].Key) })
		out = append(out, group...)
	}
	return out, nil
}

func sameErrors(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
