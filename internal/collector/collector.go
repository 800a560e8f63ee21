// Package collector reads account and privilege catalogs from target
// instances. Each vendor adapter issues a fixed number of catalog queries
// regardless of the number of accounts and assembles the results in memory.
package collector

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"dbinventory/internal/config"
	"dbinventory/internal/core"
	"dbinventory/internal/logger"
	"dbinventory/internal/metrics"
)

// Queryer is the read-only surface adapters need from a connection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Snapshot is the full set of accounts of one instance, sorted by key.
type Snapshot struct {
	Records []core.AccountRecord
	// Partial maps a permission category to the reason it could not be read.
	Partial map[string]string
	Notes   []string
}

// Adapter is implemented once per vendor.
type Adapter interface {
	Vendor() core.Vendor
	collect(ctx context.Context, r *runner) ([]core.AccountRecord, error)
}

// For returns the adapter for a vendor tag.
func For(v core.Vendor) (Adapter, error) {
	switch v {
	case core.VendorMySQL:
		return mysqlAdapter{}, nil
	case core.VendorPostgreSQL:
		return postgresAdapter{}, nil
	case core.VendorSQLServer:
		return sqlserverAdapter{}, nil
	case core.VendorOracle:
		return oracleAdapter{}, nil
	}
	return nil, core.Errorf(core.CodeValidation, "collector.for", "unsupported vendor %q", v)
}

type Options struct {
	Filters      config.FilterRules
	QueryTimeout time.Duration
}

// Collector dispatches to the vendor adapter and applies account filters.
type Collector struct {
	opts    Options
	filters map[core.Vendor]*accountFilter
}

func New(opts Options) *Collector {
	if opts.Filters == nil {
		opts.Filters = config.DefaultFilterRules()
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 120 * time.Second
	}
	c := &Collector{opts: opts, filters: make(map[core.Vendor]*accountFilter)}
	for _, v := range core.Vendors {
		c.filters[v] = newAccountFilter(v, opts.Filters[v])
	}
	return c
}

// Collect reads a snapshot of inst through q. A connection that reports its
// own QueryTimeout overrides the collector default.
func (c *Collector) Collect(ctx context.Context, q Queryer, inst core.Instance) (*Snapshot, error) {
	a, err := For(inst.Vendor)
	if err != nil {
		return nil, err
	}
	timeout := c.opts.QueryTimeout
	if t, ok := q.(interface{ QueryTimeout() time.Duration }); ok && t.QueryTimeout() > 0 {
		timeout = t.QueryTimeout()
	}
	r := &runner{q: q, timeout: timeout, vendor: inst.Vendor, partial: map[string]string{}}

	log := logger.With("collector")
	start := time.Now()
	records, err := a.collect(ctx, r)
	if err != nil {
		return nil, err
	}
	snap := finish(records, c.filters[inst.Vendor], r.partial)
	snap.Notes = r.notes

	for category := range snap.Partial {
		metrics.CollectPartialTotal.WithLabelValues(string(inst.Vendor), category).Inc()
	}
	log.Debug().
		Str("instance", inst.Name).
		Int("accounts", len(snap.Records)).
		Int("partial", len(snap.Partial)).
		Dur("elapsed", time.Since(start)).
		Msg("snapshot collected")
	return snap, nil
}

// finish filters, marks unreadable categories, canonicalizes and sorts.
func finish(records []core.AccountRecord, f *accountFilter, partial map[string]string) *Snapshot {
	snap := &Snapshot{Records: make([]core.AccountRecord, 0, len(records))}
	if len(partial) > 0 {
		snap.Partial = partial
	}
	for _, rec := range records {
		if f != nil && !f.Keep(rec.Username) {
			continue
		}
		if rec.Permissions != nil {
			rec.Permissions = rec.Permissions.Canonical()
		}
		if len(partial) > 0 {
			rec.Errors = make(map[string]string, len(partial))
			for k, v := range partial {
				rec.Errors[k] = v
			}
		}
		snap.Records = append(snap.Records, rec)
	}
	sort.Slice(snap.Records, func(i, j int) bool {
		return snap.Records[i].Key().Less(snap.Records[j].Key())
	})
	return snap
}

// runner executes catalog queries for one collect call.
type runner struct {
	q       Queryer
	timeout time.Duration
	vendor  core.Vendor
	partial map[string]string
	notes   []string
}

// each runs one query under the query timeout and hands every row to scan.
func (r *runner) each(ctx context.Context, query string, scan func(*sql.Rows) error, args ...any) error {
	qctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.q.QueryContext(qctx, query, args...)
	if err != nil {
		return classify(ctx, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return core.E(core.CodeCollect, "collector.scan", err)
		}
	}
	if err := rows.Err(); err != nil {
		return classify(ctx, err)
	}
	return nil
}

// required runs a query the snapshot cannot do without. A permission error
// here fails the collect.
func (r *runner) required(ctx context.Context, query string, scan func(*sql.Rows) error, args ...any) error {
	err := r.each(ctx, query, scan, args...)
	if core.IsCode(err, core.CodeCollectPartial) {
		return core.E(core.CodeCollect, "collector.required", err)
	}
	return err
}

// optional runs a query whose permission failure only marks categories as
// unavailable. It reports whether the query succeeded.
func (r *runner) optional(ctx context.Context, categories []string, query string, scan func(*sql.Rows) error, args ...any) (bool, error) {
	err := r.each(ctx, query, scan, args...)
	if err == nil {
		return true, nil
	}
	if !core.IsCode(err, core.CodeCollectPartial) {
		return false, err
	}
	r.markPartial(err.Error(), categories...)
	return false, nil
}

func (r *runner) markPartial(reason string, categories ...string) {
	for _, c := range categories {
		if prev, ok := r.partial[c]; ok && prev != reason {
			r.partial[c] = prev + "; " + reason
			continue
		}
		r.partial[c] = reason
	}
}

func (r *runner) note(msg string) {
	r.notes = append(r.notes, msg)
}

func yes(s string) bool {
	switch s {
	case "Y", "YES", "y", "yes", "1", "true", "TRUE":
		return true
	}
	return false
}
