package catalog

import (
	"database/sql"
	"time"
)

// Store runs catalog queries against either the read pool or a write
// transaction.
type Store struct {
	q Querier
}

// NewStore returns a store over q.
func NewStore(q Querier) *Store {
	return &Store{q: q}
}

// Querier returns the underlying querier.
func (s *Store) Querier() Querier {
	return s.q
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func ptrInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
