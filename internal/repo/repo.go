package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Repo is the contact store. All shared state lives here; the engine and
// server never hold mutable state across requests.
type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")

	// ErrStoreTimeout wraps store operations that exceeded the bounded
	// per-operation timeout. Retryable by the caller.
	ErrStoreTimeout = errors.New("store timeout")

	// ErrStoreUnavailable wraps transient store faults such as a busy or
	// locked database file. Retryable by the caller.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// opTimeout bounds every store operation so nothing blocks indefinitely.
const opTimeout = 5 * time.Second

func (r Repo) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, opTimeout)
}

// classify maps context expiry and transient driver faults onto the
// store error categories so callers can distinguish retryable
// infrastructure faults from domain errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStoreTimeout, err)
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return err
}

func builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func optionalString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
