package repo

import (
	"context"
	"database/sql"
	"time"

	"leadline/internal/domain"
)

// AcquireSweepLease takes the named advisory lease if it is free, expired,
// or already held by the same owner. The read and the upsert share one
// transaction so two overlapping sweeps cannot both win.
func (r Repo) AcquireSweepLease(ctx context.Context, name, ownerID string, now time.Time, ttl time.Duration) (bool, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, classify(err)
	}
	defer tx.Rollback()

	var existing domain.SweepLease
	err = tx.QueryRowContext(ctx, `SELECT name,owner_id,acquired_at,expires_at FROM sweep_leases WHERE name=?`, name).
		Scan(&existing.Name, &existing.OwnerID, &existing.AcquiredAt, &existing.ExpiresAt)
	if err != nil && err != sql.ErrNoRows {
		return false, classify(err)
	}
	if err == nil && existing.OwnerID != ownerID {
		exp, perr := time.Parse(time.RFC3339, existing.ExpiresAt)
		if perr == nil && now.Before(exp) {
			return false, nil
		}
		// expired lease is considered abandoned and may be superseded
	}
	lease := domain.SweepLease{
		Name:       name,
		OwnerID:    ownerID,
		AcquiredAt: now.UTC().Format(time.RFC3339),
		ExpiresAt:  now.Add(ttl).UTC().Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO sweep_leases(name,owner_id,acquired_at,expires_at) VALUES (?,?,?,?)
ON CONFLICT(name) DO UPDATE SET owner_id=excluded.owner_id, acquired_at=excluded.acquired_at, expires_at=excluded.expires_at`,
		lease.Name, lease.OwnerID, lease.AcquiredAt, lease.ExpiresAt); err != nil {
		return false, classify(err)
	}
	if err := tx.Commit(); err != nil {
		return false, classify(err)
	}
	return true, nil
}

// ReleaseSweepLease drops the lease if still held by ownerID. Best effort:
// an expired-and-superseded lease belongs to someone else and is left alone.
func (r Repo) ReleaseSweepLease(ctx context.Context, name, ownerID string) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	_, err := r.DB.ExecContext(ctx, `DELETE FROM sweep_leases WHERE name=? AND owner_id=?`, name, ownerID)
	return classify(err)
}

// GetSweepLease returns the current lease row for inspection.
func (r Repo) GetSweepLease(ctx context.Context, name string) (domain.SweepLease, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var l domain.SweepLease
	err := r.DB.QueryRowContext(ctx, `SELECT name,owner_id,acquired_at,expires_at FROM sweep_leases WHERE name=?`, name).
		Scan(&l.Name, &l.OwnerID, &l.AcquiredAt, &l.ExpiresAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, classify(err)
}
