package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// AcquireLock claims or renews a named singleton lock. A live lock held by
// someone else blocks the claim; an expired one is taken over. The holder
// renews by re-acquiring before expiry.
func (r *Repository) AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	var got string
	err := r.db.QueryRow(ctx, `
		INSERT INTO pipeline_locks (name, holder, expires_at)
		VALUES ($1, $2, NOW() + $3::interval)
		ON CONFLICT (name) DO UPDATE SET
			holder = EXCLUDED.holder,
			expires_at = EXCLUDED.expires_at
		WHERE pipeline_locks.holder = EXCLUDED.holder
		   OR pipeline_locks.expires_at < NOW()
		RETURNING holder`,
		name, holder, ttl.String(),
	).Scan(&got)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return got == holder, nil
}

// ReleaseLock drops the lock if we still hold it.
func (r *Repository) ReleaseLock(ctx context.Context, name, holder string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM pipeline_locks WHERE name = $1 AND holder = $2`, name, holder)
	return err
}
