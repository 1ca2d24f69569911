package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/Boardroom/internal/domain"
)

// scannable is satisfied by pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// optionalTime passes a zero bound as NULL so the query ignores it.
func optionalTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// lookupErr maps a missing row for artifact id to domain.ErrNotFound.
// version 0 means the latest version was requested.
func lookupErr(err error, id string, version int) error {
	what := "artifact " + id
	if version > 0 {
		what = fmt.Sprintf("artifact %s version %d", id, version)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("get %s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}
