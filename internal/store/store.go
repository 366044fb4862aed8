// Package store is the run ledger: one row per orchestrated strategy run.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tradehub/tradehub-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status   model.RunStatus `json:"status,omitempty"`
	Strategy model.Strategy  `json:"strategy,omitempty"`
	// CreatedAfter keeps runs created strictly after this instant.
	CreatedAfter time.Time `json:"created_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for the run ledger.
type Store interface {
	CreateRun(ctx context.Context, strategy model.Strategy) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	// CompleteRun stores the result and marks the run complete, or failed
	// when any stage ended fatally.
	CompleteRun(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

// ErrRunNotFound is returned by GetRun and the update methods.
var ErrRunNotFound = eris.New("run not found")

// Config selects and configures a backend.
type Config struct {
	Driver      string
	DatabaseURL string
}

// Open returns the configured backend, migrated and ready.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "none":
		return Nop{}, nil
	case "sqlite":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func finalStatus(result *model.RunResult) model.RunStatus {
	if result != nil && result.Fatal() {
		return model.RunStatusFailed
	}
	return model.RunStatusComplete
}

func listLimit(filter RunFilter) int {
	if filter.Limit <= 0 {
		return 100
	}
	return filter.Limit
}
