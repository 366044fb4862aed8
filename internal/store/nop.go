package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/tradehub/tradehub-cli/internal/model"
)

// Nop is the ledger used when store.driver is none. Runs get IDs but
// nothing is kept.
type Nop struct{}

func (Nop) CreateRun(_ context.Context, strategy model.Strategy) (*model.Run, error) {
	now := time.Now().UTC()
	return &model.Run{
		ID:        uuid.New().String(),
		Strategy:  strategy,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (Nop) UpdateRunStatus(context.Context, string, model.RunStatus) error { return nil }

func (Nop) CompleteRun(context.Context, string, *model.RunResult) error { return nil }

func (Nop) GetRun(_ context.Context, runID string) (*model.Run, error) {
	return nil, eris.Wrapf(ErrRunNotFound, "store: %s", runID)
}

func (Nop) ListRuns(context.Context, RunFilter) ([]model.Run, error) { return nil, nil }

func (Nop) Migrate(context.Context) error { return nil }

func (Nop) Close() error { return nil }
