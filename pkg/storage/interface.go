package storage

import (
	"context"
	"errors"

	"detox/pkg/models"
)

var (
	ErrNotFound = errors.New("record not found")
)

// RunSink receives every finished run.
type RunSink interface {
	// Name identifies the sink in logs.
	Name() string
	// Record stores or forwards a finished run.
	Record(ctx context.Context, run *models.Run) error
}

// RunLister exposes stored run history, newest first.
type RunLister interface {
	ListRecent(ctx context.Context, limit int) ([]models.RunRecord, error)
	// Last returns the most recent run, or ErrNotFound.
	Last(ctx context.Context) (*models.RunRecord, error)
}

// RunStore is a sink that can also be queried.
type RunStore interface {
	RunSink
	RunLister
}
