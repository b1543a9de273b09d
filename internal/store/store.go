package store

import (
	"context"
	"errors"
	"time"

	"github.com/nulzo/prism-router/internal/store/model"
)

var ErrNotFound = errors.New("record not found")

// Repository is the main contract for the data layer.
type Repository interface {
	Routes() RouteRepository
	Usage() UsageRepository

	// transaction support
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Close() error
}

type RouteRepository interface {
	// Log stores a terminal outcome. A succeeded record is never overwritten.
	Log(ctx context.Context, rec *model.RouteRecord) error
	// GetByID returns ErrNotFound when the id was never routed.
	GetByID(ctx context.Context, id string) (*model.RouteRecord, error)
	// GetRecent returns the last N records for a user.
	GetRecent(ctx context.Context, userID string, limit int) ([]model.RouteRecord, error)
}

type UsageQuery struct {
	ProviderID string
	UserID     string
	Since      time.Time
}

type UsageRepository interface {
	// Add increments the counters of the stat's provider, user and bucket.
	Add(ctx context.Context, stat *model.UsageStat) error
	Query(ctx context.Context, q UsageQuery) ([]model.UsageStat, error)
}
