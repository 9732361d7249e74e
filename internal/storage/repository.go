// ABOUTME: Repository interface for coach data storage.
// ABOUTME: Defines the contract used by ingest, the ledger, retention, and export.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/harperreed/coach/internal/models"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("not found")

// Repository defines the storage interface for coach data.
// This interface allows swapping implementations (e.g., for testing).
type Repository interface {
	// Athlete operations
	UpsertAthlete(ctx context.Context, a *models.Athlete) error
	GetAthlete(ctx context.Context, userID string) (*models.Athlete, error)
	EnsureAthlete(ctx context.Context, a *models.Athlete) (bool, error)
	ListAthletes(ctx context.Context) ([]*models.Athlete, error)

	// Activity and load operations
	UpsertActivity(ctx context.Context, a *models.Activity) error
	GetActivity(ctx context.Context, id string) (*models.Activity, error)
	ListActivities(ctx context.Context, userID string, from, to models.Day) ([]*models.Activity, error)
	SaveActivityLoad(ctx context.Context, a *models.Activity, load models.NormalizedLoad) error
	ListNormalizedLoads(ctx context.Context, userID string, from, to models.Day) ([]models.NormalizedLoad, error)

	// Aggregate operations
	UpsertDailyAggregate(ctx context.Context, agg models.DailyAggregate) error
	ListDailyAggregates(ctx context.Context, userID string, from, to models.Day) ([]models.DailyAggregate, error)

	// Observation operations
	CreateObservation(ctx context.Context, o *models.Observation) error
	ListObservations(ctx context.Context, userID string, limit int) ([]*models.Observation, error)

	LedgerStore
	Pruner

	// Export/Import
	GetAllData(ctx context.Context) (*ExportData, error)
	ImportData(ctx context.Context, data *ExportData) error

	// Lifecycle
	Close() error
}

// LedgerStore is the storage the recommendation ledger needs.
type LedgerStore interface {
	GetAthlete(ctx context.Context, userID string) (*models.Athlete, error)
	ListDailyAggregates(ctx context.Context, userID string, from, to models.Day) ([]models.DailyAggregate, error)

	GetRecommendation(ctx context.Context, userID string, target models.Day) (*models.Recommendation, error)
	LatestRecommendation(ctx context.Context, userID string) (*models.Recommendation, error)
	ListRecommendations(ctx context.Context, userID string, limit int) ([]*models.Recommendation, error)

	// ClaimGeneration atomically reserves (userID, target) for token. A claim
	// older than staleBefore may be taken over. It reports whether token holds
	// the claim afterwards.
	ClaimGeneration(ctx context.Context, userID string, target models.Day, token string, source models.SourcePath, now, staleBefore time.Time) (bool, error)
	ClaimActive(ctx context.Context, userID string, target models.Day) (bool, error)
	ReleaseClaim(ctx context.Context, userID string, target models.Day, token string) error

	// CommitRecommendation inserts rec unless a row for its key exists and
	// drops token's claim in the same transaction. It reports whether rec was
	// inserted.
	CommitRecommendation(ctx context.Context, rec *models.Recommendation, token string) (bool, error)

	LogGeneration(ctx context.Context, e *models.GenerationLogEntry) error
	ListGenerationLog(ctx context.Context, userID string, limit int) ([]*models.GenerationLogEntry, error)
}

// Pruner deletes rows older than a cutoff under a named policy.
type Pruner interface {
	PruneBefore(ctx context.Context, target PruneTarget, cutoff models.Day) (int64, error)
}
