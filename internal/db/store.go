package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/strava-sync/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ActivityStore is the idempotent persistence contract for activity records.
// Records are keyed by (account, activity); writes are last-writer-wins.
type ActivityStore interface {
	// UpsertActivity inserts the record or overwrites every field of the stored one
	UpsertActivity(ctx context.Context, activity *models.Activity) (models.UpsertResult, error)

	// DeleteActivity removes the record if present
	DeleteActivity(ctx context.Context, accountID, activityID int64) (models.DeleteResult, error)

	// ActivityExists reports whether a record is stored
	ActivityExists(ctx context.Context, accountID, activityID int64) (bool, error)

	// GetActivity loads one record
	GetActivity(ctx context.Context, accountID, activityID int64) (*models.Activity, error)

	// ListActivities returns an account's records, newest first, with the total match count
	ListActivities(ctx context.Context, accountID int64, q models.ActivityQuery) ([]*models.Activity, int64, error)

	// Summary aggregates records per account
	Summary(ctx context.Context, filter models.SummaryFilter) ([]*models.ActivitySummary, error)
}

// AccountStore holds tracked accounts, their credentials and sync cursors
type AccountStore interface {
	// SeedAccount registers a configured account. Stored credentials are only
	// replaced by seeded ones that expire later.
	SeedAccount(ctx context.Context, account *models.Account) error

	GetAccount(ctx context.Context, accountID int64) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)

	// SaveCredential stores a refreshed token pair and marks the account active
	SaveCredential(ctx context.Context, accountID int64, cred models.Credential) error

	// MarkAuthRequired flags the account until it is re-authorized out of band
	MarkAuthRequired(ctx context.Context, accountID int64, reason string) error

	// UpdateCursor records a successful sync. The last activity time only moves forward.
	UpdateCursor(ctx context.Context, accountID int64, lastActivityAt *time.Time, syncedAt time.Time) error
}

// StatusStore persists per-account worker status
type StatusStore interface {
	GetSyncStatus(ctx context.Context, accountID int64) (*models.SyncStatus, error)
	UpdateSyncStatus(ctx context.Context, status *models.SyncStatus) error
	ListSyncStatuses(ctx context.Context) ([]*models.SyncStatus, error)
}

// Store defines the interface for database operations
type Store interface {
	ActivityStore
	AccountStore
	StatusStore

	Ping(ctx context.Context) error
	Close() error
}

// PostgresStore implements Store on PostgreSQL via lib/pq
type PostgresStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewPostgresStore(connectionString string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Migrate applies the embedded schema migrations
func (s *PostgresStore) Migrate() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
