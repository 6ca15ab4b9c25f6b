// Package audit persists every liquidation attempt the bot submits. Sqlite
// files back single-node deployments; postgres:// DSNs select Postgres.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Attempt outcomes.
const (
	OutcomeLiquidated = "liquidated"
	OutcomeRetried    = "retried"
	OutcomeHealthy    = "healthy"
	OutcomeFailed     = "failed"
)

// ErrDSNRequired is returned when Open is called without a DSN.
var ErrDSNRequired = errors.New("audit: dsn required")

// Attempt records one flash liquidation submission and its result.
type Attempt struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoundID          uuid.UUID `gorm:"type:uuid;index"`
	Borrower         string    `gorm:"size:42;index"`
	RepayMarket      string    `gorm:"size:42"`
	CollateralMarket string    `gorm:"size:42"`
	Attempt          int       `gorm:"not null"`
	RepayAmount      string    `gorm:"size:80"`
	MinProfit        string    `gorm:"size:80"`
	Outcome          string    `gorm:"size:32;index"`
	Code             string    `gorm:"size:64"`
	Error            string    `gorm:"size:512"`
	SeizedTokens     string    `gorm:"size:80"`
	Fee              string    `gorm:"size:80"`
	Profit           string    `gorm:"size:80"`
	Block            uint64
	CreatedAt        time.Time `gorm:"index"`
}

// TableName pins the table name independent of the struct name.
func (Attempt) TableName() string { return "liquidation_attempts" }

// Store is the gorm-backed attempt log.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	db, err := gorm.Open(dialector(trimmed), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: database required")
	}
	if err := db.AutoMigrate(&Attempt{}); err != nil {
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// IsPostgres reports whether dsn selects the Postgres driver.
func IsPostgres(dsn string) bool {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

func dialector(dsn string) gorm.Dialector {
	if IsPostgres(dsn) {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// Record stores attempt, assigning an id and timestamp when unset.
func (s *Store) Record(ctx context.Context, attempt *Attempt) error {
	if attempt == nil {
		return fmt.Errorf("audit: attempt required")
	}
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = s.now().UTC()
	}
	if len(attempt.Error) > 512 {
		attempt.Error = attempt.Error[:512]
	}
	return s.db.WithContext(ctx).Create(attempt).Error
}

// Recent returns up to limit attempts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Attempt
	err := s.db.WithContext(ctx).Order("created_at DESC").Order("attempt DESC").Limit(limit).Find(&out).Error
	return out, err
}

// Borrower returns every attempt against borrower in submission order.
func (s *Store) Borrower(ctx context.Context, borrower string) ([]Attempt, error) {
	var out []Attempt
	err := s.db.WithContext(ctx).
		Where("LOWER(borrower) = ?", strings.ToLower(strings.TrimSpace(borrower))).
		Order("created_at ASC").Order("attempt ASC").
		Find(&out).Error
	return out, err
}

// Outcomes counts attempts per outcome.
func (s *Store) Outcomes(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Outcome string
		Total   int64
	}
	err := s.db.WithContext(ctx).Model(&Attempt{}).
		Select("outcome, COUNT(*) AS total").
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Outcome] = row.Total
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
