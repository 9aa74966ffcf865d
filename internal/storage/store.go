package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pts-server/pts-server-pro/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Event log methods. Event logs are append-only: one physical
	// record per protocol event, never updated or deleted.
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	// Tag balance methods
	GetTagBalance(ctx context.Context, tagID string) (*models.TagBalance, error)
	UpsertTagBalance(ctx context.Context, balance *models.TagBalance) error

	// Close the store
	Close() error
}

// EventLogFilters represents filters for event logs
type EventLogFilters struct {
	PtsID     string
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}
