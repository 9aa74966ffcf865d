package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pts-server/pts-server-pro/internal/models"
)

// CreateEventLog creates an event log entry
func (s *PostgresStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO event_logs (
			id, created_at, pts_id, type, level, description, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.CreatedAt, event.PtsID, event.Type,
		event.Level, event.Description, event.Details,
	)

	return err
}

// ListEventLogs lists event logs with filters
func (s *PostgresStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	// Build query with filters
	query := "SELECT COUNT(*) FROM event_logs WHERE 1=1"
	args := []interface{}{}
	argCount := 0

	if filters.PtsID != "" {
		argCount++
		query += fmt.Sprintf(" AND pts_id = $%d", argCount)
		args = append(args, filters.PtsID)
	}

	if filters.Type != nil {
		argCount++
		query += fmt.Sprintf(" AND type = $%d", argCount)
		args = append(args, *filters.Type)
	}

	if filters.Level != nil {
		argCount++
		query += fmt.Sprintf(" AND level = $%d", argCount)
		args = append(args, *filters.Level)
	}

	if filters.StartTime != nil {
		argCount++
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filters.StartTime)
	}

	if filters.EndTime != nil {
		argCount++
		query += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filters.EndTime)
	}

	// Get count
	var count int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	// Get rows
	selectQuery := strings.Replace(query, "SELECT COUNT(*)",
		"SELECT id, created_at, pts_id, type, level, description, details", 1)

	argCount++
	selectQuery += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argCount)
	args = append(args, limit)

	argCount++
	selectQuery += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, offset)

	rows, err := s.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*models.EventLog
	for rows.Next() {
		event := &models.EventLog{}

		err := rows.Scan(
			&event.ID, &event.CreatedAt, &event.PtsID, &event.Type,
			&event.Level, &event.Description, &event.Details,
		)
		if err != nil {
			return nil, 0, err
		}

		events = append(events, event)
	}

	return events, count, nil
}
