// Package history provides an optional PostgreSQL audit log of hospital
// searches and notification job outcomes.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Client wraps a PostgreSQL database connection
type Client struct {
	db *sql.DB
}

// SearchRecord is one completed or failed hospital search.
type SearchRecord struct {
	ID             int64     `json:"id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	RadiusKM       int       `json:"radius_km"`
	HospitalsFound int       `json:"hospitals_found"`
	NearestKM      float64   `json:"nearest_km"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NotificationRecord is the final state of a notification job as the
// client last saw it.
type NotificationRecord struct {
	ID           int64     `json:"id"`
	JobID        string    `json:"job_id"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	RadiusKM     int       `json:"radius_km"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS locator_searches (
	id              BIGSERIAL PRIMARY KEY,
	latitude        DOUBLE PRECISION NOT NULL,
	longitude       DOUBLE PRECISION NOT NULL,
	radius_km       INTEGER NOT NULL,
	hospitals_found INTEGER NOT NULL DEFAULT 0,
	nearest_km      DOUBLE PRECISION,
	error           TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS locator_notifications (
	id            BIGSERIAL PRIMARY KEY,
	job_id        TEXT NOT NULL,
	latitude      DOUBLE PRECISION NOT NULL,
	longitude     DOUBLE PRECISION NOT NULL,
	radius_km     INTEGER NOT NULL,
	status        TEXT NOT NULL,
	error_message TEXT,
	attempts      INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// NewClient creates a new database client with connection pooling
func NewClient(dsn string) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (also failed to close: %w)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// EnsureSchema creates the audit tables if they do not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RecordSearch stores a search outcome.
func (c *Client) RecordSearch(ctx context.Context, r SearchRecord) error {
	query := `
		INSERT INTO locator_searches
			(latitude, longitude, radius_km, hospitals_found, nearest_km, error)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := c.db.ExecContext(ctx, query,
		r.Latitude, r.Longitude, r.RadiusKM, r.HospitalsFound,
		nullFloat(r.NearestKM, r.HospitalsFound > 0), nullString(r.Error),
	)
	if err != nil {
		return fmt.Errorf("insert search failed: %w", err)
	}
	return nil
}

// RecordNotification stores a notification job outcome.
func (c *Client) RecordNotification(ctx context.Context, r NotificationRecord) error {
	query := `
		INSERT INTO locator_notifications
			(job_id, latitude, longitude, radius_km, status, error_message, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := c.db.ExecContext(ctx, query,
		r.JobID, r.Latitude, r.Longitude, r.RadiusKM, r.Status,
		nullString(r.ErrorMessage), r.Attempts,
	)
	if err != nil {
		return fmt.Errorf("insert notification failed: %w", err)
	}
	return nil
}

// RecentSearches returns the latest searches, newest first.
func (c *Client) RecentSearches(ctx context.Context, limit int) ([]SearchRecord, error) {
	query := `
		SELECT id, latitude, longitude, radius_km, hospitals_found, nearest_km, error, created_at
		FROM locator_searches
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`

	rows, err := c.db.QueryContext(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }() // nolint:errcheck // Close in defer, error not actionable

	var records []SearchRecord
	for rows.Next() {
		var r SearchRecord
		var nearest sql.NullFloat64
		var searchErr sql.NullString

		if err := rows.Scan(
			&r.ID,
			&r.Latitude,
			&r.Longitude,
			&r.RadiusKM,
			&r.HospitalsFound,
			&nearest,
			&searchErr,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		// Convert NULL values to zero values
		if nearest.Valid {
			r.NearestKM = nearest.Float64
		}
		if searchErr.Valid {
			r.Error = searchErr.String
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return records, nil
}

// RecentNotifications returns the latest notification outcomes, newest first.
func (c *Client) RecentNotifications(ctx context.Context, limit int) ([]NotificationRecord, error) {
	query := `
		SELECT id, job_id, latitude, longitude, radius_km, status, error_message, attempts, created_at
		FROM locator_notifications
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`

	rows, err := c.db.QueryContext(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }() // nolint:errcheck // Close in defer, error not actionable

	var records []NotificationRecord
	for rows.Next() {
		var r NotificationRecord
		var errMsg sql.NullString

		if err := rows.Scan(
			&r.ID,
			&r.JobID,
			&r.Latitude,
			&r.Longitude,
			&r.RadiusKM,
			&r.Status,
			&errMsg,
			&r.Attempts,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		if errMsg.Valid {
			r.ErrorMessage = errMsg.String
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return records, nil
}

// HealthCheck verifies database connectivity
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f float64, valid bool) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: valid}
}

// clampLimit keeps page sizes between 1 and 500.
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}
