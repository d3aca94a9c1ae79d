package storage

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
)

type ClickHouse struct {
	conn driver.Conn
}

// AlertRow represents a row in the alerts table
type AlertRow struct {
	AlertID     string
	Type        string
	Severity    string
	SessionID   string
	Title       string
	Description string
	Timestamp   time.Time
	X           *float64
	Y           *float64
	Details     string
	PublishedAt time.Time
}

// SessionRow represents a row in the sessions table
type SessionRow struct {
	SessionID       string
	StartedAt       time.Time
	EndedAt         time.Time
	DurationMs      uint64
	Browser         string
	BrowserVersion  string
	OS              string
	DeviceType      string
	Samples         uint32
	InvalidSamples  uint32
	AlertsCount     uint32
	EyeStrainCount  uint32
	MultipleFaces   uint32
	NoFaceCount     uint32
	MultipleScreens uint32
	ErrorsCount     uint32
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		alert_id UUID,
		type LowCardinality(String),
		severity LowCardinality(String),
		session_id String,
		title String,
		description String,
		timestamp DateTime64(3),
		x Nullable(Float64),
		y Nullable(Float64),
		details String,
		published_at DateTime64(3)
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (session_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id String,
		started_at DateTime64(3),
		ended_at DateTime64(3),
		duration_ms UInt64,
		browser LowCardinality(String),
		browser_version String,
		os LowCardinality(String),
		device_type LowCardinality(String),
		samples UInt32,
		invalid_samples UInt32,
		alerts_count UInt32,
		eye_strain_count UInt32,
		multiple_faces_count UInt32,
		no_face_count UInt32,
		multiple_screens_count UInt32,
		errors_count UInt32
	) ENGINE = ReplacingMergeTree(ended_at)
	ORDER BY session_id`,
}

func NewClickHouse(cfg config.ClickHouseConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	return &ClickHouse{conn: conn}, nil
}

// EnsureSchema creates the alerts and sessions tables if they are missing.
func (c *ClickHouse) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if err := c.conn.Exec(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

func (c *ClickHouse) InsertAlerts(ctx context.Context, rows []AlertRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO alerts (
			alert_id, type, severity, session_id,
			title, description, timestamp,
			x, y, details, published_at
		)
	`)
	if err != nil {
		return err
	}

	for _, a := range rows {
		err := batch.Append(
			a.AlertID, a.Type, a.Severity, a.SessionID,
			a.Title, a.Description, a.Timestamp,
			a.X, a.Y, a.Details, a.PublishedAt,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (c *ClickHouse) UpsertSession(ctx context.Context, session SessionRow) error {
	return c.conn.Exec(ctx, `
		INSERT INTO sessions (
			session_id, started_at, ended_at, duration_ms,
			browser, browser_version, os, device_type,
			samples, invalid_samples, alerts_count,
			eye_strain_count, multiple_faces_count, no_face_count,
			multiple_screens_count, errors_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		session.SessionID, session.StartedAt, session.EndedAt, session.DurationMs,
		session.Browser, session.BrowserVersion, session.OS, session.DeviceType,
		session.Samples, session.InvalidSamples, session.AlertsCount,
		session.EyeStrainCount, session.MultipleFaces, session.NoFaceCount,
		session.MultipleScreens, session.ErrorsCount,
	)
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
