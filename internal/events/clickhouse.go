package events

import (
	"context"
	"fmt"
	"regexp"

	"contact-service/internal/models"
)

// Execer is the subset of the ClickHouse client used by ClickHouseSink.
type Execer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ClickHouseSink inserts one row per event into a MergeTree table.
type ClickHouseSink struct {
	conn  Execer
	table string
}

func NewClickHouseSink(conn Execer, table string) (*ClickHouseSink, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", table)
	}
	return &ClickHouseSink{conn: conn, table: table}, nil
}

// EnsureTable creates the events table if it does not exist.
func (c *ClickHouseSink) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	event_type    LowCardinality(String),
	reason        LowCardinality(String),
	submission_id String,
	language      LowCardinality(String),
	ip_hash       UInt64,
	occurred_at   DateTime64(3, 'UTC')
) ENGINE = MergeTree
PARTITION BY toYYYYMM(occurred_at)
ORDER BY (event_type, occurred_at)
TTL toDateTime(occurred_at) + INTERVAL 90 DAY`, c.table)

	if err := c.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", c.table, err)
	}
	return nil
}

func (c *ClickHouseSink) Publish(ctx context.Context, event models.FormEvent) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (event_type, reason, submission_id, language, ip_hash, occurred_at) VALUES (?, ?, ?, ?, ?, ?)",
		c.table,
	)
	err := c.conn.Exec(ctx, query,
		event.Type,
		event.Reason,
		event.SubmissionID,
		event.Language,
		event.IPHash,
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}
