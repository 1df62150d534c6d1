package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

// ViolationStore persists recorded violations in Postgres.
type ViolationStore struct {
	pool *pgxpool.Pool
}

// InitDB applies migrations and opens a connection pool.
func InitDB(ctx context.Context, dsn string) (*ViolationStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is empty")
	}
	if err := Migrate(dsn); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	cfg.MaxConns = 25
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("postgres violation store initialized", "max_conns", cfg.MaxConns)
	return &ViolationStore{pool: pool}, nil
}

// Migrate brings the schema up to date with goose.
func Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, migrationsDir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *ViolationStore) Name() string {
	return "postgres"
}

const insertViolation = `
	INSERT INTO violations (
		fingerprint, session_id, source_id, track_id, reason, severity,
		missing_ppe, score, record_count, has_face,
		box_x, box_y, box_width, box_height, recorded_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (fingerprint) DO NOTHING`

// Record stores one violation. Replays of the same event are ignored.
func (s *ViolationStore) Record(ctx context.Context, ev models.ViolationEvent) error {
	if ev.Fingerprint == "" {
		ev.Fingerprint = ev.ComputeFingerprint()
	}
	missing := ev.MissingPPE
	if missing == nil {
		missing = []string{}
	}
	_, err := s.pool.Exec(ctx, insertViolation,
		ev.Fingerprint, ev.SessionID, ev.SourceID, ev.TrackID, string(ev.Reason), string(ev.Severity),
		missing, ev.Score, ev.RecordCount, ev.HasFace,
		ev.Box.X, ev.Box.Y, ev.Box.Width, ev.Box.Height, ev.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert violation: %w", err)
	}
	return nil
}

type ListFilter struct {
	SourceID string
	Since    time.Time
	Limit    int
}

const selectViolations = `
	SELECT id, fingerprint, session_id, source_id, track_id, reason, severity,
		missing_ppe, score, record_count, has_face,
		box_x, box_y, box_width, box_height, recorded_at
	FROM violations
	WHERE ($1 = '' OR source_id = $1) AND recorded_at >= $2
	ORDER BY recorded_at DESC, id DESC
	LIMIT $3`

func (s *ViolationStore) List(ctx context.Context, f ListFilter) ([]models.ViolationEvent, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	rows, err := s.pool.Query(ctx, selectViolations, f.SourceID, f.Since, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	var out []models.ViolationEvent
	for rows.Next() {
		var ev models.ViolationEvent
		var reason, severity string
		if err := rows.Scan(
			&ev.ID, &ev.Fingerprint, &ev.SessionID, &ev.SourceID, &ev.TrackID, &reason, &severity,
			&ev.MissingPPE, &ev.Score, &ev.RecordCount, &ev.HasFace,
			&ev.Box.X, &ev.Box.Y, &ev.Box.Width, &ev.Box.Height, &ev.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		ev.Reason = models.Reason(reason)
		ev.Severity = models.Severity(severity)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violations: %w", err)
	}
	return out, nil
}

func (s *ViolationStore) CountByReason(ctx context.Context) (map[models.Reason]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT reason, COUNT(*) FROM violations GROUP BY reason`)
	if err != nil {
		return nil, fmt.Errorf("count violations: %w", err)
	}
	defer rows.Close()

	out := make(map[models.Reason]int64)
	for rows.Next() {
		var reason string
		var n int64
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("scan violation count: %w", err)
		}
		out[models.Reason(reason)] = n
	}
	return out, rows.Err()
}

func (s *ViolationStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *ViolationStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
		slog.Info("postgres violation store closed")
	}
}
