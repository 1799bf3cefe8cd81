package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/insight/config"
	core "github.com/mohammad-safakhou/insight/internal/agent/core"
)

// Store persists users and their question/report turns in Postgres.
type Store struct {
	DB *sql.DB
}

// Turn is one persisted question/report exchange.
type Turn struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Question     string          `json:"question"`
	ReportID     string          `json:"report_id"`
	SummaryTitle string          `json:"summary_title"`
	Report       json.RawMessage `json:"report,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// DSN builds a Postgres connection string from config. An explicit url wins
// over the discrete fields.
func DSN(cfg config.PostgresConfig) (string, error) {
	if cfg.URL != "" {
		return cfg.URL, nil
	}
	if cfg.Host == "" || cfg.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := cfg.Port
	if port == "" {
		port = "5432"
	}
	ssl := cfg.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, port, cfg.DBName, ssl), nil
}

// New constructs the Store from config.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Turn operations
func (s *Store) SaveTurn(ctx context.Context, userID, question string, report core.AnalyticsReport) (string, error) {
	payload, err := json.Marshal(report)
	if err != nil {
		return "", err
	}
	var id string
	err = s.DB.QueryRowContext(ctx,
		`INSERT INTO turns (user_id, question, report_id, summary_title, report) VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		userID, question, report.ReportID, report.SummaryTitle, payload).Scan(&id)
	return id, err
}

// ListTurns returns the user's most recent turns without report bodies.
func (s *Store) ListTurns(ctx context.Context, userID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, question, report_id, summary_title, created_at FROM turns WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.UserID, &t.Question, &t.ReportID, &t.SummaryTitle, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetReport loads one stored report by its report id, scoped to the user.
func (s *Store) GetReport(ctx context.Context, userID, reportID string) (core.AnalyticsReport, error) {
	var payload []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT report FROM turns WHERE user_id=$1 AND report_id=$2`, userID, reportID).Scan(&payload)
	if err != nil {
		return core.AnalyticsReport{}, err
	}
	var report core.AnalyticsReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return core.AnalyticsReport{}, err
	}
	return report, nil
}
