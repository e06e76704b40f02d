// Package postgres reads and writes feedback records directly in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-feedback/internal/feedback"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable is the table the analysis pipeline writes to.
const DefaultTable = "linkedin_links"

// Key column types. The lookup parameter is cast to the column type so the
// primary key index is used.
const (
	IDTypeBigint = "bigint"
	IDTypeUUID   = "uuid"
	IDTypeText   = "text"
)

// invalid_text_representation: the id cannot be a key of this table.
const codeInvalidTextRepresentation = "22P02"

// ValidIDType reports whether t is a supported key column type.
func ValidIDType(t string) bool {
	switch t {
	case IDTypeBigint, IDTypeUUID, IDTypeText:
		return true
	}
	return false
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	IDType          string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryCloser interface {
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RecordStore satisfies feedback.Datastore.
type RecordStore struct {
	pool   queryCloser
	table  string
	idType string
	logger *zap.Logger
}

// NewRecordStore connects a pool using cfg.
func NewRecordStore(ctx context.Context, cfg Config, logger *zap.Logger) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("datastore.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRecordStoreWithPool(pool, cfg.Table, cfg.IDType, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
// An empty idType means bigint.
func NewRecordStoreWithPool(pool queryCloser, table, idType string, logger *zap.Logger) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if idType == "" {
		idType = IDTypeBigint
	}
	if !ValidIDType(idType) {
		return nil, fmt.Errorf("invalid id type %q", idType)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordStore{pool: pool, table: table, idType: idType, logger: logger.Named("datastore.postgres")}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Insert creates a row for url and returns its id.
func (s *RecordStore) Insert(ctx context.Context, url string, email *string) (string, error) {
	ctx, span := otel.Tracer("datastore/postgres").Start(ctx, "datastore.insert")
	defer span.End()

	query := fmt.Sprintf(`INSERT INTO %s (linkedin_url, email) VALUES ($1, $2) RETURNING id::text`, s.table)
	var id string
	if err := s.pool.QueryRow(ctx, query, url, email).Scan(&id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert")
		return "", fmt.Errorf("insert record: %w", classify(err))
	}
	return id, nil
}

// SelectByID reads one row. The status mirrors HTTP semantics so callers can
// treat every backend alike: 200 found, 404 absent, 0 failed.
func (s *RecordStore) SelectByID(ctx context.Context, id string) (feedback.Record, int, error) {
	ctx, span := otel.Tracer("datastore/postgres").Start(ctx, "datastore.select")
	defer span.End()

	sections := feedback.Sections()
	cols := make([]string, 0, 4+2*len(sections))
	cols = append(cols, "id::text", "linkedin_url", "email", "created_at")
	for _, sec := range sections {
		cols = append(cols, sec.TextColumn(), sec.ScoreColumn()+"::float8")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1::%s`, strings.Join(cols, ", "), s.table, s.idType)

	var (
		rec       feedback.Record
		createdAt *time.Time
		texts     = make([]*string, len(sections))
		scores    = make([]*float64, len(sections))
	)
	dest := []any{&rec.ID, &rec.URL, &rec.Email, &createdAt}
	for i := range sections {
		dest = append(dest, &texts[i], &scores[i])
	}

	err := s.pool.QueryRow(ctx, query, id).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) || invalidKey(err) {
		return feedback.Record{}, http.StatusNotFound, feedback.ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select")
		return feedback.Record{}, 0, fmt.Errorf("select record %s: %w", id, classify(err))
	}
	if createdAt != nil {
		rec.CreatedAt = createdAt.UTC()
	}

	rec.Feedback = make(map[feedback.Section]feedback.SectionFeedback)
	for i, sec := range sections {
		var f feedback.SectionFeedback
		if texts[i] != nil {
			f.Text = *texts[i]
		}
		if scores[i] != nil {
			f.Score = feedback.Score(*scores[i])
			if f.Score == nil {
				s.logger.Debug("discarding invalid score",
					zap.String("record_id", rec.ID),
					zap.String("section", string(sec)),
					zap.Float64("raw", *scores[i]))
			}
		}
		if f.Text != "" || f.Score != nil {
			rec.Feedback[sec] = f
		}
	}
	return rec, http.StatusOK, nil
}

func invalidKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeInvalidTextRepresentation
}

// classify marks connection level failures as unavailable.
func classify(err error) error {
	var netErr net.Error
	if pgconn.Timeout(err) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", feedback.ErrUnavailable, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %w", feedback.ErrUnavailable, err)
	}
	return err
}
