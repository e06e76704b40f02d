// Package rest reads and writes feedback records through a PostgREST style
// HTTP API, the interface hosted Postgres providers such as Supabase expose.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-feedback/internal/datastore/row"
	"github.com/JakeFAU/profile-feedback/internal/feedback"
)

// DefaultTable is the table the analysis pipeline writes to.
const DefaultTable = "linkedin_links"

// Config describes the remote API.
type Config struct {
	BaseURL string
	APIKey  string
	Table   string
	Timeout time.Duration
}

// Client satisfies feedback.Datastore.
type Client struct {
	http   *resty.Client
	path   string
	logger *zap.Logger
}

// New builds a Client. Requests are bounded by cfg.Timeout in addition to the
// caller's context.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("datastore.rest.base_url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		c.SetHeader("apikey", cfg.APIKey).SetAuthToken(cfg.APIKey)
	}
	return &Client{http: c, path: "/rest/v1/" + table, logger: logger.Named("datastore.rest")}, nil
}

// Insert creates a row and returns its id.
func (c *Client) Insert(ctx context.Context, url string, email *string) (string, error) {
	ctx, span := otel.Tracer("datastore/rest").Start(ctx, "datastore.insert", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody([]map[string]any{{row.ColumnURL: url, row.ColumnEmail: email}}).
		Post(c.path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return "", fmt.Errorf("insert row: %w: %w", feedback.ErrUnavailable, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
	if resp.IsError() {
		span.SetStatus(codes.Error, resp.Status())
		return "", statusError(resp)
	}

	id := row.First(gjson.ParseBytes(resp.Body())).Get(row.ColumnID)
	if !id.Exists() || id.String() == "" {
		return "", fmt.Errorf("insert row: response carries no id: %w", feedback.ErrMalformedRecord)
	}
	return id.String(), nil
}

// SelectByID reads one row. The HTTP status is returned even on failure.
func (c *Client) SelectByID(ctx context.Context, id string) (feedback.Record, int, error) {
	ctx, span := otel.Tracer("datastore/rest").Start(ctx, "datastore.select", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		SetQueryParam("select", "*").
		Get(c.path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return feedback.Record{}, 0, fmt.Errorf("select row %s: %w: %w", id, feedback.ErrUnavailable, err)
	}
	status := resp.StatusCode()
	span.SetAttributes(attribute.Int("http.status_code", status))
	if resp.IsError() {
		span.SetStatus(codes.Error, resp.Status())
		return feedback.Record{}, status, statusError(resp)
	}

	body := gjson.ParseBytes(resp.Body())
	if body.IsArray() && len(body.Array()) == 0 {
		return feedback.Record{}, status, feedback.ErrNotFound
	}
	rec, err := c.decode(row.First(body))
	if err != nil {
		return feedback.Record{}, status, fmt.Errorf("select row %s: %w", id, err)
	}
	return rec, status, nil
}

func (c *Client) decode(r gjson.Result) (feedback.Record, error) {
	rec, invalid, err := row.Decode(r)
	if err != nil {
		return feedback.Record{}, err
	}
	for _, s := range invalid {
		c.logger.Debug("discarding invalid score",
			zap.String("record_id", rec.ID),
			zap.String("section", string(s)),
			zap.String("raw", r.Get(s.ScoreColumn()).Raw))
	}
	return rec, nil
}

func statusError(resp *resty.Response) error {
	msg := gjson.GetBytes(resp.Body(), "message").String()
	if msg == "" {
		msg = strings.TrimSpace(resp.String())
	}
	err := &feedback.StatusError{Status: resp.StatusCode(), Body: msg}
	switch resp.StatusCode() {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %w", feedback.ErrUnavailable, err)
	}
	return err
}
