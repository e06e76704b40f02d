// Package webhook triggers the analysis pipeline through an HTTP webhook.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-feedback/internal/feedback"
)

// DefaultMessage is returned when the webhook answers without a message.
const DefaultMessage = "URL sent successfully"

// Notifier satisfies feedback.Notifier. Deadlines come from the caller's context.
type Notifier struct {
	http   *resty.Client
	url    string
	logger *zap.Logger
}

// New builds a Notifier posting to url.
func New(url string, logger *zap.Logger) (*Notifier, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("notifier.webhook.url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Notifier{http: c, url: url, logger: logger.Named("notify.webhook")}, nil
}

// Notify posts n as JSON.
func (w *Notifier) Notify(ctx context.Context, n feedback.Notification) (string, error) {
	ctx, span := otel.Tracer("notify/webhook").Start(ctx, "notify.webhook", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("record.id", n.RecordID))

	resp, err := w.http.R().SetContext(ctx).SetBody(n).Post(w.url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return "", fmt.Errorf("post webhook: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
	if resp.IsError() {
		span.SetStatus(codes.Error, resp.Status())
		return "", fmt.Errorf("post webhook: %w", &feedback.StatusError{
			Status: resp.StatusCode(),
			Body:   strings.TrimSpace(resp.String()),
		})
	}
	if msg := gjson.GetBytes(resp.Body(), "message").String(); msg != "" {
		return msg, nil
	}
	w.logger.Debug("webhook accepted notification", zap.String("record_id", n.RecordID), zap.Int("status", resp.StatusCode()))
	return DefaultMessage, nil
}
