// Package submission registers profile URLs with the datastore, triggers the
// analysis pipeline and drives the retrying state machine that turns a URL
// into a correlation id.
package submission

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-feedback/internal/feedback"
	"github.com/JakeFAU/profile-feedback/internal/metrics"
)

// DefaultNotifyTimeout bounds the pipeline notification.
const DefaultNotifyTimeout = 10 * time.Second

// Result is the outcome of one submission.
type Result struct {
	CorrelationID string
	// Err is set when the datastore write failed, even if a temporary id was issued.
	Err     error
	Status  int
	Message string
	// Temporary marks a locally synthesized id.
	Temporary bool
}

// Retryable reports whether the failure is worth retrying.
func (r Result) Retryable() bool {
	return r.CorrelationID == "" && r.Status == http.StatusServiceUnavailable
}

// TempIDGenerator issues ids for degraded, storage-only operation.
type TempIDGenerator interface {
	NewTempID() (string, error)
}

// ClientOptions tunes a Client.
type ClientOptions struct {
	NotifyTimeout  time.Duration
	TempIDFallback bool
}

// Client performs single submissions. It never retries on its own.
type Client struct {
	store    feedback.Datastore
	notifier feedback.Notifier
	tempIDs  TempIDGenerator
	clock    feedback.Clock
	opts     ClientOptions
	logger   *zap.Logger
}

// NewClient wires a Client. notifier and tempIDs may be nil.
func NewClient(
	store feedback.Datastore,
	notifier feedback.Notifier,
	tempIDs TempIDGenerator,
	clock feedback.Clock,
	opts ClientOptions,
	logger *zap.Logger,
) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = DefaultNotifyTimeout
	}
	return &Client{
		store:    store,
		notifier: notifier,
		tempIDs:  tempIDs,
		clock:    clock,
		opts:     opts,
		logger:   logger.Named("submission"),
	}
}

// Submit inserts a row for url and then notifies the pipeline.
func (c *Client) Submit(ctx context.Context, url string, email *string) Result {
	log := c.logger.With(zap.String("url", url))

	id, err := c.store.Insert(ctx, url, email)
	if err != nil {
		status := Classify(err)
		log.Warn("datastore insert failed", zap.Int("status", status), zap.Error(err))
		if status == http.StatusServiceUnavailable && c.opts.TempIDFallback && c.tempIDs != nil {
			if tmp, tmpErr := c.tempIDs.NewTempID(); tmpErr == nil {
				metrics.ObserveSubmission(metrics.SubmissionTemporary)
				log.Warn("continuing with temporary id", zap.String("correlation_id", tmp))
				return Result{
					CorrelationID: tmp,
					Err:           err,
					Status:        status,
					Message:       "Database connection problem. Continuing with a temporary id; results may be delayed.",
					Temporary:     true,
				}
			}
		}
		metrics.ObserveSubmission(metrics.SubmissionFailed)
		return Result{Err: err, Status: status, Message: failureMessage(status, err)}
	}
	metrics.ObserveSubmission(metrics.SubmissionCreated)
	log.Info("submission stored", zap.String("correlation_id", id))

	return Result{CorrelationID: id, Status: http.StatusOK, Message: c.notify(ctx, url, id, email)}
}

func (c *Client) notify(ctx context.Context, url, id string, email *string) string {
	if c.notifier == nil {
		return "URL registered successfully."
	}
	nctx, cancel := context.WithTimeout(ctx, c.opts.NotifyTimeout)
	defer cancel()

	var now time.Time
	if c.clock != nil {
		now = c.clock.Now()
	} else {
		now = time.Now().UTC()
	}
	msg, err := c.notifier.Notify(nctx, feedback.Notification{
		LinkedinURL: url,
		RecordID:    id,
		Email:       email,
		RequestTime: now,
	})
	metrics.ObserveNotification(err == nil)
	if err != nil {
		c.logger.Warn("pipeline notification failed",
			zap.String("url", url),
			zap.String("correlation_id", id),
			zap.Error(err))
		return "URL registered successfully. The analysis trigger failed, but the process will continue."
	}
	return msg
}

var networkMarkers = []string{
	"failed to fetch",
	"networkerror",
	"network",
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
}

// Classify maps a datastore error to 503 when the datastore could not be
// reached and 500 otherwise.
func Classify(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, feedback.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return http.StatusServiceUnavailable
	}
	var se *feedback.StatusError
	if errors.As(err, &se) {
		switch se.Status {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return http.StatusServiceUnavailable
		}
	}
	text := strings.ToLower(err.Error())
	for _, m := range networkMarkers {
		if strings.Contains(text, m) {
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

func failureMessage(status int, err error) string {
	if status == http.StatusServiceUnavailable {
		return "Database connection problem. Check your connection and try again."
	}
	return fmt.Sprintf("Error saving URL: %v", err)
}
