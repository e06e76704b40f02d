package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if submissionsTotal == nil || pollAttemptsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	testCases := []struct {
		name    string
		observe func()
		read    func() float64
	}{
		{
			name:    "submission",
			observe: func() { ObserveSubmission(SubmissionCached) },
			read:    func() float64 { return testutil.ToFloat64(submissionsTotal.WithLabelValues(SubmissionCached)) },
		},
		{
			name:    "retry",
			observe: ObserveSubmissionRetry,
			read:    func() float64 { return testutil.ToFloat64(submissionRetriesTotal) },
		},
		{
			name:    "notification",
			observe: func() { ObserveNotification(false) },
			read:    func() float64 { return testutil.ToFloat64(notificationsTotal.WithLabelValues("failed")) },
		},
		{
			name:    "poll attempt",
			observe: func() { ObservePollAttempt(PollNoData) },
			read:    func() float64 { return testutil.ToFloat64(pollAttemptsTotal.WithLabelValues(PollNoData)) },
		},
		{
			name:    "polling outcome",
			observe: func() { ObservePollingOutcome(PollingTimeout) },
			read:    func() float64 { return testutil.ToFloat64(pollingSessionsTotal.WithLabelValues(PollingTimeout)) },
		},
		{
			name:    "rate limited",
			observe: func() { ObserveRateLimited("/v1/results") },
			read:    func() float64 { return testutil.ToFloat64(rateLimitedTotal.WithLabelValues("/v1/results")) },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			Init()
			before := tc.read()
			tc.observe()
			if got := tc.read(); got != before+1 {
				t.Errorf("expected counter to grow by 1, went from %f to %f", before, got)
			}
		})
	}
}

func TestSetActiveSessions(t *testing.T) {
	SetActiveSessions(3)
	if val := testutil.ToFloat64(activeSessions); val != 3 {
		t.Errorf("expected active sessions to be 3, got %f", val)
	}
}
