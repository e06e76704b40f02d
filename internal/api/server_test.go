package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-feedback/internal/config"
	"github.com/JakeFAU/profile-feedback/internal/correlation"
	datastore "github.com/JakeFAU/profile-feedback/internal/datastore/memory"
	"github.com/JakeFAU/profile-feedback/internal/feedback"
	"github.com/JakeFAU/profile-feedback/internal/polling"
	"github.com/JakeFAU/profile-feedback/internal/results"
	"github.com/JakeFAU/profile-feedback/internal/session"
	"github.com/JakeFAU/profile-feedback/internal/storage/memory"
	"github.com/JakeFAU/profile-feedback/internal/submission"
)

const profileURL = "https://www.linkedin.com/in/ada"

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeout: 5 * time.Second, MaxWait: time.Second},
	}
}

func newTestServer(t *testing.T, cfg config.Config, ready ReadyFunc) *Server {
	t.Helper()
	db := datastore.New(nil, nil)
	durable := memory.NewKVStore()
	factory := func(ctx context.Context, clientID string) (*session.Orchestrator, error) {
		store := correlation.NewStore(durable, memory.NewKVStore(), nil).WithNamespace(clientID + ":")
		return session.New(ctx, session.Deps{
			Submitter: submission.NewClient(db, nil, nil, nil, submission.ClientOptions{}, nil),
			Store:     store,
			Fetcher:   results.NewFetcher(db, feedback.DefaultNormalizer(), nil, nil),
			Retry:     submission.NewRetryPolicy(0, time.Millisecond),
			Schedule: polling.Schedule{
				ShortInterval: 2 * time.Millisecond,
				ShortAttempts: 2,
				LongInterval:  3 * time.Millisecond,
				LongAttempts:  1,
			},
		})
	}
	reg := session.NewRegistry(factory, time.Minute, nil, nil)
	t.Cleanup(reg.Close)
	return NewServer(reg, ready, cfg, zap.NewNop())
}

func do(t *testing.T, server *Server, method, path, clientID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if clientID != "" {
		req.Header.Set(ClientIDHeader, clientID)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) feedback.Status {
	t.Helper()
	var st feedback.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	return st
}

func waitForView(t *testing.T, server *Server, clientID string, view feedback.View) feedback.Status {
	t.Helper()
	var st feedback.Status
	require.Eventually(t, func() bool {
		rec := do(t, server, http.MethodGet, "/v1/analyses", clientID, "")
		if rec.Code != http.StatusOK {
			return false
		}
		st = decodeStatus(t, rec)
		return st.View == view
	}, 2*time.Second, 5*time.Millisecond)
	return st
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, testConfig(), nil)
	rec := do(t, server, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, server, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, server, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_ReadyzReportsDependencyFailure(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, testConfig(), func(context.Context) error { return errors.New("db down") })
	rec := do(t, server, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_CreateAnalysis_Validation(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, testConfig(), nil)
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "invalid json", body: "{invalid", want: "invalid JSON"},
		{name: "missing url", body: `{"email":"a@b.c"}`, want: "url is required"},
		{name: "relative url", body: `{"url":"linkedin.com/in/ada"}`, want: "absolute"},
		{name: "unsupported scheme", body: `{"url":"ftp://linkedin.com/in/ada"}`, want: "absolute"},
	}
	for _, tt := range tests {
		rec := do(t, server, http.MethodPost, "/v1/analyses", "c1", tt.body)
		require.Equal(t, http.StatusBadRequest, rec.Code, tt.name)
		require.Contains(t, rec.Body.String(), tt.want, tt.name)
	}
}

func TestServer_AnalysisLifecycle(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, testConfig(), nil)
	rec := do(t, server, http.MethodPost, "/v1/analyses", "c1", `{"url":"`+profileURL+`","email":"ada@example.com"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, profileURL, decodeStatus(t, rec).URL)

	st := waitForView(t, server, "c1", feedback.ViewNoData)
	require.False(t, st.IsError)

	body := `{"url":"` + profileURL + `","feedback_headline":"Specific and clear.","feedback_headline_nota":"5",` +
		`"feedback_sobre":"Add metrics.","feedback_sobre_nota":3}`
	rec = do(t, server, http.MethodPost, "/v1/results", "c1", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	st = waitForView(t, server, "c1", feedback.ViewReady)
	require.NotNil(t, st.Profile)
	require.Equal(t, 80, st.Profile.CompletionScore)
	require.True(t, st.DataReceived)

	rec = do(t, server, http.MethodDelete, "/v1/analyses", "c1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, server, http.MethodGet, "/v1/analyses", "c1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, server, http.MethodDelete, "/v1/analyses", "c1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ClientsAreIsolated(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, testConfig(), nil)
	rec := do(t, server, http.MethodPost, "/v1/analyses", "c1", `{"url":"`+profileURL+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, server, http.MethodGet, "/v1/analyses", "c2", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, server, http.MethodPost, "/v1/results", "c2", `{"url":"`+profileURL+`"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RetryAfterTimeout(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, testConfig(), nil)
	rec := do(t, server, http.MethodPost, "/v1/analyses/retry", "c1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	do(t, server, http.MethodPost, "/v1/analyses", "c1", `{"url":"`+profileURL+`"}`)
	waitForView(t, server, "c1", feedback.ViewNoData)

	rec = do(t, server, http.MethodPost, "/v1/analyses/retry", "c1", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, profileURL, decodeStatus(t, rec).URL)
	waitForView(t, server, "c1", feedback.ViewNoData)
}

func TestServer_DeliverResults_Rejections(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, testConfig(), nil)
	do(t, server, http.MethodPost, "/v1/analyses", "c1", `{"url":"`+profileURL+`"}`)

	tests := []struct {
		name string
		body string
		code int
		want string
	}{
		{name: "invalid json", body: "{", code: http.StatusBadRequest, want: "invalid JSON"},
		{name: "array", body: `[1]`, code: http.StatusBadRequest, want: "JSON object"},
		{name: "missing url", body: `{"feedback_headline":"x"}`, code: http.StatusBadRequest, want: "url is required"},
		{
			name: "score out of range",
			body: `{"url":"` + profileURL + `","feedback_headline":"x","feedback_headline_nota":7}`,
			code: http.StatusBadRequest,
			want: "feedback_headline_nota",
		},
		{
			name: "other url",
			body: `{"url":"https://www.linkedin.com/in/grace","feedback_headline":"x","feedback_headline_nota":4}`,
			code: http.StatusConflict,
			want: "not the current analysis",
		},
	}
	for _, tt := range tests {
		rec := do(t, server, http.MethodPost, "/v1/results", "c1", tt.body)
		require.Equal(t, tt.code, rec.Code, tt.name)
		require.Contains(t, rec.Body.String(), tt.want, tt.name)
	}
}

func TestServer_DeliverResults_ScoreRangeMessage(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, testConfig(), nil)
	do(t, server, http.MethodPost, "/v1/analyses", "c1", `{"url":"`+profileURL+`"}`)

	rec := do(t, server, http.MethodPost, "/v1/results", "c1",
		`{"url":"`+profileURL+`","feedback_headline":"x","feedback_headline_nota":9}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "scores must be numbers between 1 and 5: feedback_headline_nota", body["error"])
}

func TestServer_LongPollWithoutMaxWaitAnswersBeforeTimeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.RequestTimeout = time.Second
	cfg.Server.MaxWait = 0
	server := newTestServer(t, cfg, nil)

	do(t, server, http.MethodPost, "/v1/analyses", "c1", `{"url":"`+profileURL+`"}`)
	waitForView(t, server, "c1", feedback.ViewNoData)

	start := time.Now()
	rec := do(t, server, http.MethodGet, "/v1/analyses?wait=1h", "c1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, feedback.ViewNoData, decodeStatus(t, rec).View)
	require.Less(t, time.Since(start), time.Second)
}

func TestServer_LongPoll(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, testConfig(), nil)
	rec := do(t, server, http.MethodGet, "/v1/analyses?wait=soon", "c1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	do(t, server, http.MethodPost, "/v1/analyses", "c1", `{"url":"`+profileURL+`"}`)
	waitForView(t, server, "c1", feedback.ViewNoData)

	start := time.Now()
	rec = do(t, server, http.MethodGet, "/v1/analyses?wait=1h", "c1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, feedback.ViewNoData, decodeStatus(t, rec).View)
	require.Less(t, time.Since(start), 4*time.Second, "wait is capped by server.max_wait")
}

func TestServer_APIKeyProtectsV1(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	server := newTestServer(t, cfg, nil)

	rec := do(t, server, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, server, http.MethodGet, "/v1/analyses", "c1", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/analyses", nil)
	req.Header.Set("X-API-Key", "secret")
	out := httptest.NewRecorder()
	server.Handler().ServeHTTP(out, req)
	require.Equal(t, http.StatusNotFound, out.Code)
}

func TestServer_RateLimitsWritesPerClient(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.RateLimitRPS = 0.001
	cfg.Server.RateLimitBurst = 1
	server := newTestServer(t, cfg, nil)
	body := `{"url":"` + profileURL + `"}`

	rec := do(t, server, http.MethodPost, "/v1/analyses", "c1", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, server, http.MethodPost, "/v1/analyses", "c1", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = do(t, server, http.MethodPost, "/v1/analyses", "c2", body)
	require.Equal(t, http.StatusAccepted, rec.Code, "other clients keep their own budget")

	rec = do(t, server, http.MethodGet, "/v1/analyses", "c1", "")
	require.Equal(t, http.StatusOK, rec.Code, "reads are not limited")

	rec = do(t, server, http.MethodDelete, "/v1/analyses", "c1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, server, http.MethodPost, "/v1/analyses", "c1", body)
	require.Equal(t, http.StatusAccepted, rec.Code, "deleting a session resets its budget")
}

func TestServer_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, testConfig(), func(context.Context) error { panic("boom") })
	rec := do(t, server, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSameStatus(t *testing.T) {
	t.Parallel()

	ok := http.StatusOK
	other := http.StatusNotFound
	a := feedback.Status{URL: profileURL, View: feedback.ViewLoading, EndpointStatus: &ok}
	b := a
	require.True(t, sameStatus(a, b))
	b.EndpointStatus = &other
	require.False(t, sameStatus(a, b))
	b.EndpointStatus = nil
	require.False(t, sameStatus(a, b))
	b = a
	b.RetryCount = 1
	require.False(t, sameStatus(a, b))
}
