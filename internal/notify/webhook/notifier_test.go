package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/profile-feedback/internal/feedback"
)

func notification() feedback.Notification {
	email := "alice@example.com"
	return feedback.Notification{
		LinkedinURL: "https://www.linkedin.com/in/alice",
		RecordID:    "42",
		Email:       &email,
		RequestTime: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestNotifyPostsPayload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "https://www.linkedin.com/in/alice", body["linkedinUrl"])
		require.Equal(t, "42", body["recordId"])
		require.Equal(t, "alice@example.com", body["email"])
		require.Equal(t, "2024-05-01T10:00:00Z", body["requestTime"])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := New(srv.URL, nil)
	require.NoError(t, err)
	msg, err := n.Notify(context.Background(), notification())
	require.NoError(t, err)
	require.Equal(t, DefaultMessage, msg)
}

func TestNotifyReturnsServerMessage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"message":"Workflow was started"}`))
	}))
	defer srv.Close()

	n, err := New(srv.URL, nil)
	require.NoError(t, err)
	msg, err := n.Notify(context.Background(), notification())
	require.NoError(t, err)
	require.Equal(t, "Workflow was started", msg)
}

func TestNotifyNon2xxIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n, err := New(srv.URL, nil)
	require.NoError(t, err)
	_, err = n.Notify(context.Background(), notification())
	var se *feedback.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadGateway, se.Status)
}

func TestNotifyHonoursContextDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	n, err := New(srv.URL, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = n.Notify(ctx, notification())
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := New(" ", nil)
	require.Error(t, err)
}
