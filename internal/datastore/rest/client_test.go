package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/profile-feedback/internal/feedback"
)

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, APIKey: "anon-key"}, nil)
	require.NoError(t, err)
	return c
}

func TestInsert(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/rest/v1/linkedin_links", r.URL.Path)
		require.Equal(t, "anon-key", r.Header.Get("apikey"))
		require.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		require.Equal(t, "return=representation", r.Header.Get("Prefer"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var rows []map[string]any
		require.NoError(t, json.Unmarshal(body, &rows))
		require.Len(t, rows, 1)
		require.Equal(t, "https://www.linkedin.com/in/alice", rows[0]["linkedin_url"])
		require.Equal(t, "alice@example.com", rows[0]["email"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id": 42, "linkedin_url": "https://www.linkedin.com/in/alice"}]`))
	})

	email := "alice@example.com"
	id, err := c.Insert(context.Background(), "https://www.linkedin.com/in/alice", &email)
	require.NoError(t, err)
	require.Equal(t, "42", id)
}

func TestInsertStatusErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		unavailable bool
	}{
		{name: "service unavailable", status: http.StatusServiceUnavailable, unavailable: true},
		{name: "bad request", status: http.StatusBadRequest, unavailable: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			})
			_, err := c.Insert(context.Background(), "u", nil)
			require.Error(t, err)
			var se *feedback.StatusError
			require.ErrorAs(t, err, &se)
			require.Equal(t, tt.status, se.Status)
			require.Equal(t, "nope", se.Body)
			require.Equal(t, tt.unavailable, errorIsUnavailable(err))
		})
	}
}

func TestInsertTransportFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: base}, nil)
	require.NoError(t, err)
	_, err = c.Insert(context.Background(), "u", nil)
	require.True(t, errorIsUnavailable(err))
}

func TestInsertWithoutID(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{}]`))
	})
	_, err := c.Insert(context.Background(), "u", nil)
	require.ErrorIs(t, err, feedback.ErrMalformedRecord)
}

func TestSelectByID(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "eq.42", r.URL.Query().Get("id"))
		require.Equal(t, "*", r.URL.Query().Get("select"))
		_, _ = w.Write([]byte(`[{
			"id": 42,
			"linkedin_url": "https://www.linkedin.com/in/alice",
			"email": null,
			"created_at": "2024-05-01T10:00:00.123456+00:00",
			"feedback_headline": "Clear headline",
			"feedback_headline_nota": 4,
			"feedback_sobre": "Too short",
			"feedback_sobre_nota": "2",
			"feedback_experience": "Great",
			"feedback_experience_nota": 9,
			"feedback_projetos": null,
			"feedback_projetos_nota": null
		}]`))
	})

	rec, status, err := c.SelectByID(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "42", rec.ID)
	require.Nil(t, rec.Email)
	require.False(t, rec.CreatedAt.IsZero())

	require.Equal(t, 4.0, *rec.Section(feedback.SectionHeadline).Score)
	require.Equal(t, 2.0, *rec.Section(feedback.SectionAbout).Score)

	exp := rec.Section(feedback.SectionExperience)
	require.Equal(t, "Great", exp.Text)
	require.Nil(t, exp.Score, "out of range scores are dropped")
	require.False(t, exp.Complete())

	_, ok := rec.Feedback[feedback.SectionProjects]
	require.False(t, ok)
	require.True(t, feedback.HasMinimumData(rec))
}

func TestSelectByIDNotFound(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	_, status, err := c.SelectByID(context.Background(), "42")
	require.ErrorIs(t, err, feedback.ErrNotFound)
	require.Equal(t, http.StatusOK, status)
}

func TestSelectByIDMalformed(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`["not-an-object"]`))
	})
	_, _, err := c.SelectByID(context.Background(), "42")
	require.ErrorIs(t, err, feedback.ErrMalformedRecord)
}

func TestSelectByIDReportsStatusOnError(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, status, err := c.SelectByID(context.Background(), "42")
	require.Error(t, err)
	require.Equal(t, http.StatusInternalServerError, status)
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
}

func errorIsUnavailable(err error) bool {
	return err != nil && errors.Is(err, feedback.ErrUnavailable)
}
