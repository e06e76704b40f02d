package memory

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/profile-feedback/internal/feedback"
)

func TestStoreInsertSelectApply(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New(nil, nil)
	email := "alice@example.com"

	id, err := store.Insert(ctx, "https://www.linkedin.com/in/alice", &email)
	require.NoError(t, err)
	require.Equal(t, "1", id)

	rec, status, err := store.SelectByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	require.False(t, feedback.HasMinimumData(rec))
	require.Equal(t, email, *rec.Email)

	require.NoError(t, store.Apply(id, feedback.SectionHeadline, "Clear headline", 4))
	rec, _, err = store.SelectByID(ctx, id)
	require.NoError(t, err)
	require.True(t, feedback.HasMinimumData(rec))

	// Returned records are copies.
	*rec.Feedback[feedback.SectionHeadline].Score = 1
	again, _, _ := store.SelectByID(ctx, id)
	require.Equal(t, 4.0, *again.Section(feedback.SectionHeadline).Score)
}

func TestStoreMissingRecord(t *testing.T) {
	t.Parallel()

	store := New(nil, nil)
	_, status, err := store.SelectByID(context.Background(), "404")
	require.ErrorIs(t, err, feedback.ErrNotFound)
	require.Equal(t, http.StatusNotFound, status)
	require.ErrorIs(t, store.Apply("404", feedback.SectionAbout, "x", 3), feedback.ErrNotFound)
}

func TestStoreInjectedFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New(nil, nil)
	boom := errors.New("boom")

	store.FailInserts(boom)
	_, err := store.Insert(ctx, "u", nil)
	require.ErrorIs(t, err, boom)
	store.FailInserts(nil)

	id, err := store.Insert(ctx, "u", nil)
	require.NoError(t, err)

	store.FailSelects(boom)
	_, _, err = store.SelectByID(ctx, id)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, store.Len())
}
