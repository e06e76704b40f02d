package correlation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/profile-feedback/internal/storage/memory"
)

type brokenKV struct{}

func (brokenKV) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("quota exceeded")
}
func (brokenKV) Set(context.Context, string, string) error { return errors.New("quota exceeded") }
func (brokenKV) Delete(context.Context, string) error      { return errors.New("quota exceeded") }
func (brokenKV) Keys(context.Context, string) ([]string, error) {
	return nil, errors.New("quota exceeded")
}

const (
	urlA = "https://www.linkedin.com/in/alice"
	urlB = "https://www.linkedin.com/in/bob"
)

func TestSaveAndLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	durable, session := memory.NewKVStore(), memory.NewKVStore()
	store := NewStore(durable, session, nil)

	_, ok := store.CorrelationID(ctx, urlA)
	require.False(t, ok)

	store.SaveCorrelationID(ctx, urlA, "42")

	id, ok := store.CorrelationID(ctx, urlA)
	require.True(t, ok)
	require.Equal(t, "42", id)

	v, ok, _ := session.Get(ctx, Key(urlA))
	require.True(t, ok)
	require.Equal(t, "42", v)

	current, ok := store.CurrentURL(ctx)
	require.True(t, ok)
	require.Equal(t, urlA, current)
}

func TestLookupFallsBackToSessionTier(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	session := memory.NewKVStore()
	require.NoError(t, session.Set(ctx, Key(urlA), "7"))

	store := NewStore(brokenKV{}, session, nil)
	id, ok := store.CorrelationID(ctx, urlA)
	require.True(t, ok)
	require.Equal(t, "7", id)
}

func TestAbsentAndFailingTiersDegradeToNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	for name, store := range map[string]*Store{
		"absent":  NewStore(nil, nil, nil),
		"failing": NewStore(brokenKV{}, brokenKV{}, nil),
	} {
		store := store
		t.Run(name, func(t *testing.T) {
			store.SaveCorrelationID(ctx, urlA, "42")
			_, ok := store.CorrelationID(ctx, urlA)
			require.False(t, ok)
			require.Zero(t, store.CleanupStaleKeys(ctx, urlA))
		})
	}
}

func TestCleanupStaleKeysKeepsCurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	durable, session := memory.NewKVStore(), memory.NewKVStore()
	store := NewStore(durable, session, nil)

	store.SaveCorrelationID(ctx, urlA, "1")
	store.SaveCorrelationID(ctx, urlB, "2")

	require.Equal(t, 2, store.CleanupStaleKeys(ctx, urlB))

	_, ok := store.CorrelationID(ctx, urlA)
	require.False(t, ok)
	id, ok := store.CorrelationID(ctx, urlB)
	require.True(t, ok)
	require.Equal(t, "2", id)

	_, ok, _ = durable.Get(ctx, CurrentURLKey)
	require.True(t, ok, "current url marker is not a correlation key")

	require.Zero(t, store.CleanupStaleKeys(ctx, ""))
}

func TestNamespacesAreIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	durable := memory.NewKVStore()
	base := NewStore(durable, nil, nil)
	alice := base.WithNamespace("client-a:")
	bob := base.WithNamespace("client-b:")

	alice.SaveCorrelationID(ctx, urlA, "1")
	bob.SaveCorrelationID(ctx, urlB, "2")

	require.Zero(t, alice.CleanupStaleKeys(ctx, urlA))

	id, ok := bob.CorrelationID(ctx, urlB)
	require.True(t, ok)
	require.Equal(t, "2", id)

	_, ok = alice.CorrelationID(ctx, urlB)
	require.False(t, ok)
}
