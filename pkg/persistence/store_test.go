package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-go-golems/threadkeeper/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ss, err := OpenSQLStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	return map[string]Store{"file": fs, "sqlite": ss}
}

func sampleThread() []conversation.Envelope {
	return []conversation.Envelope{
		conversation.NewEnvelope(conversation.NewUserMessage("what's the weather in Paris?")),
		conversation.NewEnvelope(conversation.NewAssistantMessage("", conversation.ToolCall{
			ID: "call-1", Name: "get_current_weather", Arguments: `{"location":"Paris"}`,
		})),
		conversation.NewEnvelope(conversation.NewToolResultMessage("call-1", "get_current_weather", `{"temp":18}`)),
		conversation.NewEnvelope(conversation.NewAssistantMessage("18 degrees.")),
	}
}

func TestStoresRoundTripThread(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			envs := sampleThread()
			require.NoError(t, store.Save(ctx, "t-1", envs))

			got, err := store.Load(ctx, "t-1")
			require.NoError(t, err)
			require.Len(t, got, len(envs))
			for i := range envs {
				require.True(t, envs[i].Equal(got[i]), "envelope %d differs", i)
			}
		})
	}
}

func TestStoresSaveReplacesWholeThread(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(ctx, "t-1", sampleThread()))
			short := sampleThread()[:1]
			require.NoError(t, store.Save(ctx, "t-1", short))

			got, err := store.Load(ctx, "t-1")
			require.NoError(t, err)
			require.Len(t, got, 1)
		})
	}
}

func TestStoresLoadMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(ctx, "missing")
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestStoresDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(ctx, "t-1", sampleThread()))
			require.NoError(t, store.Delete(ctx, "t-1"))
			require.NoError(t, store.Delete(ctx, "t-1"))

			_, err := store.Load(ctx, "t-1")
			require.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestStoresListSavedThreads(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(ctx, "b", nil))
			require.NoError(t, store.Save(ctx, "a", nil))

			ids, err := store.(Lister).List(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b"}, ids)
		})
	}
}

func TestStoresRejectPathLikeIDs(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Save(ctx, "../escape", nil)
			require.True(t, errors.Is(err, ErrInvalidID))
		})
	}
}

func TestFileStoreWritesOneJSONFilePerThread(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), "t-1", sampleThread()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "t-1.json", entries[0].Name())
	require.Equal(t, filepath.Join(dir, "t-1.json"), Describe(store, "t-1"))
}

func TestNewFileStoreRequiresDirectory(t *testing.T) {
	_, err := NewFileStore(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestOpenSelectsBackend(t *testing.T) {
	_, err := Open(Config{})
	require.True(t, errors.Is(err, ErrNoBackend))

	s, err := Open(Config{StorageDir: t.TempDir()})
	require.NoError(t, err)
	require.IsType(t, &FileStore{}, s)

	s, err = Open(Config{StorageDir: t.TempDir(), DatabaseURL: ":memory:"})
	require.NoError(t, err)
	require.IsType(t, &SQLStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(Config{DatabaseURL: "mysql://nope"})
	require.Error(t, err)
}

func TestRebindNumbersPlaceholdersForPostgres(t *testing.T) {
	s := &SQLStore{driver: driverPostgres}
	require.Equal(t, "SELECT a FROM t WHERE id = $1 AND b = $2", s.rebind("SELECT a FROM t WHERE id = ? AND b = ?"))
	s.driver = driverSQLite
	require.Equal(t, "x = ?", s.rebind("x = ?"))
}
