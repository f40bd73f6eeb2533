package gamification

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/masumiguard/internal/testutil"
)

type failingStore struct {
	*MemoryStore
	putErr error
	puts   int
}

func (f *failingStore) Put(ctx context.Context, key string, doc []byte) error {
	f.puts++
	if f.putErr != nil {
		return f.putErr
	}
	return f.MemoryStore.Put(ctx, key, doc)
}

func TestTracker_ReloadReproducesState(t *testing.T) {
	ctx := context.Background()
	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"file":   NewFileStore(t.TempDir()),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			tr := NewTracker(store, nil)
			tr.Load(ctx)
			for i := 0; i < 5; i++ {
				tr.RecordSuccess(ctx, result(92))
			}
			tr.RecordFailure(ctx)
			tr.RecordSuccess(ctx, result(40))
			written := tr.State()

			reloaded := NewTracker(store, nil).Load(ctx)
			assert.Equal(t, written, reloaded)
			assert.Equal(t, 6, reloaded.AnalysisCount)
			assert.Equal(t, 1, reloaded.ConsecutiveSuccesses)
			assert.Equal(t, []AchievementID{PerfectScore, FiveAnalyses}, reloaded.Achievements)
		})
	}
}

func TestTracker_MissingDocumentIsZeroState(t *testing.T) {
	tr := NewTracker(NewFileStore(filepath.Join(t.TempDir(), "absent")), nil)
	assert.Equal(t, ZeroState(), tr.Load(context.Background()))
}

func TestTracker_CorruptDocumentIsZeroState(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DocumentKey+".json"), []byte("{not json"), 0o600))

	tr := NewTracker(NewFileStore(dir), nil)
	assert.Equal(t, ZeroState(), tr.Load(context.Background()))

	// The next change overwrites the corrupt document.
	tr.RecordSuccess(context.Background(), result(10))
	assert.Equal(t, 1, NewTracker(NewFileStore(dir), nil).Load(context.Background()).AnalysisCount)
}

func TestTracker_SaveFailureIsIgnored(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), putErr: errors.New("disk full")}
	tr := NewTracker(store, nil)

	s, unlocked := tr.RecordSuccess(context.Background(), result(95))
	assert.Equal(t, 1, s.AnalysisCount)
	assert.Equal(t, []AchievementID{PerfectScore}, unlocked)
	assert.Equal(t, 1, store.puts)

	s = tr.RecordFailure(context.Background())
	assert.Equal(t, 0, s.ConsecutiveSuccesses)
	assert.Equal(t, 2, store.puts)
}

func TestTracker_EveryChangeWrites(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore()}
	tr := NewTracker(store, nil)
	tr.Load(context.Background())
	assert.Equal(t, 0, store.puts, "load does not write")

	tr.RecordSuccess(context.Background(), result(10))
	tr.RecordFailure(context.Background())
	assert.Equal(t, 2, store.puts)

	doc, err := store.Get(context.Background(), DocumentKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"analysisCount":1,"consecutiveSuccesses":0,"achievements":[]}`, string(doc))
}

func TestTracker_StateIsACopy(t *testing.T) {
	tr := NewTracker(nil, nil)
	tr.RecordSuccess(context.Background(), result(95))
	s := tr.State()
	s.Achievements[0] = "tampered"
	assert.Equal(t, PerfectScore, tr.State().Achievements[0])
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	store := NewPostgresStore(db)
	_, err := store.Get(ctx, DocumentKey)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	tr := NewTracker(store, nil)
	tr.RecordSuccess(ctx, result(91))
	tr.RecordSuccess(ctx, result(91))

	reloaded := NewTracker(store, nil).Load(ctx)
	assert.Equal(t, 2, reloaded.AnalysisCount)
	assert.Equal(t, []AchievementID{PerfectScore}, reloaded.Achievements)
}
