package backup

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"contact-service/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func sampleSubmission() models.Submission {
	return models.Submission{
		Name:     "Ana &amp; Bo",
		Email:    "ana@example.com",
		Message:  strings.Repeat("Bonjour, ", 15) + "é ✓",
		Token:    "tok-123",
		Consent:  true,
		Language: "fr",
	}
}

func newIndexedStore(t *testing.T, opts ...Option) (*Store, *Index) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "forms")
	index, err := OpenIndex(filepath.Join(root, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	store, err := NewStore(root, append([]Option{WithIndex(index)}, opts...)...)
	require.NoError(t, err)
	return store, index
}

func TestSave_WritesMonthPartitionedPrettyJSON(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	store, _ := newIndexedStore(t, WithClock(func() time.Time { return fixed }))

	id, err := store.Save(context.Background(), "203.0.113.4", sampleSubmission())
	require.NoError(t, err)
	assert.True(t, ValidID(id), id)

	path := filepath.Join(store.Root(), "2026-03", id+".json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n    \"id\": \""+id+"\"")
	assert.Contains(t, string(raw), "\"date\": \"2026-03-14T09:30:00+01:00\"")

	var record models.BackupRecord
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Equal(t, fixed.Unix(), record.Timestamp)
	assert.Equal(t, "203.0.113.4", record.IP)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	marker, err := os.ReadFile(filepath.Join(store.Root(), ".htaccess"))
	require.NoError(t, err)
	assert.Contains(t, string(marker), "Deny from all")
}

func TestSave_RoundTrip(t *testing.T) {
	store, _ := newIndexedStore(t)
	ctx := context.Background()
	in := sampleSubmission()

	id, err := store.Save(ctx, "198.51.100.1", in)
	require.NoError(t, err)

	record, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, record.ID)
	if diff := cmp.Diff(in, record.Data); diff != "" {
		t.Fatalf("reloaded data mismatch (-want +got):\n%s", diff)
	}
}

func TestSave_IDsAreUniqueAndOrdered(t *testing.T) {
	store, _ := newIndexedStore(t)
	ctx := context.Background()

	seen := map[string]bool{}
	prev := ""
	for i := 0; i < 20; i++ {
		id, err := store.Save(ctx, "ip", sampleSubmission())
		require.NoError(t, err)
		require.False(t, seen[id])
		seen[id] = true
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestLoad_WithoutIndexScansMonths(t *testing.T) {
	root := filepath.Join(t.TempDir(), "forms")
	store, err := NewStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	id, err := store.Save(ctx, "ip", sampleSubmission())
	require.NoError(t, err)

	record, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", record.Data.Email)

	_, err = store.List(ctx, ListOptions{})
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}

func TestLoad_Errors(t *testing.T) {
	store, _ := newIndexedStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = store.Load(ctx, "form_not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = store.Load(ctx, "form_0190a1b2-c3d4-7e5f-8a6b-7c8d9e0f1a2b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func age(t *testing.T, store *Store, id string, d time.Duration) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(store.Root(), "*", id+".json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	when := time.Now().Add(-d)
	require.NoError(t, os.Chtimes(matches[0], when, when))
	return matches[0]
}

func TestPurge_RemovesOnlyExpiredFiles(t *testing.T) {
	store, index := newIndexedStore(t)
	ctx := context.Background()

	oldID, err := store.Save(ctx, "ip", sampleSubmission())
	require.NoError(t, err)
	keptID, err := store.Save(ctx, "ip", sampleSubmission())
	require.NoError(t, err)

	oldPath := age(t, store, oldID, 91*24*time.Hour)
	keptPath := age(t, store, keptID, 89*24*time.Hour)

	removed, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, oldPath)
	assert.FileExists(t, keptPath)
	assert.FileExists(t, filepath.Join(store.Root(), ".htaccess"))

	_, err = index.Get(ctx, oldID)
	assert.ErrorIs(t, err, ErrNotFound)
	n, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPurge_OnSaveWhenEnabled(t *testing.T) {
	ctx := context.Background()

	lazy, _ := newIndexedStore(t)
	oldID, err := lazy.Save(ctx, "ip", sampleSubmission())
	require.NoError(t, err)
	oldPath := age(t, lazy, oldID, 91*24*time.Hour)
	_, err = lazy.Save(ctx, "ip", sampleSubmission())
	require.NoError(t, err)
	assert.FileExists(t, oldPath, "default mode leaves purging to the sweeper")

	eager, _ := newIndexedStore(t, WithPurgeOnSave(true))
	oldID, err = eager.Save(ctx, "ip", sampleSubmission())
	require.NoError(t, err)
	oldPath = age(t, eager, oldID, 91*24*time.Hour)
	freshID, err := eager.Save(ctx, "ip", sampleSubmission())
	require.NoError(t, err)
	assert.NoFileExists(t, oldPath)

	_, err = eager.Load(ctx, freshID)
	assert.NoError(t, err)
}

func TestPurge_ReportsRemovedIDsToHook(t *testing.T) {
	var got []string
	hook := func(_ context.Context, ids ...string) error {
		got = append(got, ids...)
		return errors.New("search cluster down")
	}
	store, _ := newIndexedStore(t, WithPurgeHook(hook))
	ctx := context.Background()

	oldID, err := store.Save(ctx, "ip", sampleSubmission())
	require.NoError(t, err)
	freshID, err := store.Save(ctx, "ip", sampleSubmission())
	require.NoError(t, err)
	age(t, store, oldID, 100*24*time.Hour)

	// A failing hook is logged; the purge itself still succeeds.
	removed, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{oldID}, got)

	got = nil
	_, err = store.Purge(ctx)
	require.NoError(t, err)
	assert.Empty(t, got, "hook is not called when nothing expired")

	_, err = store.Load(ctx, freshID)
	assert.NoError(t, err)
}

func TestPurge_CustomRetention(t *testing.T) {
	store, _ := newIndexedStore(t, WithRetention(time.Hour))
	ctx := context.Background()

	id, err := store.Save(ctx, "ip", sampleSubmission())
	require.NoError(t, err)
	age(t, store, id, 2*time.Hour)

	removed, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, time.Hour, store.Retention())
}

func TestList_FiltersByMonthNewestFirst(t *testing.T) {
	current := time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC)
	store, _ := newIndexedStore(t, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	janID, err := store.Save(ctx, "ip-1", sampleSubmission())
	require.NoError(t, err)

	current = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	feb1, err := store.Save(ctx, "ip-2", sampleSubmission())
	require.NoError(t, err)
	current = current.Add(time.Hour)
	feb2, err := store.Save(ctx, "ip-3", sampleSubmission())
	require.NoError(t, err)

	entries, err := store.List(ctx, ListOptions{Month: "2026-02"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, feb2, entries[0].ID)
	assert.Equal(t, feb1, entries[1].ID)
	assert.Equal(t, "ip-3", entries[0].IP)

	all, err := store.List(ctx, ListOptions{Limit: 1, Offset: 2})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, janID, all[0].ID)

	_, err = store.List(ctx, ListOptions{Month: "February"})
	assert.Error(t, err)
}

func TestSweeper_PurgesAndStops(t *testing.T) {
	store, _ := newIndexedStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	id, err := store.Save(context.Background(), "ip", sampleSubmission())
	require.NoError(t, err)
	path := age(t, store, id, 100*24*time.Hour)

	done := NewSweeper(store, 10*time.Millisecond, nil).Start(ctx)

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
