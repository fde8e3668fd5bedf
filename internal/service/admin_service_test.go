package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contact-service/internal/backup"
	"contact-service/internal/models"
	"contact-service/internal/search"
)

type fakeSearcher struct {
	result *search.Result
	err    error
}

func (f *fakeSearcher) Search(context.Context, string, int, int) (*search.Result, error) {
	return f.result, f.err
}

func TestAdmin_GetSubmission(t *testing.T) {
	store, err := backup.NewStore(t.TempDir())
	require.NoError(t, err)
	id, err := store.Save(context.Background(), "ip", models.Submission{Name: "Bob", Language: "fr"})
	require.NoError(t, err)

	admin := NewAdminService(store, nil, nil)

	rec, err := admin.GetSubmission(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Bob", rec.Data.Name)

	_, err = admin.GetSubmission(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = admin.GetSubmission(context.Background(), "form_01890a5d-ac96-774b-bcce-b302099a8057")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdmin_ListSubmissions(t *testing.T) {
	noIndex, err := backup.NewStore(t.TempDir())
	require.NoError(t, err)
	admin := NewAdminService(noIndex, nil, nil)

	_, err = admin.ListSubmissions(context.Background(), backup.ListOptions{Month: "2026/01"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = admin.ListSubmissions(context.Background(), backup.ListOptions{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestAdmin_Search(t *testing.T) {
	store, err := backup.NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = NewAdminService(store, nil, nil).Search(context.Background(), "x", 10, 0)
	assert.ErrorIs(t, err, ErrSearchOff)

	want := &search.Result{Total: 1, Hits: []search.Hit{{Document: search.Document{ID: "form_1"}}}}
	got, err := NewAdminService(store, &fakeSearcher{result: want}, nil).Search(context.Background(), "x", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = NewAdminService(store, &fakeSearcher{err: search.ErrEmptyQuery}, nil).Search(context.Background(), "", 10, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	boom := errors.New("cluster red")
	_, err = NewAdminService(store, &fakeSearcher{err: boom}, nil).Search(context.Background(), "x", 10, 0)
	assert.ErrorIs(t, err, boom)
}

func TestAdmin_Sweep(t *testing.T) {
	store, err := backup.NewStore(t.TempDir())
	require.NoError(t, err)
	removed, err := NewAdminService(store, nil, nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}
