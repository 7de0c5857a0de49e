package mediaindex

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screen-recorder/pkg/models"
)

func writeRecording(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestPublishAndList(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(filepath.Join(dir, "index", "recordings.jsonl"), nil, nil)
	require.NoError(t, err)
	fixed := time.Date(2024, 1, 31, 14, 25, 1, 0, time.UTC)
	idx.now = func() time.Time { return fixed }

	list, err := idx.List()
	require.NoError(t, err)
	assert.Empty(t, list)

	mp4 := writeRecording(t, dir, "20240131_142501_07.mp4", 2048)
	webm := writeRecording(t, dir, "20240131_142601_120.webm", 10)
	require.NoError(t, idx.Publish(mp4, ""))
	require.NoError(t, idx.Publish(webm, "video/x-matroska"))

	list, err = idx.List()
	require.NoError(t, err)
	assert.Equal(t, []models.Recording{
		{Path: mp4, MimeType: "video/mp4", SizeBytes: 2048, AddedAt: fixed},
		{Path: webm, MimeType: "video/x-matroska", SizeBytes: 10, AddedAt: fixed},
	}, list)
}

func TestPublishMissingFile(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(filepath.Join(dir, "recordings.jsonl"), nil, nil)
	require.NoError(t, err)

	err = idx.Publish(filepath.Join(dir, "gone.mp4"), "")
	assert.ErrorContains(t, err, "recording not found")
}

func TestListSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recordings.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json\n\n{\"path\":\"/a.mp4\",\"mime_type\":\"video/mp4\"}\n"), 0o644))
	idx, err := Open(path, nil, nil)
	require.NoError(t, err)

	list, err := idx.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "/a.mp4", list[0].Path)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("", nil, nil)
	assert.Error(t, err)
}

func TestWebhookNotified(t *testing.T) {
	var mu sync.Mutex
	var got []models.RecordingPublished
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body models.RecordingPublished
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		got = append(got, body)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	dir := t.TempDir()
	idx, err := Open(filepath.Join(dir, "recordings.jsonl"), NewWebhook(srv.URL), nil)
	require.NoError(t, err)

	path := writeRecording(t, dir, "clip.3gp", 5)
	require.NoError(t, idx.Publish(path, ""))
	require.NoError(t, idx.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "recording_published", got[0].Event)
	assert.Equal(t, "video/3gpp", got[0].Recording.MimeType)
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).Notify(t.Context(), models.Recording{Path: "/a.mp4"})
	assert.ErrorContains(t, err, "400")
}
