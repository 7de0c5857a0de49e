package mediaindex

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"screen-recorder/internal/media"
	"screen-recorder/pkg/models"
)

// webhookTimeout bounds one notification including retries.
const webhookTimeout = 30 * time.Second

// Index is an append-only JSON-lines list of finished recordings.
type Index struct {
	path    string
	webhook *Webhook
	logger  zerolog.Logger
	now     func() time.Time

	mu sync.Mutex
	wg sync.WaitGroup
}

// Open creates the index file's directory. webhook may be nil.
func Open(path string, webhook *Webhook, logger *zerolog.Logger) (*Index, error) {
	if path == "" {
		return nil, errors.New("media index path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media index dir: %w", err)
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "media_index").Logger()
	}
	return &Index{path: path, webhook: webhook, logger: l, now: time.Now}, nil
}

// Publish records a finished file. An empty mime type is derived from the
// file extension.
func (i *Index) Publish(path, mimeType string) error {
	if mimeType == "" {
		mimeType = media.MimeTypeForPath(path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("recording not found: %w", err)
	}
	rec := models.Recording{
		Path:      path,
		MimeType:  mimeType,
		SizeBytes: info.Size(),
		AddedAt:   i.now().UTC(),
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	i.mu.Lock()
	err = appendLine(i.path, line)
	i.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write media index: %w", err)
	}
	i.logger.Info().Str("path", path).Str("mime_type", mimeType).Int64("size", rec.SizeBytes).Msg("recording published")

	if i.webhook != nil {
		i.wg.Add(1)
		go func() {
			defer i.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
			defer cancel()
			if err := i.webhook.Notify(ctx, rec); err != nil {
				i.logger.Warn().Err(err).Str("path", path).Msg("media index webhook failed")
			}
		}()
	}
	return nil
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// List returns the published recordings, oldest first. Malformed lines are
// skipped.
func (i *Index) List() ([]models.Recording, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	f, err := os.Open(i.path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.Recording{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	recs := []models.Recording{}
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec models.Recording
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			i.logger.Warn().Err(err).Int("line", n).Msg("skipping malformed media index entry")
			continue
		}
		recs = append(recs, rec)
	}
	return recs, sc.Err()
}

// Close waits for pending webhook notifications.
func (i *Index) Close() error {
	i.wg.Wait()
	return nil
}
