package audiostore

import (
	"context"
	"os"
	"path/filepath"
)

// LocalStore writes clips to a directory on the local filesystem.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates the clip directory if needed and returns a store
// rooted there.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if baseDir == "" {
		baseDir = "clips"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, storeError(err, "local", "mkdir")
	}
	return &LocalStore{baseDir: baseDir}, nil
}

// Backend identifies the backend.
func (s *LocalStore) Backend() string { return "local" }

// Save writes the clip under a unique name and returns its metadata. The
// write goes through a temp file and rename so a crash mid-write never
// leaves a truncated clip under the final name.
func (s *LocalStore) Save(ctx context.Context, originalName, contentType string, data []byte) (ClipInfo, error) {
	if err := ctx.Err(); err != nil {
		return ClipInfo{}, err
	}

	name := clipName(originalName)
	finalPath := filepath.Join(s.baseDir, name)

	tmp, err := os.CreateTemp(s.baseDir, ".upload-*")
	if err != nil {
		return ClipInfo{}, storeError(err, "local", "create_temp")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ClipInfo{}, storeError(err, "local", "write")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return ClipInfo{}, storeError(err, "local", "close")
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		os.Remove(tmpName)
		return ClipInfo{}, storeError(err, "local", "rename")
	}

	sampleRate, durationMs := probeWAV(data)
	return ClipInfo{
		Path:        name,
		Backend:     s.Backend(),
		Size:        int64(len(data)),
		ContentType: contentType,
		SampleRate:  sampleRate,
		DurationMs:  durationMs,
	}, nil
}

// Delete removes a stored clip. Deleting a clip that is already gone is not
// an error.
func (s *LocalStore) Delete(ctx context.Context, clipPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.baseDir, filepath.Base(clipPath)))
	if err != nil && !os.IsNotExist(err) {
		return storeError(err, "local", "delete")
	}
	return nil
}
