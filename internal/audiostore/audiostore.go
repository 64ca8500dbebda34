// Package audiostore persists uploaded audio clips to a configurable backend
// and records basic clip metadata. The local filesystem backend serves
// development deployments; production deployments push clips to an SFTP host.
package audiostore

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/carsense/carsense-go/internal/conf"
	"github.com/carsense/carsense-go/internal/errors"
)

// ClipInfo describes a stored audio clip.
type ClipInfo struct {
	Path        string // backend-relative path of the stored clip
	Backend     string // "local" or "sftp"
	Size        int64
	ContentType string
	SampleRate  int // 0 when the payload is not a parseable WAV
	DurationMs  int64
}

// Store is the storage backend for uploaded audio clips.
type Store interface {
	// Save persists an uploaded clip under a collision-free name derived
	// from originalName and returns the stored clip's metadata.
	Save(ctx context.Context, originalName, contentType string, data []byte) (ClipInfo, error)
	// Delete removes a previously stored clip.
	Delete(ctx context.Context, clipPath string) error
	// Backend identifies the backend ("local" or "sftp").
	Backend() string
}

// New selects the storage backend from deployment configuration. Production
// deployments with an SFTP host configured store clips remotely; everything
// else uses the local filesystem under storage.uploadpath.
func New(settings *conf.Settings) (Store, error) {
	if settings.Deployment == conf.DeploymentProduction && settings.Storage.SFTP.Host != "" {
		return NewSFTPStore(settings)
	}
	return NewLocalStore(settings.Storage.UploadPath)
}

// clipName builds a unique storage name: UTC timestamp, a UUID, and a
// sanitized rendition of the client-supplied filename. The UUID guarantees
// uniqueness even when two devices upload identically-named clips in the
// same second.
func clipName(originalName string) string {
	base := sanitizeFileName(path.Base(originalName))
	if base == "" {
		base = "clip.wav"
	}
	return fmt.Sprintf("%s_%s_%s",
		time.Now().UTC().Format("20060102T150405"),
		uuid.New().String(),
		base)
}

// sanitizeFileName strips path separators and characters outside a
// conservative allowlist so client-supplied names can never escape the
// storage root or break downstream tooling.
func sanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "._")
}

// probeWAV extracts sample rate and duration from a WAV payload. Clips in
// other containers (or malformed WAV data) are stored anyway; the metadata
// fields just stay zero.
func probeWAV(data []byte) (sampleRate int, durationMs int64) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return 0, 0
	}
	sampleRate = int(decoder.SampleRate)
	if d, err := decoder.Duration(); err == nil {
		durationMs = d.Milliseconds()
	}
	return sampleRate, durationMs
}

func storeError(err error, backend, operation string) error {
	return errors.New(err).
		Component("audiostore").
		Category(errors.CategoryAudioStore).
		Context("backend", backend).
		Context("operation", operation).
		Build()
}
