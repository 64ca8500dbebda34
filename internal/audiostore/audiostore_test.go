package audiostore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carsense/carsense-go/internal/conf"
)

// makeWAV encodes a short mono PCM clip and returns its raw bytes.
func makeWAV(t *testing.T, sampleRate, numSamples int) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, numSamples),
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestLocalStoreSave(t *testing.T) {
	t.Parallel()

	store, err := NewLocalStore(filepath.Join(t.TempDir(), "clips"))
	require.NoError(t, err)

	data := makeWAV(t, 16000, 16000) // one second at 16 kHz
	info, err := store.Save(context.Background(), "engine.wav", "audio/wav", data)
	require.NoError(t, err)

	assert.Equal(t, "local", info.Backend)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, "audio/wav", info.ContentType)
	assert.Equal(t, 16000, info.SampleRate)
	assert.InDelta(t, 1000, info.DurationMs, 10)
	assert.True(t, strings.HasSuffix(info.Path, "engine.wav"))

	// The clip must exist on disk under the returned name
	stored, err := os.ReadFile(filepath.Join(store.baseDir, info.Path))
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestLocalStoreUniqueNames(t *testing.T) {
	t.Parallel()

	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	data := []byte("not really audio")
	a, err := store.Save(context.Background(), "clip.wav", "audio/wav", data)
	require.NoError(t, err)
	b, err := store.Save(context.Background(), "clip.wav", "audio/wav", data)
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path, "same client filename must never collide")
}

func TestLocalStoreNonWAVPayload(t *testing.T) {
	t.Parallel()

	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	info, err := store.Save(context.Background(), "clip.ogg", "audio/ogg", []byte("OggS garbage"))
	require.NoError(t, err)
	assert.Zero(t, info.SampleRate)
	assert.Zero(t, info.DurationMs)
}

func TestLocalStoreDelete(t *testing.T) {
	t.Parallel()

	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	info, err := store.Save(context.Background(), "clip.wav", "audio/wav", []byte("data"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(context.Background(), info.Path))
	_, err = os.Stat(filepath.Join(store.baseDir, info.Path))
	assert.True(t, os.IsNotExist(err))

	// idempotent
	require.NoError(t, store.Delete(context.Background(), info.Path))
}

func TestSanitizeFileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"clean", "engine.wav", "engine.wav"},
		{"path traversal", "../../etc/passwd", "etc_passwd"},
		{"spaces and specials", "my clip (1).wav", "my_clip__1_.wav"},
		{"only junk", "///", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, sanitizeFileName(tt.input))
		})
	}
}

func TestClipNameFallback(t *testing.T) {
	t.Parallel()

	name := clipName("///")
	assert.True(t, strings.HasSuffix(name, "clip.wav"))
}

func TestNewSelectsBackend(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{Deployment: conf.DeploymentDevelopment}
	settings.Storage.UploadPath = t.TempDir()
	store, err := New(settings)
	require.NoError(t, err)
	assert.Equal(t, "local", store.Backend())

	prod := &conf.Settings{Deployment: conf.DeploymentProduction}
	prod.Storage.UploadPath = t.TempDir()
	prod.Storage.SFTP.Host = "files.internal"
	prod.Storage.SFTP.Username = "carsense"
	prod.Storage.SFTP.Password = "secret"
	remote, err := New(prod)
	require.NoError(t, err)
	assert.Equal(t, "sftp", remote.Backend())
}

func TestNewSFTPStoreRequiresAuth(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	settings.Storage.SFTP.Host = "files.internal"
	_, err := NewSFTPStore(settings)
	assert.Error(t, err)
}
