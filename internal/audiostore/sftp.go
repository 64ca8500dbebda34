package audiostore

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/carsense/carsense-go/internal/conf"
)

// SFTPStore writes clips to a remote host over SFTP. A fresh connection is
// established per operation; uploads are infrequent enough that pooling is
// not worth the reconnect bookkeeping.
type SFTPStore struct {
	host     string
	port     int
	username string
	password string
	keyFile  string
	basePath string
	timeout  time.Duration
}

// NewSFTPStore builds an SFTP-backed clip store from deployment settings.
func NewSFTPStore(settings *conf.Settings) (*SFTPStore, error) {
	cfg := settings.Storage.SFTP
	store := &SFTPStore{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		keyFile:  cfg.KeyFile,
		basePath: strings.TrimRight(cfg.BasePath, "/"),
		timeout:  30 * time.Second,
	}
	if store.host == "" {
		return nil, storeError(fmt.Errorf("host is required"), "sftp", "configure")
	}
	if store.port == 0 {
		store.port = 22
	}
	if store.basePath == "" {
		store.basePath = "clips"
	}
	if store.keyFile == "" && store.password == "" {
		return nil, storeError(fmt.Errorf("no authentication method provided"), "sftp", "configure")
	}
	return store, nil
}

// Backend identifies the backend.
func (s *SFTPStore) Backend() string { return "sftp" }

// connect establishes an SFTP session, honoring context cancellation while
// the dial is in flight.
func (s *SFTPStore) connect(ctx context.Context) (*sftp.Client, error) {
	type connResult struct {
		client *sftp.Client
		err    error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		config := &ssh.ClientConfig{
			User:            s.username,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: pin host keys once fleet provisioning distributes them
			Timeout:         s.timeout,
		}

		switch {
		case s.keyFile != "":
			key, err := os.ReadFile(s.keyFile)
			if err != nil {
				resultChan <- connResult{nil, fmt.Errorf("failed to read private key: %w", err)}
				return
			}
			signer, err := ssh.ParsePrivateKey(key)
			if err != nil {
				resultChan <- connResult{nil, fmt.Errorf("failed to parse private key: %w", err)}
				return
			}
			config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
		default:
			config.Auth = []ssh.AuthMethod{ssh.Password(s.password)}
		}

		addr := fmt.Sprintf("%s:%d", s.host, s.port)
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- connResult{nil, fmt.Errorf("failed to connect: %w", err)}
			return
		}

		client, err := sftp.NewClient(sshConn)
		if err != nil {
			sshConn.Close()
			resultChan <- connResult{nil, fmt.Errorf("failed to create client: %w", err)}
			return
		}

		resultChan <- connResult{client, nil}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultChan:
		if result.err != nil {
			return nil, storeError(result.err, "sftp", "connect")
		}
		return result.client, nil
	}
}

// Save uploads the clip under a unique name below basePath.
func (s *SFTPStore) Save(ctx context.Context, originalName, contentType string, data []byte) (ClipInfo, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return ClipInfo{}, err
	}
	defer client.Close()

	if err := s.createDirectory(client, s.basePath); err != nil {
		return ClipInfo{}, err
	}

	name := clipName(originalName)
	remotePath := path.Join(s.basePath, name)
	dst, err := client.Create(remotePath)
	if err != nil {
		return ClipInfo{}, storeError(err, "sftp", "create")
	}
	defer dst.Close()

	if _, err := dst.Write(data); err != nil {
		return ClipInfo{}, storeError(err, "sftp", "write")
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

// Delete removes a stored clip from the remote host.
func (s *SFTPStore) Delete(ctx context.Context, clipPath string) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	remotePath := path.Join(s.basePath, path.Base(clipPath))
	if err := client.Remove(remotePath); err != nil {
		if strings.Contains(err.Error(), "no such file") {
			return nil
		}
		return storeError(err, "sftp", "delete")
	}
	return nil
}

// createDirectory ensures the remote directory chain exists.
func (s *SFTPStore) createDirectory(client *sftp.Client, dirPath string) error {
	parts := strings.Split(dirPath, "/")
	current := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		if current == "" {
			current = part
		} else {
			current = current + "/" + part
		}
		if _, err := client.Stat(current); err != nil {
			if err := client.Mkdir(current); err != nil {
				if _, statErr := client.Stat(current); statErr != nil {
					return storeError(err, "sftp", "mkdir")
				}
			}
		}
	}
	return nil
}
