// Package modelstore resolves model artifacts to local file paths, fetching
// them from Azure Blob Storage when a container is configured.
package modelstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// Downloader fetches one blob into a local file.
type Downloader interface {
	DownloadFile(ctx context.Context, containerName, blobName string, file *os.File, o *azblob.DownloadFileOptions) (int64, error)
}

// Store resolves artifact names. The zero value reads local paths only.
type Store struct {
	container string
	cacheDir  string
	client    Downloader
	logger    *slog.Logger
}

// Local returns a Store that resolves names as local paths.
func Local() *Store {
	return &Store{logger: slog.Default()}
}

// NewAzure returns a Store backed by the given container. Credentials come
// from the default Azure credential chain.
func NewAzure(accountURL, container, cacheDir string, logger *slog.Logger) (*Store, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating azure credential: %w", err)
	}
	return newAzureWithCredential(accountURL, container, cacheDir, cred, logger)
}

func newAzureWithCredential(accountURL, container, cacheDir string, cred azcore.TokenCredential, logger *slog.Logger) (*Store, error) {
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating blob client: %w", err)
	}
	return NewWithDownloader(client, container, cacheDir, logger), nil
}

// NewWithDownloader wires an arbitrary Downloader; used by tests.
func NewWithDownloader(d Downloader, container, cacheDir string, logger *slog.Logger) *Store {
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "cxr-models")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{container: container, cacheDir: cacheDir, client: d, logger: logger}
}

// Remote reports whether artifacts are downloaded.
func (s *Store) Remote() bool {
	return s.client != nil
}

// Resolve returns a local path for name. Remote artifacts are downloaded
// into the cache directory unless already present.
func (s *Store) Resolve(ctx context.Context, name string) (string, error) {
	if !s.Remote() {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("model artifact %s: %w", name, err)
		}
		return name, nil
	}

	blobName := path.Clean(filepath.ToSlash(name))
	local := filepath.Join(s.cacheDir, filepath.FromSlash(blobName))
	if st, err := os.Stat(local); err == nil && st.Size() > 0 {
		s.logger.Debug("model artifact cached", "blob", blobName, "path", local)
		return local, nil
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", fmt.Errorf("creating cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(local), ".download-*")
	if err != nil {
		return "", fmt.Errorf("creating download file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	s.logger.Info("downloading model artifact", "container", s.container, "blob", blobName)
	n, err := s.client.DownloadFile(ctx, s.container, blobName, tmp, nil)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("downloading %s/%s: %w", s.container, blobName, err)
	}
	if n == 0 {
		return "", fmt.Errorf("downloading %s/%s: empty blob", s.container, blobName)
	}
	if err := os.Rename(tmpName, local); err != nil {
		return "", fmt.Errorf("storing %s: %w", blobName, err)
	}
	return local, nil
}
