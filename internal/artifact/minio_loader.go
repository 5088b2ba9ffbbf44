// Package artifact provides a concrete types.CustomLoader that fetches
// model artifacts from S3-compatible object storage ahead of a
// ModelInstance's own Load, mirroring loadModel's basePath-population
// contract in the OpenVINO Model Server custom-loader interface: the
// registry only carries the attachment, this package resolves it.
package artifact

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/toydogcat/model-server/internal/common/fsutil"
	"github.com/toydogcat/model-server/pkg/types"
)

// Config configures the MinIO client and object layout. Objects for a
// given model/version are expected under "<Prefix>/<model>/<version>/".
type Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	CacheDir  string
}

func (c Config) withDefaults() Config {
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(os.TempDir(), "model-server-artifacts")
		return c
	}
	if expanded, err := fsutil.ExpandHome(c.CacheDir); err == nil {
		c.CacheDir = expanded
	}
	return c
}

// MinioLoader is the CustomLoader capability wired into internal/registry:
// Model.SetCustomLoader(loader) attaches it, and a ModelInstanceFactory
// that knows about MinioLoader can call FetchModel before Load to
// materialize artifact bytes on local disk.
type MinioLoader struct {
	client *minio.Client
	cfg    Config
}

// NewMinioLoader dials the object store; it does not verify bucket
// existence, matching MinioStore's lazy style — StatObject/GetObject
// surface a clear error on first real use if the bucket is missing.
func NewMinioLoader(cfg Config) (*MinioLoader, error) {
	cfg = cfg.withDefaults()
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("artifact: endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: new client: %w", err)
	}
	return &MinioLoader{client: client, cfg: cfg}, nil
}

// LoaderName satisfies types.CustomLoader.
func (l *MinioLoader) LoaderName() string { return "minio" }

// FetchModel downloads every object under this model/version's prefix into
// a local directory and returns that directory's path, suitable as a
// ModelConfig.BasePath for the instance's own Load.
func (l *MinioLoader) FetchModel(ctx context.Context, name string, version types.ModelVersion) (string, error) {
	prefix := l.objectPrefix(name, version)
	localDir := filepath.Join(l.cfg.CacheDir, name, fmt.Sprint(int64(version)))
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return "", fmt.Errorf("artifact: mkdir %s: %w", localDir, err)
	}

	objCh := l.client.ListObjects(ctx, l.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	found := false
	for obj := range objCh {
		if obj.Err != nil {
			return "", fmt.Errorf("artifact: list %s: %w", prefix, obj.Err)
		}
		found = true
		if err := l.fetchOne(ctx, obj.Key, filepath.Join(localDir, filepath.Base(obj.Key))); err != nil {
			return "", err
		}
	}
	if !found {
		return "", fmt.Errorf("artifact: no objects under %s/%s", l.cfg.Bucket, prefix)
	}
	return localDir, nil
}

func (l *MinioLoader) fetchOne(ctx context.Context, key, dest string) error {
	obj, err := l.client.GetObject(ctx, l.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("artifact: get %s: %w", key, err)
	}
	defer obj.Close()

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("artifact: create %s: %w", dest, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, obj); err != nil {
		return fmt.Errorf("artifact: write %s: %w", dest, err)
	}
	return nil
}

// Evict removes a model/version's local cache directory. The registry does
// not call it when a version is retired; a fetched copy stays on disk until
// Evict is called for that model/version.
func (l *MinioLoader) Evict(name string, version types.ModelVersion) error {
	localDir := filepath.Join(l.cfg.CacheDir, name, fmt.Sprint(int64(version)))
	return os.RemoveAll(localDir)
}

func (l *MinioLoader) objectPrefix(name string, version types.ModelVersion) string {
	if l.cfg.Prefix == "" {
		return fmt.Sprintf("%s/%d/", name, int64(version))
	}
	return fmt.Sprintf("%s/%s/%d/", l.cfg.Prefix, name, int64(version))
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

var _ types.CustomLoader = (*MinioLoader)(nil)
