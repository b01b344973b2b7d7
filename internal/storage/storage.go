package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/joseph-ayodele/receipts-classifier/internal/common"
)

// BlobStore keeps receipt images, model artifacts and backups by key.
// Keys are slash separated and never absolute.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Type() string
}

// Key prefixes.
const (
	PrefixUploads = "uploads/"
	PrefixModels  = "models/"
	PrefixBackups = "backups/"
)

func UploadKey(jobID, ext string) string { return PrefixUploads + jobID + ext }
func ModelKey(versionID string) string   { return PrefixModels + versionID + ".json" }

// cleanKey rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.TrimSpace(key))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." {
		return "", common.InvalidInputf("empty storage key")
	}
	if k != strings.TrimPrefix(key, "/") {
		return "", common.InvalidInputf("storage key %q is not canonical", key)
	}
	return k, nil
}

// New builds the configured backend.
func New(ctx context.Context, cfg common.StorageConfig) (BlobStore, error) {
	switch cfg.Backend {
	case "", "fs":
		return NewFSStore(cfg.Dir)
	case "minio":
		return NewMinioStore(ctx,
			WithEndpoint(cfg.Endpoint),
			WithBucket(cfg.Bucket),
			WithAccessKey(cfg.AccessKey),
			WithSecretKey(cfg.SecretKey),
			WithSSL(cfg.UseSSL),
		)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
