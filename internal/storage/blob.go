// Package storage provides the backing stores the reconciler persists to:
// blob stores holding serialized ledgers (local filesystem through afero, or
// Google Cloud Storage) and a Redis document store for ingestion history.
package storage

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/spf13/afero"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"marketplace-ledger-reconciler/pkg/errors"
	"marketplace-ledger-reconciler/pkg/logger"
)

// BlobStore reads and writes whole objects by hierarchical path
type BlobStore interface {
	// Get returns the object bytes. A missing object is reported with
	// code store_not_found; see IsNotFound.
	Get(ctx context.Context, path string) ([]byte, error)
	// Put replaces the object in a single write; readers see either the old
	// or the new bytes.
	Put(ctx context.Context, path string, data []byte, contentType string) error
	// List returns the paths under prefix in sorted order
	List(ctx context.Context, prefix string) ([]string, error)
}

// IsNotFound reports whether err is a missing-object error from a BlobStore
func IsNotFound(err error) bool {
	return errors.HasCode(err, errors.CodeStoreNotFound)
}

func cleanPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/")
}

const tempPrefix = ".tmp-"

// FSBlobStore stores objects as files on an afero filesystem
type FSBlobStore struct {
	fs     afero.Fs
	logger logger.Logger
}

// NewFSBlobStore creates a store rooted at dir on the local filesystem
func NewFSBlobStore(dir string) *FSBlobStore {
	return NewFSBlobStoreWithFs(afero.NewBasePathFs(afero.NewOsFs(), dir))
}

// NewFSBlobStoreWithFs creates a store on an arbitrary afero filesystem
func NewFSBlobStoreWithFs(fs afero.Fs) *FSBlobStore {
	return &FSBlobStore{
		fs:     fs,
		logger: logger.GetGlobalLogger().WithComponent("fs_blob_store"),
	}
}

// Get reads the file at p
func (s *FSBlobStore) Get(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.InternalError(errors.CodeCancelled, "read", err)
	}
	p = cleanPath(p)
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
			return nil, errors.StorageError(errors.CodeStoreNotFound, "read", p, err)
		}
		return nil, errors.StorageError(errors.CodeStoreUnavailable, "read", p, err)
	}
	return data, nil
}

// Put writes data to a temporary file next to p and renames it into place
func (s *FSBlobStore) Put(ctx context.Context, p string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return errors.InternalError(errors.CodeCancelled, "write", err)
	}
	p = cleanPath(p)
	dir := path.Dir(p)

	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return errors.StorageError(errors.CodeStoreUnavailable, "write", p, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, tempPrefix)
	if err != nil {
		return errors.StorageError(errors.CodeStoreUnavailable, "write", p, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return errors.StorageError(errors.CodeStoreUnavailable, "write", p, err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return errors.StorageError(errors.CodeStoreUnavailable, "write", p, err)
	}
	if err := s.fs.Rename(tmpName, p); err != nil {
		s.fs.Remove(tmpName)
		return errors.StorageError(errors.CodeStoreUnavailable, "write", p, err)
	}

	s.logger.WithFields(logger.Fields{
		"path":         p,
		"bytes":        len(data),
		"content_type": contentType,
	}).Debug("Wrote object")
	return nil
}

// List walks the directory tree under prefix
func (s *FSBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = cleanPath(prefix)
	root := prefix
	if root == "" {
		root = "."
	} else if exists, _ := afero.DirExists(s.fs, root); !exists {
		root = path.Dir(root)
	}

	var paths []string
	err := afero.Walk(s.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), tempPrefix) {
			return nil
		}
		p = cleanPath(p)
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, errors.StorageError(errors.CodeStoreUnavailable, "list", prefix, err)
	}

	sort.Strings(paths)
	return paths, nil
}

// GCSBlobStore stores objects in a Google Cloud Storage bucket
type GCSBlobStore struct {
	client *gcs.Client
	bucket string
	logger logger.Logger
}

// NewGCSBlobStore creates a store for bucket. With empty credentialsJSON the
// client uses application default credentials.
func NewGCSBlobStore(ctx context.Context, bucket, credentialsJSON string) (*GCSBlobStore, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "storage.bucket", "", nil)
	}

	var opts []option.ClientOption
	if strings.TrimSpace(credentialsJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStoreUnavailable, "connect", "gs://"+bucket, err)
	}

	return &GCSBlobStore{
		client: client,
		bucket: bucket,
		logger: logger.GetGlobalLogger().WithComponent("gcs_blob_store").WithField("bucket", bucket),
	}, nil
}

// Get downloads the object at p
func (s *GCSBlobStore) Get(ctx context.Context, p string) ([]byte, error) {
	p = cleanPath(p)
	reader, err := s.client.Bucket(s.bucket).Object(p).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, errors.StorageError(errors.CodeStoreNotFound, "read", p, err)
		}
		return nil, errors.StorageError(errors.CodeStoreUnavailable, "read", p, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStoreUnavailable, "read", p, err)
	}
	return data, nil
}

// Put uploads data; the object becomes visible only when the writer closes
func (s *GCSBlobStore) Put(ctx context.Context, p string, data []byte, contentType string) error {
	p = cleanPath(p)
	writer := s.client.Bucket(s.bucket).Object(p).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return errors.StorageError(errors.CodeStoreUnavailable, "write", p, err)
	}
	if err := writer.Close(); err != nil {
		return errors.StorageError(errors.CodeStoreUnavailable, "write", p, err)
	}

	s.logger.WithFields(logger.Fields{
		"path":  p,
		"bytes": len(data),
	}).Debug("Uploaded object")
	return nil
}

// List lists object names under prefix
func (s *GCSBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = cleanPath(prefix)
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})

	var paths []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.StorageError(errors.CodeStoreUnavailable, "list", prefix, err)
		}
		paths = append(paths, attrs.Name)
	}
	sort.Strings(paths)
	return paths, nil
}

// Close releases the underlying client
func (s *GCSBlobStore) Close() error {
	return s.client.Close()
}
