package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"smmswarm/internal/config"
	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/ids"
)

const (
	imageExt       = ".png"
	anonymousOwner = "anonymous"
)

// Store persists rendered images under generated ids.
type Store interface {
	Save(ctx context.Context, owner string, data []byte) (string, error)
	Open(ctx context.Context, id string) (io.ReadCloser, error)
}

// NewStore builds the storage backend selected by cfg.
func NewStore(ctx context.Context, cfg config.ImagesConfig) (Store, error) {
	switch strings.ToLower(cfg.Storage) {
	case "", "fs":
		return NewFSStore(cfg.Root, cfg.IndexSize, cfg.IndexTTL)
	case "minio":
		return NewMinioStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported image storage %q", cfg.Storage)
	}
}

var ownerSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._@-]`)

// SanitizeOwner turns a user id into a single safe path segment.
func SanitizeOwner(owner string) string {
	owner = ownerSanitizer.ReplaceAllString(strings.TrimSpace(owner), "_")
	owner = strings.Trim(owner, "._-")
	if owner == "" {
		return anonymousOwner
	}
	return owner
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", smmerrors.ErrImageNotFound, id)
}

// idIndex remembers where an image id was stored.
type idIndex struct {
	lru *expirable.LRU[string, string]
}

func newIDIndex(size int, ttl time.Duration) idIndex {
	if size <= 0 {
		size = 4096
	}
	return idIndex{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

// FSStore writes <root>/<owner>/<id>.png.
type FSStore struct {
	root  string
	index idIndex
}

// NewFSStore creates root if needed. Index entries expire after ttl; a zero
// ttl keeps them until evicted by size.
func NewFSStore(root string, indexSize int, ttl time.Duration) (*FSStore, error) {
	if root == "" {
		root = "./data/images"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create image root: %w", err)
	}
	return &FSStore{root: root, index: newIDIndex(indexSize, ttl)}, nil
}

func (s *FSStore) Save(_ context.Context, owner string, data []byte) (string, error) {
	dir := filepath.Join(s.root, SanitizeOwner(owner))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	id := ids.NewImageID()
	path := filepath.Join(dir, id+imageExt)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	s.index.lru.Add(id, path)
	return id, nil
}

// Open looks the id up in the index, then scans the root.
func (s *FSStore) Open(_ context.Context, id string) (io.ReadCloser, error) {
	if !ids.IsImageID(id) {
		return nil, notFound(id)
	}
	if path, ok := s.index.lru.Get(id); ok {
		if f, err := os.Open(path); err == nil {
			return f, nil
		}
		s.index.lru.Remove(id)
	}
	path, err := s.scan(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, notFound(id)
	}
	s.index.lru.Add(id, path)
	return f, nil
}

var errFound = errors.New("found")

func (s *FSStore) scan(id string) (string, error) {
	name := id + imageExt
	var found string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == name {
			found = path
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return "", fmt.Errorf("scan images: %w", err)
	}
	if found == "" {
		return "", notFound(id)
	}
	return found, nil
}

// MinioStore writes <owner>/<id>.png objects into a bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	index  idIndex
}

// NewMinioStore connects to the configured endpoint and creates the bucket
// when it does not exist.
func NewMinioStore(ctx context.Context, cfg config.ImagesConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccess, cfg.MinioSecret, ""),
		Secure: cfg.MinioSecure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.MinioBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.MinioBucket, err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.MinioBucket, index: newIDIndex(cfg.IndexSize, cfg.IndexTTL)}, nil
}

func (s *MinioStore) Save(ctx context.Context, owner string, data []byte) (string, error) {
	id := ids.NewImageID()
	key := SanitizeOwner(owner) + "/" + id + imageExt
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "image/png"})
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	s.index.lru.Add(id, key)
	return id, nil
}

func (s *MinioStore) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if !ids.IsImageID(id) {
		return nil, notFound(id)
	}
	key, ok := s.index.lru.Get(id)
	if !ok {
		var err error
		if key, err = s.find(ctx, id); err != nil {
			return nil, err
		}
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			s.index.lru.Remove(id)
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("stat image: %w", err)
	}
	s.index.lru.Add(id, key)
	return obj, nil
}

func (s *MinioStore) find(ctx context.Context, id string) (string, error) {
	suffix := "/" + id + imageExt
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return "", fmt.Errorf("list images: %w", obj.Err)
		}
		if strings.HasSuffix(obj.Key, suffix) {
			return obj.Key, nil
		}
	}
	return "", notFound(id)
}
