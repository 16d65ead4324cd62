package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/keystonerealty/keystone-backend/pkg/config"
	"github.com/keystonerealty/keystone-backend/pkg/logger"
	"google.golang.org/api/option"
)

const (
	pingTimeout  = 5 * time.Second
	cacheControl = "public, max-age=86400"
)

// Object is a stored blob. Path is the object key kept for deletion.
type Object struct {
	Bucket string
	Path   string
	URL    string
	Size   int64
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// objectStore is the slice of the storage SDK the client uses.
type objectStore interface {
	write(ctx context.Context, bucket, objectPath, contentType string, body io.Reader) (int64, error)
	delete(ctx context.Context, bucket, objectPath string) error
	bucketExists(ctx context.Context, bucket string) error
	close() error
}

type Client struct {
	store         objectStore
	defaultBucket string
	publicBaseURL string
}

// NewClient connects with explicit service account credentials when
// configured and application default credentials otherwise, then checks the
// bucket is reachable.
func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	var opts []option.ClientOption
	switch {
	case gcp.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	case gcp.ApplicationCredentials != "":
		opts = append(opts, option.WithCredentialsFile(gcp.ApplicationCredentials))
	}

	sdk, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	client := newClient(&sdkStore{client: sdk}, cfg)
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}

	if logg != nil {
		logg.Info(ctx, "gcs client initialized")
	}
	return client, nil
}

func newClient(store objectStore, cfg config.GCSConfig) *Client {
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = "https://storage.googleapis.com"
	}
	return &Client{store: store, defaultBucket: cfg.BucketName, publicBaseURL: base}
}

func (c *Client) DefaultBucket() string {
	if c == nil {
		return ""
	}
	return c.defaultBucket
}

func (c *Client) bucket(name string) string {
	if name == "" {
		return c.defaultBucket
	}
	return name
}

// Upload streams body to bucket/objectPath and returns its public URL.
func (c *Client) Upload(ctx context.Context, bucket, objectPath, contentType string, body io.Reader) (Object, error) {
	if c == nil || c.store == nil {
		return Object{}, errors.New("gcs client not initialized")
	}
	objectPath = strings.TrimLeft(objectPath, "/")
	if objectPath == "" {
		return Object{}, errors.New("object path is required")
	}
	if body == nil {
		return Object{}, errors.New("object body is required")
	}
	bucket = c.bucket(bucket)

	size, err := c.store.write(ctx, bucket, objectPath, contentType, body)
	if err != nil {
		return Object{}, fmt.Errorf("upload %s: %w", objectPath, err)
	}
	return Object{
		Bucket: bucket,
		Path:   objectPath,
		URL:    c.PublicURL(bucket, objectPath),
		Size:   size,
	}, nil
}

// Delete removes an object. A missing object is not an error.
func (c *Client) Delete(ctx context.Context, bucket, objectPath string) error {
	if c == nil || c.store == nil {
		return errors.New("gcs client not initialized")
	}
	objectPath = strings.TrimLeft(objectPath, "/")
	if objectPath == "" {
		return nil
	}
	err := c.store.delete(ctx, c.bucket(bucket), objectPath)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete %s: %w", objectPath, err)
	}
	return nil
}

// PublicURL builds the browser-facing URL of an object.
func (c *Client) PublicURL(bucket, objectPath string) string {
	segments := strings.Split(strings.TrimLeft(objectPath, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return fmt.Sprintf("%s/%s/%s", c.publicBaseURL, c.bucket(bucket), strings.Join(segments, "/"))
}

func (c *Client) Close() error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.close()
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.store == nil {
		return errors.New("gcs client not initialized")
	}
	if c.defaultBucket == "" {
		return errors.New("gcs bucket not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.store.bucketExists(ctx, c.defaultBucket)
}

type sdkStore struct {
	client *storage.Client
}

func (s *sdkStore) write(ctx context.Context, bucket, objectPath, contentType string, body io.Reader) (int64, error) {
	w := s.client.Bucket(bucket).Object(objectPath).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = cacheControl
	n, err := io.Copy(w, body)
	if err != nil {
		_ = w.Close()
		return n, err
	}
	if err := w.Close(); err != nil {
		return n, err
	}
	return n, nil
}

func (s *sdkStore) delete(ctx context.Context, bucket, objectPath string) error {
	return s.client.Bucket(bucket).Object(objectPath).Delete(ctx)
}

func (s *sdkStore) bucketExists(ctx context.Context, bucket string) error {
	_, err := s.client.Bucket(bucket).Attrs(ctx)
	return err
}

func (s *sdkStore) close() error {
	return s.client.Close()
}
