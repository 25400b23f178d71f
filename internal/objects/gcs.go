package objects

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	"github.com/kalambet/docchat/internal/domain"
)

// Compile-time check that GCSStore implements Store.
var _ Store = (*GCSStore)(nil)

// GCSStore keeps objects in a Google Cloud Storage bucket.
type GCSStore struct {
	svc    *storage.Service
	bucket string
}

// NewGCS connects to the JSON API. Pass option.WithCredentialsFile to use
// a service account key instead of application default credentials.
func NewGCS(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, domain.StorageErr("gcs", errors.New("bucket is required"))
	}
	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, domain.StorageErr("creating gcs client", err)
	}
	return &GCSStore{svc: svc, bucket: bucket}, nil
}

func (s *GCSStore) Save(ctx context.Context, original string, r io.Reader) (string, error) {
	name := NewName(original)
	ct := ContentType(name)
	obj := &storage.Object{Name: name, ContentType: ct}
	if _, err := s.svc.Objects.Insert(s.bucket, obj).Media(r, googleapi.ContentType(ct)).Context(ctx).Do(); err != nil {
		return "", domain.StorageErr("uploading "+name, err)
	}
	return name, nil
}

func (s *GCSStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	resp, err := s.svc.Objects.Get(s.bucket, name).Context(ctx).Download()
	if isNotFound(err) {
		return nil, domain.StorageErr("downloading "+name, fmt.Errorf("%w: object %s", domain.ErrNotFound, name))
	}
	if err != nil {
		return nil, domain.StorageErr("downloading "+name, err)
	}
	return resp.Body, nil
}

func (s *GCSStore) Exists(ctx context.Context, name string) (bool, error) {
	obj, err := s.attrs(ctx, name)
	return obj != nil, err
}

func (s *GCSStore) URL(name string) string {
	return "https://storage.googleapis.com/" + s.bucket + "/" + url.PathEscape(name)
}

func (s *GCSStore) Delete(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	err := s.svc.Objects.Delete(s.bucket, name).Context(ctx).Do()
	if err != nil && !isNotFound(err) {
		return domain.StorageErr("deleting "+name, err)
	}
	return nil
}

func (s *GCSStore) Size(ctx context.Context, name string) (int64, error) {
	obj, err := s.attrs(ctx, name)
	if obj == nil {
		return 0, err
	}
	return int64(obj.Size), nil
}

// attrs returns the object metadata, or nil if the object does not exist.
func (s *GCSStore) attrs(ctx context.Context, name string) (*storage.Object, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	obj, err := s.svc.Objects.Get(s.bucket, name).Context(ctx).Do()
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageErr("reading metadata of "+name, err)
	}
	return obj, nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
