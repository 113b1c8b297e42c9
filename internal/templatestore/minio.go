package templatestore

import (
	"context"
	"errors"
	"io"
	"path"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/opslens/vdiag/internal/config"
	"github.com/opslens/vdiag/internal/errs"
)

// fetchTimeout bounds a single object read. Template files are tiny;
// anything slower means the store is unhealthy and the embedded fallback
// should win.
const fetchTimeout = 10 * time.Second

// MinIOSource serves template files from an object-store bucket, keyed as
// <prefix>/<name>.
type MinIOSource struct {
	client *miniogo.Client
	bucket string
	prefix string
}

// NewMinIOSource connects to the object store and verifies the bucket
// exists before returning.
func NewMinIOSource(ctx context.Context, cfg *config.MinIOConfig) (*MinIOSource, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "creating object store client", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "checking template bucket", err)
	}
	if !exists {
		return nil, errs.New(errs.ErrKindNotFound, "template bucket does not exist: "+cfg.Bucket)
	}

	return &MinIOSource{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Text downloads one template file. Missing objects map to NotFound so the
// catalog loader falls back to the embedded copy.
func (s *MinIOSource) Text(name string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	key := path.Join(s.prefix, name)
	obj, err := s.client.GetObject(ctx, s.bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, mapMinIOError(err, key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapMinIOError(err, key)
	}
	return data, nil
}

func mapMinIOError(err error, key string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, "fetching template object "+key, err)
	}

	var resp miniogo.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchKey", "NoSuchBucket":
			return errs.Wrap(errs.ErrKindNotFound, "template object not found: "+key, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return errs.Wrap(errs.ErrKindPermissionDenied, "template object access denied: "+key, err)
		}
	}
	return errs.Wrap(errs.ErrKindConnectionFailed, "fetching template object "+key, err)
}
