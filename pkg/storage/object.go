package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectPartSize is the multipart chunk used for streamed uploads of
// unknown length.
const objectPartSize = 8 << 20

// ObjectConfig configures a MinIO/S3 sink.
type ObjectConfig struct {
	// Endpoint is host[:port] or a URL; an https scheme forces TLS.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool

	// Bucket receives the artifacts; it is created when missing.
	Bucket string

	// Prefix is prepended to every object key (e.g. the run directory).
	Prefix string
}

// Object stores artifacts as objects under a bucket prefix.
type Object struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewObject connects to the object store and ensures the bucket exists.
func NewObject(ctx context.Context, cfg ObjectConfig) (*Object, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("object store credentials are required")
	}

	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		useSSL = useSSL || u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Object{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Create starts a streamed upload. Bytes written are piped into PutObject;
// the object becomes visible once Close returns nil.
func (o *Object) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	w := &objectWriter{pw: pw, done: make(chan error, 1)}

	opts := minio.PutObjectOptions{
		ContentType: contentType(name),
		PartSize:    objectPartSize,
	}
	go func() {
		_, err := o.client.PutObject(ctx, o.bucket, o.key(name), pr, -1, opts)
		// Unblock a writer still pushing bytes into a failed upload.
		pr.CloseWithError(err)
		w.done <- err
	}()

	return w, nil
}

// Remove deletes an object.
func (o *Object) Remove(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := o.client.RemoveObject(ctx, o.bucket, o.key(name), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// Location returns the s3:// URL of name.
func (o *Object) Location(name string) string {
	return "s3://" + o.bucket + "/" + o.key(name)
}

func (o *Object) key(name string) string {
	if o.prefix == "" {
		return name
	}
	return path.Join(o.prefix, name)
}

// objectWriter is the producing end of a streamed upload.
type objectWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *objectWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Close finishes the stream and waits for the upload to complete.
func (w *objectWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	if err := <-w.done; err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}

// Abort fails the stream so the upload is never completed.
func (w *objectWriter) Abort(cause error) error {
	if cause == nil {
		cause = io.ErrUnexpectedEOF
	}
	w.pw.CloseWithError(cause)
	<-w.done
	return nil
}

func contentType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
