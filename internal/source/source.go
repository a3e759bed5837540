// Package source opens input streams named on the command line: "-" for stdin, a
// gs://bucket/object URI, or a local path. Names ending in .gz are decompressed.
package source

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
)

// Stdin is the location that selects standard input.
const Stdin = "-"

// ObjectOpener reads objects from a bucket store.
type ObjectOpener interface {
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// Opener resolves locations to readers. The object store is dialed on first use.
type Opener struct {
	stdin io.Reader
	dial  func(context.Context) (ObjectOpener, error)

	once    sync.Once
	objects ObjectOpener
	dialErr error
}

// NewOpener returns an Opener reading stdin from os.Stdin and gs:// objects through a
// Cloud Storage client created with application default credentials.
func NewOpener() *Opener {
	return &Opener{stdin: os.Stdin, dial: DialGCS}
}

// NewOpenerWith builds an Opener over explicit collaborators (primarily for testing).
func NewOpenerWith(stdin io.Reader, objects ObjectOpener) *Opener {
	return &Opener{
		stdin: stdin,
		dial: func(context.Context) (ObjectOpener, error) {
			if objects == nil {
				return nil, errors.New("object store is not configured")
			}
			return objects, nil
		},
	}
}

// Open returns a reader for location. The caller must close it.
func (o *Opener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	var (
		rc  io.ReadCloser
		err error
	)
	switch {
	case location == Stdin:
		rc = io.NopCloser(o.stdin)
	case strings.HasPrefix(location, "gs://"):
		bucket, object, perr := ParseGSURI(location)
		if perr != nil {
			return nil, perr
		}
		objects, derr := o.objectStore(ctx)
		if derr != nil {
			return nil, derr
		}
		rc, err = objects.NewReader(ctx, bucket, object)
	default:
		rc, err = os.Open(location) //nolint:gosec // operator-supplied input path
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", location, err)
	}
	if !strings.HasSuffix(location, ".gz") {
		return rc, nil
	}
	zr, err := gzip.NewReader(rc)
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("gunzip %s: %w", location, err)
	}
	return &gzipReadCloser{Reader: zr, underlying: rc}, nil
}

func (o *Opener) objectStore(ctx context.Context) (ObjectOpener, error) {
	o.once.Do(func() {
		o.objects, o.dialErr = o.dial(ctx)
	})
	return o.objects, o.dialErr
}

// ParseGSURI splits gs://bucket/object.
func ParseGSURI(uri string) (string, string, error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs uri %q needs bucket and object", uri)
	}
	return bucket, object, nil
}

type gzipReadCloser struct {
	*gzip.Reader
	underlying io.Closer
}

func (g *gzipReadCloser) Close() error {
	return errors.Join(g.Reader.Close(), g.underlying.Close())
}

// GCS reads objects from Google Cloud Storage.
type GCS struct {
	client *storage.Client
}

// NewGCS wraps an existing storage client.
func NewGCS(client *storage.Client) (*GCS, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return &GCS{client: client}, nil
}

// DialGCS creates a storage client using application default credentials.
func DialGCS(ctx context.Context) (ObjectOpener, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return NewGCS(client)
}

// NewReader streams gs://bucket/object.
func (g *GCS) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", bucket, object, err)
	}
	return r, nil
}
