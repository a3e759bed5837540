package source

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	objects map[string]string
	calls   []string
}

func (f *fakeObjects) NewReader(_ context.Context, bucket, object string) (io.ReadCloser, error) {
	f.calls = append(f.calls, bucket+"/"+object)
	body, ok := f.objects[bucket+"/"+object]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func readAll(t *testing.T, o *Opener, location string) string {
	t.Helper()
	rc, err := o.Open(context.Background(), location)
	require.NoError(t, err)
	defer func() { require.NoError(t, rc.Close()) }()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func gz(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestOpenerLocations(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	plain := filepath.Join(dir, "seeds.tsv")
	require.NoError(t, os.WriteFile(plain, []byte("http://a.com/\n"), 0o600))
	packed := filepath.Join(dir, "crawl.log.gz")
	require.NoError(t, os.WriteFile(packed, gz(t, "log line\n"), 0o600))

	objects := &fakeObjects{objects: map[string]string{
		"bucket/path/crawl.cdx":    "cdx line\n",
		"bucket/path/crawl.log.gz": string(gz(t, "remote log\n")),
	}}
	o := NewOpenerWith(strings.NewReader("from stdin\n"), objects)

	require.Equal(t, "from stdin\n", readAll(t, o, Stdin))
	require.Equal(t, "http://a.com/\n", readAll(t, o, plain))
	require.Equal(t, "log line\n", readAll(t, o, packed))
	require.Equal(t, "cdx line\n", readAll(t, o, "gs://bucket/path/crawl.cdx"))
	require.Equal(t, "remote log\n", readAll(t, o, "gs://bucket/path/crawl.log.gz"))
	require.Equal(t, []string{"bucket/path/crawl.cdx", "bucket/path/crawl.log.gz"}, objects.calls)

	_, err := o.Open(context.Background(), filepath.Join(dir, "missing"))
	require.Error(t, err)
	_, err = o.Open(context.Background(), "gs://bucket/missing")
	require.Error(t, err)
	_, err = o.Open(context.Background(), plain+".gz")
	require.Error(t, err)
}

func TestOpenerWithoutObjectStore(t *testing.T) {
	t.Parallel()

	o := NewOpenerWith(strings.NewReader(""), nil)
	_, err := o.Open(context.Background(), "gs://bucket/object")
	require.Error(t, err)
}

func TestParseGSURI(t *testing.T) {
	t.Parallel()

	bucket, object, err := ParseGSURI("gs://crawl-logs/2018/crawl.log")
	require.NoError(t, err)
	require.Equal(t, "crawl-logs", bucket)
	require.Equal(t, "2018/crawl.log", object)

	for _, bad := range []string{"s3://x/y", "gs://bucket", "gs:///object", "gs://bucket/"} {
		_, _, err := ParseGSURI(bad)
		require.Error(t, err, bad)
	}
}

func TestNewGCSRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := NewGCS(nil)
	require.Error(t, err)
}
