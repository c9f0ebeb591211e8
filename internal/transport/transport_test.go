package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	objects map[string][]byte
	puts    map[string][]byte
	getErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, puts: map[string][]byte{}}
}

func (f *fakeStore) GetObject(_ context.Context, bucket, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, wrapError(CodeObjectNotFound, false, fmt.Errorf("no such key %s", key))
	}
	return data, nil
}

func (f *fakeStore) PutObject(_ context.Context, bucket, key string, data []byte) error {
	f.puts[bucket+"/"+key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeStore) ListPrefix(_ context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for k := range f.objects {
		rest, ok := cutBucket(k, bucket)
		if !ok {
			continue
		}
		if prefix == "" || hasPrefix(rest, prefix) {
			keys = append(keys, rest)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func cutBucket(k, bucket string) (string, bool) {
	want := bucket + "/"
	if len(k) <= len(want) || k[:len(want)] != want {
		return "", false
	}
	return k[len(want):], true
}

func hasPrefix(s, p string) bool {
	return len(s) >= len(p) && s[:len(p)] == p
}

func TestParseURI(t *testing.T) {
	bucket, prefix, err := ParseURI("s3://feeds/wco/2024")
	require.NoError(t, err)
	assert.Equal(t, "feeds", bucket)
	assert.Equal(t, "wco/2024", prefix)

	bucket, prefix, err = ParseURI("minio://feeds")
	require.NoError(t, err)
	assert.Equal(t, "feeds", bucket)
	assert.Equal(t, "", prefix)

	_, _, err = ParseURI("https://feeds/wco")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme")

	_, _, err = ParseURI("s3://")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestDownloadPrefix(t *testing.T) {
	store := newFakeStore()
	store.objects["feeds/wco/part-0.parquet"] = []byte("p0")
	store.objects["feeds/wco/part-1.parquet"] = []byte("p1")
	store.objects["feeds/other/skip.parquet"] = []byte("x")

	dir := t.TempDir()
	files, err := DownloadPrefix(context.Background(), store, "feeds", "wco", dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "part-0.parquet"), files[0])

	got, err := os.ReadFile(files[1])
	require.NoError(t, err)
	assert.Equal(t, "p1", string(got))
}

func TestDownloadPrefixEmpty(t *testing.T) {
	store := newFakeStore()
	_, err := DownloadPrefix(context.Background(), store, "feeds", "nothing", t.TempDir())
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeObjectNotFound, te.Code)
}

func TestDownloadPrefixPropagatesGetError(t *testing.T) {
	store := newFakeStore()
	store.objects["feeds/wco/a"] = []byte("a")
	store.getErr = wrapError(CodePermissionDenied, false, fmt.Errorf("denied"))

	_, err := DownloadPrefix(context.Background(), store, "feeds", "wco", t.TempDir())
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodePermissionDenied, te.Code)
}

func TestUploadFile(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "out.xml")
	require.NoError(t, os.WriteFile(local, []byte("<WCOData/>"), 0o644))

	store := newFakeStore()
	require.NoError(t, UploadFile(context.Background(), store, "feeds", "out/feed.xml", local))
	assert.Equal(t, "<WCOData/>", string(store.puts["feeds/out/feed.xml"]))
}

func TestWithRetry(t *testing.T) {
	c := &S3Client{retries: 3, backoff: 0}

	calls := 0
	err := c.withRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return wrapError(CodeTimeout, true, fmt.Errorf("slow"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	// Non-retryable stops immediately.
	calls = 0
	err = c.withRetry(context.Background(), func() error {
		calls++
		return wrapError(CodeAuthInvalid, false, fmt.Errorf("bad key"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	// Retries exhaust with the last error.
	calls = 0
	err = c.withRetry(context.Background(), func() error {
		calls++
		return wrapError(CodeTransferFailed, true, fmt.Errorf("flaky"))
	})
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeTransferFailed, te.Code)
	assert.Equal(t, 3, calls)
}

func TestWithRetryHonorsContext(t *testing.T) {
	c := &S3Client{retries: 3, backoff: 0}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.withRetry(ctx, func() error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err       error
		code      string
		retryable bool
	}{
		{errors.New("connection refused"), CodeEndpointUnreachable, true},
		{errors.New("i/o timeout"), CodeTimeout, true},
		{errors.New("The specified key does not exist"), CodeObjectNotFound, false},
		{errors.New("Access Denied."), CodePermissionDenied, false},
		{errors.New("SignatureDoesNotMatch: check your key and signing method"), CodeAuthInvalid, false},
		{errors.New("unexpected EOF"), CodeTransferFailed, true},
	}
	for _, tc := range cases {
		got := classifyError(tc.err)
		assert.Equal(t, tc.code, got.Code, "for %v", tc.err)
		assert.Equal(t, tc.retryable, got.Retryable, "for %v", tc.err)
		assert.ErrorIs(t, got, tc.err)
	}
}
