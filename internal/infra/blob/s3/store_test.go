package s3

import (
	"bytes"
	"casecore/internal/blob/core"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves the handful of path-style S3 calls the store makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type fakeObject struct {
	body        []byte
	contentType string
}

func reply(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: header}
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return f.list(req.URL.Query().Get("prefix")), nil
	}
	obj, ok := f.objects[key]
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		if !ok {
			return reply(http.StatusNotFound, "", nil), nil
		}
		header := http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"Etag":           {`"abc123"`},
			"Last-Modified":  {time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat)},
		}
		body := string(obj.body)
		if req.Method == http.MethodHead {
			body = ""
		}
		return reply(http.StatusOK, body, header), nil
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type")}
		return reply(http.StatusOK, "", http.Header{"Etag": {`"abc123"`}}), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return reply(http.StatusNoContent, "", nil), nil
	}
	return reply(http.StatusNotImplemented, "", nil), nil
}

func (f *fakeS3) list(prefix string) *http.Response {
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return reply(http.StatusOK, b.String(), http.Header{"Content-Type": {"application/xml"}})
}

func newFakeStore(t *testing.T) (*Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string]fakeObject)}
	client := awss3.New(awss3.Options{
		Region:                     "us-east-1",
		Credentials:                credentials.NewStaticCredentialsProvider("AKID", "SECRET", ""),
		HTTPClient:                 &http.Client{Transport: fake},
		UsePathStyle:               true,
		BaseEndpoint:               aws.String("http://s3.test"),
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
	return NewWithClient(client, "exports"), fake
}

func TestStoreRoundTripAgainstFakeEndpoint(t *testing.T) {
	ctx := context.Background()
	store, fake := newFakeStore(t)
	assert.Equal(t, core.DriverS3, store.Driver())
	assert.Equal(t, "exports", store.Bucket())

	info, err := store.Put(ctx, "exports/audit/a.jsonl", strings.NewReader("{\"a\":1}\n"), core.PutOptions{ContentType: "application/x-ndjson"})
	require.NoError(t, err)
	assert.EqualValues(t, 8, info.Size)
	assert.Equal(t, "abc123", info.ETag)
	assert.Equal(t, []byte("{\"a\":1}\n"), fake.objects["exports/audit/a.jsonl"].body)

	_, err = store.Put(ctx, "exports/audit/a.jsonl", bytes.NewReader(nil), core.PutOptions{})
	assert.ErrorIs(t, err, core.ErrExists)

	got, rc, err := store.Get(ctx, "exports/audit/a.jsonl")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "{\"a\":1}\n", string(body))
	assert.Equal(t, "application/x-ndjson", got.ContentType)

	_, err = store.Put(ctx, "exports/progressions/b.jsonl", strings.NewReader("x"), core.PutOptions{})
	require.NoError(t, err)
	infos, err := store.List(ctx, "exports/audit/")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "exports/audit/a.jsonl", infos[0].Key)

	deleted, err := store.Delete(ctx, "exports/audit/a.jsonl")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = store.Delete(ctx, "exports/audit/a.jsonl")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, _, err = store.Get(ctx, "exports/audit/a.jsonl")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}
