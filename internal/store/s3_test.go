package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/context-graph/internal/model"
)

// fakeS3 is an in-memory objectAPI honouring IfMatch and IfNoneMatch.
type fakeS3 struct {
	mu        sync.Mutex
	objects   map[string]fakeObject
	seq       int
	beforePut func(key string)
}

type fakeObject struct {
	body []byte
	etag string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(obj.body)),
		ETag: aws.String(obj.etag),
	}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	if f.beforePut != nil {
		f.beforePut(key)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	obj, exists := f.objects[key]
	if aws.ToString(in.IfNoneMatch) == "*" && exists {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "exists"}
	}
	if in.IfMatch != nil && (!exists || obj.etag != *in.IfMatch) {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "etag mismatch"}
	}

	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.bump(key, body)
	return &s3.PutObjectOutput{ETag: aws.String(f.objects[key].etag)}, nil
}

// bump stores body under key with a fresh ETag. Callers hold f.mu.
func (f *fakeS3) bump(key string, body []byte) {
	f.seq++
	f.objects[key] = fakeObject{body: body, etag: fmt.Sprintf("\"etag-%d\"", f.seq)}
}

func TestS3Store_KeyLayout(t *testing.T) {
	fake := newFakeS3()
	s := newS3WithClient(fake, "bucket", "tenants/a")
	require.NoError(t, s.Create(context.Background(), sampleGraph("c1")))

	_, ok := fake.objects["tenants/a/c1.json"]
	assert.True(t, ok)
}

func TestS3Store_ETagRaceConflicts(t *testing.T) {
	fake := newFakeS3()
	s := newS3WithClient(fake, "bucket", "")
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleGraph("c1")))

	g, err := s.Load(ctx, "c1")
	require.NoError(t, err)

	// Another writer lands between our read and our conditional put.
	fake.beforePut = func(key string) {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		fake.bump(key, fake.objects[key].body)
	}

	_, err = s.Save(ctx, g, "lab:brand")
	assert.True(t, errors.Is(err, ErrVersionConflict), "got %v", err)
}

func TestS3Store_RevisionLogIsCapped(t *testing.T) {
	revs := make([]Revision, 0, maxS3Revisions)
	for i := 1; i <= maxS3Revisions; i++ {
		revs = append(revs, Revision{Version: int64(i)})
	}

	out := appendRevision(revs, Revision{Version: maxS3Revisions + 1})
	require.Len(t, out, maxS3Revisions)
	assert.Equal(t, int64(2), out[0].Version)
	assert.Equal(t, int64(maxS3Revisions+1), out[len(out)-1].Version)
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket required")
}

// statusRoundTripper answers every request with a fixed S3 error document.
type statusRoundTripper struct {
	status int
	code   string
}

func (rt statusRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>test</Message><RequestId>r1</RequestId></Error>`, rt.code)
	return &http.Response{
		StatusCode: rt.status,
		Header:     http.Header{"Content-Type": {"application/xml"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}, nil
}

func newTransportS3(t *testing.T, rt http.RoundTripper) *S3Store {
	t.Helper()
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	require.NoError(t, err)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.RetryMaxAttempts = 1
	})
	return newS3WithClient(client, "mock-bucket", "")
}

func TestS3Store_SDKNoSuchKeyIsNotFound(t *testing.T) {
	s := newTransportS3(t, statusRoundTripper{status: http.StatusNotFound, code: "NoSuchKey"})

	_, err := s.Load(context.Background(), "c1")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestS3Store_SDKPreconditionFailedOnCreate(t *testing.T) {
	s := newTransportS3(t, statusRoundTripper{status: http.StatusPreconditionFailed, code: "PreconditionFailed"})

	err := s.Create(context.Background(), model.NewContextGraph("c1", "Acme", ""))
	assert.True(t, errors.Is(err, ErrAlreadyExists), "got %v", err)
}

func TestS3Store_OtherErrorsPassThrough(t *testing.T) {
	s := newTransportS3(t, statusRoundTripper{status: http.StatusForbidden, code: "AccessDenied"})

	_, err := s.Load(context.Background(), "c1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "s3: load c1")
}
