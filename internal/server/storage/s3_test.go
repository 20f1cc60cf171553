package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/securedocs/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memS3 implements S3ClientAPI over a map.
type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
}

func newMemS3() *memS3 { return &memS3{objects: map[string][]byte{}} }

func (m *memS3) fail(op string) error {
	if m.failOn == op {
		return errors.New("connection reset")
	}
	return nil
}

func (m *memS3) PutObject(ctx context.Context, p *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := m.fail("put"); err != nil {
		return nil, err
	}
	b, _ := io.ReadAll(p.Body)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*p.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) GetObject(ctx context.Context, p *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := m.fail("get"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[*p.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (m *memS3) DeleteObject(ctx context.Context, p *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if err := m.fail("delete"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *p.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *memS3) ListObjectsV2(ctx context.Context, p *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := m.fail("list"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &s3.ListObjectsV2Output{}
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(p.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func (m *memS3) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ks []string
	for k := range m.objects {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

func TestS3Gateway_PutGet(t *testing.T) {
	client := newMemS3()
	g := NewS3GatewayWithClient(client, "bucket")

	pin, err := g.Put(context.Background(), []byte("cipher"), "f.txt")
	require.NoError(t, err)
	assert.Equal(t, ContentAddress([]byte("cipher")), pin.ContentAddress)
	assert.NotEmpty(t, pin.PinID)
	assert.NotEqual(t, pin.ContentAddress, pin.PinID)

	b, err := g.Get(context.Background(), pin.ContentAddress)
	require.NoError(t, err)
	assert.Equal(t, []byte("cipher"), b)

	assert.ElementsMatch(t, []string{
		"blobs/" + pin.ContentAddress,
		"pins/" + pin.PinID,
		"refs/" + pin.ContentAddress + "/" + pin.PinID,
	}, client.keys())
}

func TestS3Gateway_SameBytesSameAddress(t *testing.T) {
	g := NewS3GatewayWithClient(newMemS3(), "bucket")

	p1, err := g.Put(context.Background(), []byte("x"), "a")
	require.NoError(t, err)
	p2, err := g.Put(context.Background(), []byte("x"), "b")
	require.NoError(t, err)

	assert.Equal(t, p1.ContentAddress, p2.ContentAddress)
	assert.NotEqual(t, p1.PinID, p2.PinID)
}

func TestS3Gateway_GetMissing(t *testing.T) {
	g := NewS3GatewayWithClient(newMemS3(), "bucket")

	_, err := g.Get(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestS3Gateway_UnpinKeepsContentPinnedElsewhere(t *testing.T) {
	client := newMemS3()
	g := NewS3GatewayWithClient(client, "bucket")
	ctx := context.Background()

	p1, err := g.Put(ctx, []byte("shared"), "a")
	require.NoError(t, err)
	p2, err := g.Put(ctx, []byte("shared"), "b")
	require.NoError(t, err)

	require.NoError(t, g.Unpin(ctx, p1.PinID))
	b, err := g.Get(ctx, p2.ContentAddress)
	require.NoError(t, err, "second pin must keep the blob alive")
	assert.Equal(t, []byte("shared"), b)

	require.NoError(t, g.Unpin(ctx, p2.PinID))
	_, err = g.Get(ctx, p2.ContentAddress)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Empty(t, client.keys())
}

func TestS3Gateway_UnpinIdempotent(t *testing.T) {
	g := NewS3GatewayWithClient(newMemS3(), "bucket")

	require.NoError(t, g.Unpin(context.Background(), "never-existed"))
	assert.ErrorIs(t, g.Unpin(context.Background(), ""), common.ErrorValidation)
}

func TestS3Gateway_BackendErrors(t *testing.T) {
	for _, op := range []string{"put", "get", "delete", "list"} {
		t.Run(op, func(t *testing.T) {
			client := newMemS3()
			g := NewS3GatewayWithClient(client, "bucket")
			pin, err := g.Put(context.Background(), []byte("data"), "f")
			require.NoError(t, err)

			client.failOn = op
			switch op {
			case "put":
				_, err = g.Put(context.Background(), []byte("data"), "f")
			case "get":
				_, err = g.Get(context.Background(), pin.ContentAddress)
			default:
				err = g.Unpin(context.Background(), pin.PinID)
			}
			assert.ErrorIs(t, err, common.ErrorStorageUnavailable)
		})
	}
}

func TestIsNoSuchKey(t *testing.T) {
	assert.True(t, isNoSuchKey(&types.NoSuchKey{}))
	assert.True(t, isNoSuchKey(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.True(t, isNoSuchKey(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isNoSuchKey(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNoSuchKey(errors.New("boom")))
}

func TestNewS3Gateway_AppliesConfig(t *testing.T) {
	origLoad, origNew := loadDefaultAWSConfig, newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNew
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "us-east-1", lo.Region)
		assert.NotNil(t, lo.Credentials)
		return aws.Config{}, nil
	}
	var opts s3.Options
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) S3ClientAPI {
		for _, fn := range optFns {
			fn(&opts)
		}
		return newMemS3()
	}

	g, err := NewS3Gateway(context.Background(), S3Config{
		Region: "us-east-1", RootUser: "minio", RootPassword: "minio123",
		BaseEndpoint: "http://127.0.0.1:9000", Bucket: "securedocs",
	})
	require.NoError(t, err)
	assert.Equal(t, "securedocs", g.bucket)
	require.NotNil(t, opts.BaseEndpoint)
	assert.Equal(t, "http://127.0.0.1:9000", *opts.BaseEndpoint)
	assert.True(t, opts.UsePathStyle)
}

func TestNewS3Gateway_LoadError(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no creds")
	}

	_, err := NewS3Gateway(context.Background(), S3Config{})
	assert.ErrorContains(t, err, "no creds")
}
