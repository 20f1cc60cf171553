package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/securedocs/internal/common"
	"github.com/google/uuid"
)

// S3ClientAPI is the subset of the S3 client the gateway uses.
type S3ClientAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type S3Config struct {
	Region       string
	RootUser     string
	RootPassword string
	BaseEndpoint string
	Bucket       string
}

var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) S3ClientAPI {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Gateway emulates a pinning store on an S3-compatible bucket.
//
// Layout:
//
//	blobs/<ca>          ciphertext, ca = hex sha256 of the bytes
//	pins/<pinID>        body is the content address the pin holds
//	refs/<ca>/<pinID>   empty marker, one per live pin on ca
//
// A blob is deleted once its last ref marker is gone.
type S3Gateway struct {
	client S3ClientAPI
	bucket string
}

func NewS3Gateway(ctx context.Context, cfg S3Config) (*S3Gateway, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.RootUser,
			cfg.RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3GatewayWithClient(client, cfg.Bucket), nil
}

func NewS3GatewayWithClient(client S3ClientAPI, bucket string) *S3Gateway {
	return &S3Gateway{client: client, bucket: bucket}
}

// ContentAddress is the address S3Gateway and LocalGateway assign to data.
func ContentAddress(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func blobKey(ca string) string { return "blobs/" + ca }
func pinKey(pinID string) string { return "pins/" + pinID }
func refKey(ca, pinID string) string { return refPrefix(ca) + pinID }
func refPrefix(ca string) string { return "refs/" + ca + "/" }

func (g *S3Gateway) Put(ctx context.Context, data []byte, name string) (Pin, error) {
	pin := Pin{ContentAddress: ContentAddress(data), PinID: uuid.NewString()}

	// The ref goes in before the blob so a concurrent Unpin of the same
	// content sees a live reference.
	if err := g.put(ctx, refKey(pin.ContentAddress, pin.PinID), nil); err != nil {
		return Pin{}, err
	}
	if err := g.put(ctx, blobKey(pin.ContentAddress), data); err != nil {
		return Pin{}, err
	}
	if err := g.put(ctx, pinKey(pin.PinID), []byte(pin.ContentAddress)); err != nil {
		return Pin{}, err
	}
	return pin, nil
}

func (g *S3Gateway) Get(ctx context.Context, contentAddress string) ([]byte, error) {
	if contentAddress == "" {
		return nil, common.ErrorNotFound
	}
	return g.get(ctx, blobKey(contentAddress))
}

func (g *S3Gateway) Unpin(ctx context.Context, pinID string) error {
	if pinID == "" {
		return fmt.Errorf("%w: empty pin id", common.ErrorValidation)
	}

	b, err := g.get(ctx, pinKey(pinID))
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	ca := string(b)

	if err := g.delete(ctx, refKey(ca, pinID)); err != nil {
		return err
	}

	out, err := g.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(g.bucket),
		Prefix:  aws.String(refPrefix(ca)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("%w: list refs: %w", common.ErrorStorageUnavailable, err)
	}
	if len(out.Contents) == 0 {
		if err := g.delete(ctx, blobKey(ca)); err != nil {
			return err
		}
	}

	// Dropped last so a failed unpin can be repeated.
	return g.delete(ctx, pinKey(pinID))
}

func (g *S3Gateway) put(ctx context.Context, key string, body []byte) error {
	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %w", common.ErrorStorageUnavailable, key, err)
	}
	return nil
}

func (g *S3Gateway) get(ctx context.Context, key string) ([]byte, error) {
	resp, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", common.ErrorNotFound, key)
		}
		return nil, fmt.Errorf("%w: get %s: %w", common.ErrorStorageUnavailable, key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", common.ErrorStorageUnavailable, key, err)
	}
	return data, nil
}

func (g *S3Gateway) delete(ctx context.Context, key string) error {
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("%w: delete %s: %w", common.ErrorStorageUnavailable, key, err)
	}
	return nil
}

// isNoSuchKey matches both the typed AWS error and the generic API error code
// some S3-compatible servers return.
func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || strings.HasSuffix(code, "NotFound")
	}
	return false
}
