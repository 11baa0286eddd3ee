package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/models"
)

// S3Store stores assets in S3 or any S3-compatible service (MinIO, R2).
// Objects are keyed <prefix>/<namespace>/<id>; metadata rides on the
// object itself (ContentType plus x-amz-meta fields), so no database row
// is needed.
type S3Store struct {
	client     *s3.Client
	presigner  *s3.PresignClient
	bucket     string
	prefix     string
	publicBase string
	presignTTL time.Duration
}

// NewS3Store builds the client from the asset config. Static credentials
// are optional; without them the default AWS credential chain applies
// (env, shared config, IMDS).
func NewS3Store(ctx context.Context, cfg *config.AssetConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 asset backend requires a bucket")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{
		client:     client,
		presigner:  s3.NewPresignClient(client),
		bucket:     cfg.Bucket,
		prefix:     strings.Trim(cfg.Prefix, "/"),
		publicBase: strings.TrimRight(cfg.PublicBase, "/"),
		presignTTL: cfg.PresignTTL,
	}, nil
}

// Put uploads the asset, hashing the body as the SDK consumes it.
func (s *S3Store) Put(ctx context.Context, in PutInput) (*Asset, error) {
	id := models.NewID()
	hr := &hashReader{r: in.Data, h: sha256.New()}

	meta := map[string]string{}
	if in.Name != "" {
		meta["name"] = in.Name
	}

	input := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.objectKey(in.Namespace, id)),
		Body:     hr,
		Metadata: meta,
	}
	if in.MIME != "" {
		input.ContentType = aws.String(in.MIME)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}

	return &Asset{
		ID:        id,
		Namespace: in.Namespace,
		Name:      in.Name,
		MIME:      in.MIME,
		Size:      hr.n,
		SHA256:    hex.EncodeToString(hr.h.Sum(nil)),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Get streams the object; the caller owns the returned ReadCloser.
func (s *S3Store) Get(ctx context.Context, namespace, id string) (*Asset, io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(namespace, id)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
		}
		return nil, nil, fmt.Errorf("get object: %w", err)
	}

	asset := &Asset{ID: id, Namespace: namespace}
	if out.ContentType != nil {
		asset.MIME = *out.ContentType
	}
	if out.ContentLength != nil {
		asset.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		asset.CreatedAt = *out.LastModified
	}
	if name, ok := out.Metadata["name"]; ok {
		asset.Name = name
	}
	return asset, out.Body, nil
}

// Exists uses HeadObject.
func (s *S3Store) Exists(ctx context.Context, namespace, id string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(namespace, id)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head object: %w", err)
	}
	return true, nil
}

// Delete removes the object. Deleting a missing object is not an error,
// matching S3 semantics.
func (s *S3Store) Delete(ctx context.Context, namespace, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(namespace, id)),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// URL prefers the configured public base; otherwise it pre-signs a GET.
func (s *S3Store) URL(ctx context.Context, namespace, id string) (string, error) {
	key := s.objectKey(namespace, id)
	if s.publicBase != "" {
		return s.publicBase + "/" + key, nil
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return req.URL, nil
}

func (s *S3Store) objectKey(namespace, id string) string {
	ns := namespace
	if ns == "" {
		ns = "default"
	}
	return path.Join(s.prefix, ns, id)
}

// isS3NotFound matches the various shapes S3 reports a missing object in.
func isS3NotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return false
}

// hashReader hashes and counts bytes as they are read.
type hashReader struct {
	r io.Reader
	h interface {
		io.Writer
		Sum([]byte) []byte
	}
	n int64
}

func (hr *hashReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
		hr.n += int64(n)
	}
	return n, err
}
