package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// DefaultMirrorPrefix is the key prefix of mirrored files.
const DefaultMirrorPrefix = "stackshift/manifests"

// S3API is the subset of the S3 client the mirror needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// s3Mirror implements Mirror on an S3 bucket. Bodies are sealed with
// EncryptManifest before upload when a key is configured.
type s3Mirror struct {
	bucket  string
	prefix  string
	region  string
	encrypt bool
	profile string

	client S3API
}

func newS3Mirror(ctx context.Context, config map[string]string, client S3API) (Mirror, error) {
	m, err := s3MirrorFromConfig(config)
	if err != nil {
		return nil, err
	}
	if client != nil {
		m.client = client
		return m, nil
	}
	if err := m.initClient(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize S3 mirror: %w", err)
	}
	return m, nil
}

func s3MirrorFromConfig(config map[string]string) (*s3Mirror, error) {
	bucket := config["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("s3 mirror requires 'bucket' configuration")
	}

	prefix, ok := config["prefix"]
	if !ok {
		prefix = DefaultMirrorPrefix
	}

	region := config["region"]
	if region == "" {
		region = "us-east-1"
	}

	return &s3Mirror{
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		region:  region,
		encrypt: config["encrypt"] == "true",
		profile: config["profile"],
	}, nil
}

func (m *s3Mirror) initClient(ctx context.Context) error {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(m.region))
	if m.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(m.profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("unable to load AWS config: %w", err)
	}
	m.client = s3.NewFromConfig(cfg)
	return nil
}

func (m *s3Mirror) key(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

func (m *s3Mirror) Put(ctx context.Context, name string, body []byte) (string, error) {
	sealed, err := EncryptManifest(body)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt %s: %w", name, err)
	}

	key := m.key(name)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(sealed),
		ContentType: aws.String("text/plain"),
	}
	if m.encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := m.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to write s3://%s/%s: %w", m.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", m.bucket, key), nil
}

func (m *s3Mirror) Get(ctx context.Context, name string) ([]byte, error) {
	key := m.key(name)
	result, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("s3://%s/%s does not exist", m.bucket, key)
		}
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", m.bucket, key, err)
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}
	return DecryptManifest(buf.Bytes())
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(url string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(url, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %q", url)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 url %q needs a bucket and a key", url)
	}
	return bucket, key, nil
}
