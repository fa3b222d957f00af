package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/kiranshivaraju/physique/internal/config"
)

var (
	ErrImageNotFound       = errors.New("image not found")
	ErrImageTooLarge       = errors.New("image exceeds size limit")
	ErrUnsupportedImageRef = errors.New("unsupported image reference")
)

// DefaultMaxImageBytes mirrors the server's IMAGE_MAX_BYTES default.
const DefaultMaxImageBytes = 10 << 20

// Image is the raw subject photo plus its detected content type.
type Image struct {
	Data     []byte
	MIMEType string
}

// ImageLoader resolves an opaque image reference to bytes.
type ImageLoader interface {
	Load(ctx context.Context, ref string) (Image, error)
}

// ObjectGetter is the subset of *s3.Client the loader needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// RefLoader loads local paths, file:// and http(s):// URLs, and s3://bucket/key
// references. S3 is optional; without it s3:// references fail.
type RefLoader struct {
	HTTP     *http.Client
	S3       ObjectGetter
	MaxBytes int64
}

func NewRefLoader(httpClient *http.Client, s3Client ObjectGetter) *RefLoader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RefLoader{HTTP: httpClient, S3: s3Client, MaxBytes: DefaultMaxImageBytes}
}

func (l *RefLoader) Load(ctx context.Context, ref string) (Image, error) {
	if ref == "" {
		return Image{}, fmt.Errorf("%w: empty reference", ErrUnsupportedImageRef)
	}

	var (
		data []byte
		err  error
	)
	switch {
	case strings.HasPrefix(ref, "s3://"):
		data, err = l.loadS3(ctx, ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		data, err = l.loadHTTP(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		u, perr := url.Parse(ref)
		if perr != nil {
			return Image{}, fmt.Errorf("%w: %v", ErrUnsupportedImageRef, perr)
		}
		data, err = l.loadFile(u.Path)
	case strings.Contains(ref, "://"):
		return Image{}, fmt.Errorf("%w: %s", ErrUnsupportedImageRef, ref)
	default:
		data, err = l.loadFile(ref)
	}
	if err != nil {
		return Image{}, err
	}

	return Image{Data: data, MIMEType: http.DetectContentType(data)}, nil
}

func (l *RefLoader) loadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrImageNotFound, path)
		}
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	return l.readLimited(f)
}

func (l *RefLoader) loadHTTP(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImageRef, err)
	}
	resp, err := l.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, ref)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	return l.readLimited(resp.Body)
}

func (l *RefLoader) loadS3(ctx context.Context, ref string) ([]byte, error) {
	if l.S3 == nil {
		return nil, fmt.Errorf("%w: s3 is not configured", ErrUnsupportedImageRef)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(ref, "s3://"), "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: want s3://bucket/key, got %s", ErrUnsupportedImageRef, ref)
	}

	out, err := l.S3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		var noSuchBucket *types.NoSuchBucket
		if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) {
			return nil, fmt.Errorf("%w: %s", ErrImageNotFound, ref)
		}
		return nil, fmt.Errorf("get s3 object: %w", err)
	}
	defer out.Body.Close()
	return l.readLimited(out.Body)
}

func (l *RefLoader) readLimited(r io.Reader) ([]byte, error) {
	limit := l.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxImageBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, limit)
	}
	return data, nil
}

// NewS3Client builds an S3 client from the default AWS credential chain,
// overridden by explicit settings when present.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
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
	// S3-compatible stores accept any region; the SDK still requires one.
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

var _ ImageLoader = (*RefLoader)(nil)
