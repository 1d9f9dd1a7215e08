// Package s3 is a storage backend backed by Amazon S3, or any S3-compatible
// service reachable at a custom endpoint (including the rclone-bridge
// backend's local rclone server). Version tracking uses ETags, so writes
// that assert a prior version are a HEAD-then-PUT check rather than a true
// conditional write.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/firmament-sync/firmament/backend"
	"github.com/firmament-sync/firmament/encryptor"
)

// contentRebuildInterval is an hour rather than the base-class 60s default,
// since a ContentList rebuild here means a full ListObjectsV2 walk of the
// bucket rather than a cheap local directory walk.
const contentRebuildInterval = time.Hour

// Options configures a Backend beyond the bucket name itself. Endpoint and
// the credential pair are only needed against non-AWS S3-compatible
// services; leave them empty to use the default AWS credential chain.
type Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	StorageClass    string
}

// Backend stores content and database objects under a single S3 bucket
// (optionally under a key prefix).
type Backend struct {
	backend.ComposedBackend
	name   string
	client *s3.Client
	opts   Options
	enc    encryptor.Encryptor
}

// New builds a Backend and verifies the bucket is reachable with a
// HeadBucket call, translating the common failure codes into a BackendError
// the same way every other remote_* call does.
func New(ctx context.Context, name string, opts Options, enc encryptor.Encryptor) (*Backend, error) {
	if opts.Bucket == "" {
		return nil, &backend.BackendError{Backend: name, Op: "new", Err: fmt.Errorf("s3 backend requires a bucket")}
	}

	var configOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, &backend.BackendError{Backend: name, Op: "new", Err: fmt.Errorf("loading AWS config: %w", err)}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		if opts.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	b := &Backend{name: name, client: client, opts: opts, enc: enc}
	b.ComposedBackend = backend.NewComposedBackend(b, contentRebuildInterval)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(opts.Bucket)}); err != nil {
		return nil, &backend.BackendError{Backend: name, Op: "new", Err: translateHeadBucketError(opts.Bucket, err)}
	}
	return b, nil
}

func translateHeadBucketError(bucket string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket":
			return fmt.Errorf("bucket %q does not exist", bucket)
		case "Forbidden":
			return fmt.Errorf("access denied to bucket %q", bucket)
		}
	}
	return fmt.Errorf("cannot access bucket %q: %w", bucket, err)
}

// Factory adapts New to backend.Factory for use in a backend.Registry. An
// optional options["encryption_key"] gives this backend its own passphrase,
// independent of any other backend in the same checkout.
func Factory() backend.Factory {
	return func(name string, options map[string]string) (backend.Backend, error) {
		opts := Options{
			Bucket:          options["bucket"],
			Prefix:          strings.Trim(options["prefix"], "/"),
			Region:          options["region"],
			Endpoint:        options["endpoint"],
			AccessKeyID:     options["access_key_id"],
			SecretAccessKey: options["secret_access_key"],
			ForcePathStyle:  options["force_path_style"] == "true",
			StorageClass:    options["storage_class"],
		}
		enc, err := encryptor.New(options["encryption_key"])
		if err != nil {
			return nil, &backend.BackendError{Backend: name, Op: "factory", Err: err}
		}
		return New(context.Background(), name, opts, enc)
	}
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) fullKey(path string) string {
	if b.opts.Prefix == "" {
		return path
	}
	return b.opts.Prefix + "/" + path
}

func (b *Backend) RemoteContentPath(hash string) string {
	encrypted, err := b.enc.EncryptIdentifier(hash)
	if err != nil {
		panic(fmt.Sprintf("s3: encrypting content identifier: %v", err))
	}
	prefix := encrypted
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	return "content/" + prefix + "/" + encrypted
}

func (b *Backend) RemoteDatabasePath(name string) string {
	return "database-" + name
}

func (b *Backend) RemoteReadIO(path string, w io.Writer) (string, error) {
	ctx := context.Background()
	key := b.fullKey(path)
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.opts.Bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("s3: object not found: %s", key)
		}
		return "", fmt.Errorf("s3: reading %s: %w", key, err)
	}
	defer out.Body.Close()

	if err := b.enc.DecryptStream(w, out.Body); err != nil {
		return "", fmt.Errorf("s3: decrypting %s: %w", key, err)
	}
	return strings.Trim(aws.ToString(out.ETag), `"`), nil
}

func (b *Backend) RemoteWriteIO(path string, r io.Reader, overVersion string, isContent bool) error {
	ctx := context.Background()
	key := b.fullKey(path)

	var ciphertext bytes.Buffer
	if err := b.enc.EncryptStream(&ciphertext, r); err != nil {
		return fmt.Errorf("s3: encrypting %s: %w", key, err)
	}

	if overVersion != "" {
		head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.opts.Bucket), Key: aws.String(key)})
		if err != nil {
			if isNotFound(err) {
				return &backend.VersionError{Path: path, Err: fmt.Errorf("requested version %s but object does not exist", overVersion)}
			}
			return fmt.Errorf("s3: checking version of %s: %w", key, err)
		}
		current := strings.Trim(aws.ToString(head.ETag), `"`)
		if current != overVersion {
			return &backend.VersionError{Path: path, Err: fmt.Errorf("requested version %s, got %s", overVersion, current)}
		}
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(ciphertext.Bytes()),
	}
	if isContent && b.opts.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(b.opts.StorageClass)
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3: writing %s: %w", key, err)
	}
	return nil
}

func (b *Backend) RemoteExists(path string) (bool, error) {
	ctx := context.Background()
	key := b.fullKey(path)
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.opts.Bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3: checking existence of %s: %w", key, err)
	}
	return true, nil
}

func (b *Backend) RemoteDelete(path string) error {
	ctx := context.Background()
	key := b.fullKey(path)
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.opts.Bucket), Key: aws.String(key)})
	if err != nil {
		return fmt.Errorf("s3: deleting %s: %w", key, err)
	}
	return nil
}

// RemoteContentWalk lists every object under the content/ prefix with the
// ListObjectsV2 paginator, decrypting each object's key back to its
// plaintext content hash.
func (b *Backend) RemoteContentWalk() (<-chan string, <-chan error) {
	hashes := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(hashes)
		defer close(errs)

		ctx := context.Background()
		contentPrefix := b.fullKey("content/")
		paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(b.opts.Bucket),
			Prefix: aws.String(contentPrefix),
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				errs <- fmt.Errorf("s3: listing %s: %w", contentPrefix, err)
				return
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				filename := key
				if idx := strings.LastIndex(key, "/"); idx >= 0 {
					filename = key[idx+1:]
				}
				hash, err := b.enc.DecryptIdentifier(filename)
				if err != nil {
					continue
				}
				hashes <- hash
			}
		}
		errs <- nil
	}()

	return hashes, errs
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
