package cloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"mdsync/internal/mdsync"
)

// s3API is the subset of the S3 client the backend uses.
type s3API interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Options configures an S3 backend.
type S3Options struct {
	Bucket string
	// Prefix is prepended to every key; folders become nested prefixes.
	Prefix          string
	Region          string
	Endpoint        string // non-empty for S3-compatible stores; enables path-style addressing
	AccessKeyID     string
	SecretAccessKey string
}

// S3 stores the canonical document and backups as objects. File ids are
// object keys and folder ids are key prefixes ending in "/".
type S3 struct {
	client   s3API
	uploader *manager.Uploader
	bucket   string
	root     string
}

// NewS3 loads AWS configuration and creates an S3 backend. Static
// credentials are used when AccessKeyID is set; otherwise the default
// credential chain applies.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 backend requires a bucket")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3(client, opts.Bucket, opts.Prefix), nil
}

func newS3(client s3API, bucket, prefix string) *S3 {
	root := strings.Trim(prefix, "/")
	if root != "" {
		root += "/"
	}
	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		root:     root,
	}
}

// classifyS3 translates an SDK error into a RemoteError.
func classifyS3(err error) error {
	if err == nil {
		return nil
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return &mdsync.RemoteError{Kind: mdsync.RemoteNotFound, StatusCode: http.StatusNotFound, Message: "object not found", Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &mdsync.RemoteError{Kind: mdsync.RemoteNetwork, Err: err}
	}

	msg := ""
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.ErrorMessage()
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		kind := mdsync.RemoteAPI
		switch status {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = mdsync.RemoteAuth
		case http.StatusNotFound:
			kind = mdsync.RemoteNotFound
		case http.StatusConflict, http.StatusPreconditionFailed:
			kind = mdsync.RemoteConflict
		}
		return &mdsync.RemoteError{Kind: kind, StatusCode: status, Message: msg, Err: err}
	}
	if apiErr != nil {
		return &mdsync.RemoteError{Kind: mdsync.RemoteAPI, Message: msg, Err: err}
	}
	return &mdsync.RemoteError{Kind: mdsync.RemoteNetwork, Err: err}
}

func (s *S3) folderKey(folderID string) string {
	if folderID == "" {
		return s.root
	}
	return folderID
}

// FindOrCreateFolder returns the prefix for name. S3 has no folders, so
// nothing is written.
func (s *S3) FindOrCreateFolder(_ context.Context, name, parentID string) (string, error) {
	return s.folderKey(parentID) + strings.Trim(name, "/") + "/", nil
}

func (s *S3) head(ctx context.Context, key string) (*mdsync.RemoteFile, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, classifyS3(err)
	}
	return &mdsync.RemoteFile{
		ID:           key,
		Name:         path.Base(key),
		ModifiedTime: aws.ToTime(out.LastModified),
		Size:         aws.ToInt64(out.ContentLength),
	}, nil
}

// objects lists every object under prefix, following continuation tokens.
func (s *S3) objects(ctx context.Context, prefix, delimiter string) ([]mdsync.RemoteFile, error) {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket), Prefix: aws.String(prefix)}
	if delimiter != "" {
		in.Delimiter = aws.String(delimiter)
	}
	var out []mdsync.RemoteFile
	p := s3.NewListObjectsV2Paginator(s.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", prefix, classifyS3(err))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			out = append(out, mdsync.RemoteFile{
				ID:           key,
				Name:         path.Base(key),
				ModifiedTime: aws.ToTime(obj.LastModified),
				Size:         aws.ToInt64(obj.Size),
			})
		}
	}
	return out, nil
}

func (s *S3) FindFile(ctx context.Context, name, folderID string) (*mdsync.RemoteFile, error) {
	if folderID != "" {
		f, err := s.head(ctx, folderID+name)
		if errors.Is(err, mdsync.ErrNotFound) {
			return nil, nil
		}
		return f, err
	}

	all, err := s.objects(ctx, s.root, "")
	if err != nil {
		return nil, err
	}
	var best *mdsync.RemoteFile
	for i := range all {
		if all[i].Name != name {
			continue
		}
		if best == nil || all[i].ModifiedTime.After(best.ModifiedTime) {
			best = &all[i]
		}
	}
	return best, nil
}

func (s *S3) FileStatus(ctx context.Context, id string) (*mdsync.RemoteFile, error) {
	f, err := s.head(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("checking file status: %w", err)
	}
	return f, nil
}

func (s *S3) Download(ctx context.Context, id string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(id)})
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", id, classifyS3(err))
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &mdsync.RemoteError{Kind: mdsync.RemoteNetwork, Err: err}
	}
	return data, nil
}

func (s *S3) put(ctx context.Context, key string, data []byte) (*mdsync.RemoteFile, error) {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(jsonMimeType),
	})
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", key, classifyS3(err))
	}
	return s.head(ctx, key)
}

func (s *S3) Create(ctx context.Context, name, folderID string, data []byte) (*mdsync.RemoteFile, error) {
	return s.put(ctx, s.folderKey(folderID)+name, data)
}

func (s *S3) Update(ctx context.Context, id string, data []byte) (*mdsync.RemoteFile, error) {
	return s.put(ctx, id, data)
}

func (s *S3) Copy(ctx context.Context, id, name, folderID string) (*mdsync.RemoteFile, error) {
	key := s.folderKey(folderID) + name
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(url.PathEscape(s.bucket + "/" + id)),
		Key:        aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("copying %s to %s: %w", id, key, classifyS3(err))
	}
	return s.head(ctx, key)
}

func (s *S3) List(ctx context.Context, folderID, prefix string) ([]mdsync.RemoteFile, error) {
	files, err := s.objects(ctx, s.folderKey(folderID)+prefix, "/")
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name > files[j].Name })
	return files, nil
}

func (s *S3) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(id)})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", id, classifyS3(err))
	}
	return nil
}

var _ mdsync.CloudBackend = (*S3)(nil)
