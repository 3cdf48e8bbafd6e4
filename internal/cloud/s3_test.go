package cloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"mdsync/internal/mdsync"
)

type fakeObject struct {
	data     []byte
	modified time.Time
}

// fakeS3 keeps objects in memory and serves the calls the backend makes.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]fakeObject
	now     time.Time
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{
		bucket:  bucket,
		objects: map[string]fakeObject{},
		now:     time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

func (f *fakeS3) tick() time.Time {
	f.now = f.now.Add(time.Second)
	return f.now
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = fakeObject{data: data, modified: f.tick()}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart upload not supported by fake")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not supported by fake")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not supported by fake")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{Message: aws.String("Not Found")}
	}
	return &s3.HeadObjectOutput{LastModified: aws.Time(obj.modified), ContentLength: aws.Int64(int64(len(obj.data)))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	source, err := url.PathUnescape(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}
	key, ok := strings.CutPrefix(source, f.bucket+"/")
	if !ok {
		return nil, fmt.Errorf("copy source %q outside bucket", source)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Key)] = fakeObject{data: append([]byte(nil), obj.data...), modified: f.tick()}
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)
	var keys []string
	for k := range f.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if delim != "" && strings.Contains(strings.TrimPrefix(k, prefix), delim) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		obj := f.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			LastModified: aws.Time(obj.modified),
			Size:         aws.Int64(int64(len(obj.data))),
		})
	}
	return out, nil
}

var _ s3API = (*fakeS3)(nil)

func TestS3_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := newFakeS3("notes")
	b := newS3(fake, "notes", "/mdsync/")

	folder, err := b.FindOrCreateFolder(ctx, "MD-Viewer-Data [host]", "")
	if err != nil || folder != "mdsync/MD-Viewer-Data [host]/" {
		t.Fatalf("FindOrCreateFolder() = %q, %v", folder, err)
	}
	backups, _ := b.FindOrCreateFolder(ctx, "backups", folder)
	if backups != "mdsync/MD-Viewer-Data [host]/backups/" {
		t.Errorf("backups folder = %q", backups)
	}

	if f, err := b.FindFile(ctx, "data.json", folder); err != nil || f != nil {
		t.Fatalf("FindFile() before create = %+v, %v", f, err)
	}
	created, err := b.Create(ctx, "data.json", folder, []byte("v1"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID != folder+"data.json" || created.Name != "data.json" || created.Size != 2 {
		t.Errorf("Create() = %+v", created)
	}

	updated, err := b.Update(ctx, created.ID, []byte("v2"))
	if err != nil {
		t.Fatal(err)
	}
	if !updated.ModifiedTime.After(created.ModifiedTime) {
		t.Error("Update() did not advance the modification time")
	}
	data, err := b.Download(ctx, created.ID)
	if err != nil || string(data) != "v2" {
		t.Errorf("Download() = %q, %v", data, err)
	}

	for _, name := range []string{"backup-2024-01-14.json", "backup-2024-01-15.json"} {
		if _, err := b.Copy(ctx, created.ID, name, backups); err != nil {
			t.Fatalf("Copy(%s) error = %v", name, err)
		}
	}
	list, err := b.List(ctx, backups, "backup-")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Name != "backup-2024-01-15.json" {
		t.Errorf("List() = %+v", list)
	}
	// The main folder listing must not descend into backups/.
	if main, _ := b.List(ctx, folder, ""); len(main) != 1 {
		t.Errorf("List(main) = %+v, want only data.json", main)
	}

	if err := b.Delete(ctx, list[1].ID); err != nil {
		t.Fatal(err)
	}
	if _, err := b.FileStatus(ctx, list[1].ID); !errors.Is(err, mdsync.ErrNotFound) {
		t.Errorf("FileStatus() after delete error = %v", err)
	}
}

func TestS3_FindFileAnywhere(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := newFakeS3("notes")
	b := newS3(fake, "notes", "")

	_, _ = b.Create(ctx, "MD Viewer Data [host].json", "", []byte("old"))
	newer, _ := b.Create(ctx, "MD Viewer Data [host].json", "archive/", []byte("new"))

	got, err := b.FindFile(ctx, "MD Viewer Data [host].json", "")
	if err != nil || got == nil || got.ID != newer.ID {
		t.Errorf("FindFile() = %+v, %v, want %s", got, err, newer.ID)
	}
}

func TestS3_DownloadMissing(t *testing.T) {
	t.Parallel()
	b := newS3(newFakeS3("notes"), "notes", "")
	_, err := b.Download(context.Background(), "nope.json")
	if !errors.Is(err, mdsync.ErrNotFound) {
		t.Errorf("Download() error = %v, want not found", err)
	}
}

func responseError(status int, err error) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      err,
		},
	}
}

func TestClassifyS3(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want mdsync.RemoteKind
	}{
		{name: "no such key", err: &types.NoSuchKey{}, want: mdsync.RemoteNotFound},
		{name: "head not found", err: fmt.Errorf("wrapped: %w", &types.NotFound{}), want: mdsync.RemoteNotFound},
		{name: "canceled", err: context.Canceled, want: mdsync.RemoteNetwork},
		{name: "plain", err: errors.New("dial tcp: connection refused"), want: mdsync.RemoteNetwork},
		{name: "forbidden", err: responseError(http.StatusForbidden, &smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"}), want: mdsync.RemoteAuth},
		{name: "precondition", err: responseError(http.StatusPreconditionFailed, errors.New("precondition")), want: mdsync.RemoteConflict},
		{name: "server", err: responseError(http.StatusInternalServerError, errors.New("boom")), want: mdsync.RemoteAPI},
		{name: "api only", err: &smithy.GenericAPIError{Code: "SlowDown"}, want: mdsync.RemoteAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := mdsync.RemoteKindOf(classifyS3(tt.err)); got != tt.want {
				t.Errorf("classifyS3() kind = %q, want %q", got, tt.want)
			}
		})
	}
	if classifyS3(nil) != nil {
		t.Error("classifyS3(nil) != nil")
	}

	err := classifyS3(responseError(http.StatusForbidden, &smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"}))
	if !errors.Is(err, mdsync.ErrUnauthenticated) {
		t.Errorf("forbidden error = %v, want unauthenticated", err)
	}
	if msg := mdsync.RemoteMessage(err); msg != "Access Denied" {
		t.Errorf("RemoteMessage() = %q", msg)
	}
}
