package authority

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"datafs-go/internal/datafs"
)

// fakeS3 is an in-memory S3API. Only single-part uploads are supported,
// which covers every blob below the uploader's part size.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart not supported by fake")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported by fake")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported by fake")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func TestS3(t *testing.T) {
	fake := newFakeS3()
	testContract(t, NewS3FromClient(fake, "bucket", "datafs/"))

	t.Run("object key layout", func(t *testing.T) {
		s := NewS3FromClient(fake, "bucket", "datafs/")
		key := datafs.Key{Archive: "layout", Version: "0.1.0"}
		if err := s.Store(context.Background(), key, bytes.NewReader([]byte("x"))); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		if _, ok := fake.objects["bucket/datafs/layout/0.1.0"]; !ok {
			t.Errorf("object not stored at bucket/datafs/layout/0.1.0; have %d objects", len(fake.objects))
		}
	})

	t.Run("put failure", func(t *testing.T) {
		failing := newFakeS3()
		failing.putErr = errors.New("access denied")
		s := NewS3FromClient(failing, "bucket", "")
		err := s.Store(context.Background(), datafs.Key{Archive: "a", Version: "1"}, bytes.NewReader([]byte("x")))
		if err == nil {
			t.Fatal("Store() expected error")
		}
	})
}

func TestNewS3_PartialCredentials(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{Bucket: "b", Region: "us-east-1", AccessKeyID: "AKIA"})
	if !errors.Is(err, datafs.ErrCredentials) {
		t.Errorf("NewS3() error = %v, want ErrCredentials", err)
	}
}
