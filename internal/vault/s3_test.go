package vault

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObject struct {
	data     []byte
	metadata map[string]string
}

// fakeS3 keeps objects in memory behind the s3API and uploader interfaces.
type fakeS3 struct {
	mu        sync.Mutex
	objects   map[string]fakeObject
	bucketErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) Upload(ctx context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = fakeObject{data: data, metadata: in.Metadata}
	return &manager.UploadOutput{Key: in.Key}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data)), Metadata: obj.metadata}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{Metadata: obj.metadata}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.bucketErr
}

func newTestS3Vault() (*S3Vault, *fakeS3) {
	f := newFakeS3()
	return newS3Vault("cloud", "bucket", "tally", f, f), f
}

func TestS3Vault_RoundTrip(t *testing.T) {
	v, f := newTestS3Vault()

	if got, err := v.SnapshotVersion("device-1"); err != nil || got != 0 {
		t.Fatalf("SnapshotVersion() = %d, %v, want 0, nil", got, err)
	}

	if err := v.PutSnapshot("device-1", strings.NewReader("cipher"), 6, 4); err != nil {
		t.Fatalf("PutSnapshot() error = %v", err)
	}

	if _, ok := f.objects["tally/snapshots/device-1.db.age"]; !ok {
		t.Errorf("object keys = %v, want tally/snapshots/device-1.db.age", f.objects)
	}

	got, err := v.SnapshotVersion("device-1")
	if err != nil {
		t.Fatalf("SnapshotVersion() error = %v", err)
	}
	if got != 4 {
		t.Errorf("SnapshotVersion() = %d, want 4", got)
	}

	var buf bytes.Buffer
	if err := v.GetSnapshot("device-1", &buf); err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if buf.String() != "cipher" {
		t.Errorf("GetSnapshot() = %q, want cipher", buf.String())
	}
}

func TestS3Vault_SizeMismatch(t *testing.T) {
	v, _ := newTestS3Vault()
	if err := v.PutSnapshot("device-1", strings.NewReader("abc"), 10, 1); err == nil {
		t.Error("PutSnapshot() error = nil, want size mismatch")
	}
}

func TestS3Vault_GetMissing(t *testing.T) {
	v, _ := newTestS3Vault()
	var buf bytes.Buffer
	err := v.GetSnapshot("nobody", &buf)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("GetSnapshot() error = %v, want not found", err)
	}
}

func TestS3Vault_MissingVersionMetadata(t *testing.T) {
	v, f := newTestS3Vault()
	f.objects["tally/snapshots/device-1.db.age"] = fakeObject{data: []byte("x")}

	if _, err := v.SnapshotVersion("device-1"); err == nil {
		t.Error("SnapshotVersion() error = nil, want missing metadata error")
	}
}

func TestS3Vault_ValidateSetup(t *testing.T) {
	v, f := newTestS3Vault()
	if err := v.ValidateSetup(); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}

	f.bucketErr = errors.New("access denied")
	if err := v.ValidateSetup(); err == nil {
		t.Error("ValidateSetup() error = nil, want error")
	}
}
