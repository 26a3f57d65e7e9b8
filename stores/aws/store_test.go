package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"roomhub-server/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

var _ core.SnapshotStore = (*s3Store)(nil)

// fakeS3 keeps objects in memory and pages listings two keys at a time.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[*in.Key] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, *in.Key)
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	for _, obj := range in.Delete.Objects {
		delete(f.objects, *obj.Key)
	}
	f.mu.Unlock()
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// The continuation token is the last key returned, so deleting listed keys
	// between pages does not shift the listing.
	after := aws.ToString(in.ContinuationToken)
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	n := len(keys)
	if n > 2 {
		n = 2
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(n < len(keys))}
	for _, k := range keys[:n] {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	if n < len(keys) {
		out.NextContinuationToken = aws.String(keys[n-1])
	}
	return out, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func TestSetGet(t *testing.T) {
	fake := newFakeS3()
	store := newStore(fake, "bucket", "rooms")
	ctx := context.Background()

	if err := store.Set(ctx, "room-1", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if _, ok := fake.objects["rooms/room-1"]; !ok {
		t.Errorf("Object not stored under prefix: %v", fake.objects)
	}

	data, err := store.Get(ctx, "room-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(data) != `{"x":1}` {
		t.Errorf("Data mismatch: got %s", data)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newStore(newFakeS3(), "bucket", "rooms/")

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSet_Error(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("access denied")
	store := newStore(fake, "bucket", "rooms/")

	err := store.Set(context.Background(), "room-1", []byte("x"))
	if err == nil || !errors.Is(err, fake.putErr) {
		t.Errorf("Expected wrapped put error, got %v", err)
	}
}

func TestInvalidRoomID(t *testing.T) {
	store := newStore(newFakeS3(), "bucket", "rooms/")

	for _, id := range []string{"", ".", "..", "../other", "a/b"} {
		if err := store.Set(context.Background(), id, []byte("x")); err == nil {
			t.Errorf("Set(%q) should be rejected", id)
		}
	}
}

func TestClearAll_OnlyPrefix(t *testing.T) {
	fake := newFakeS3()
	store := newStore(fake, "bucket", "rooms/")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = store.Set(ctx, fmt.Sprintf("room-%d", i), []byte("x"))
	}
	fake.objects["other/keep"] = []byte("keep")

	if err := store.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() failed: %v", err)
	}

	if len(fake.objects) != 1 {
		t.Errorf("Expected only the foreign object to remain, got %v", fake.objects)
	}
	if _, ok := fake.objects["other/keep"]; !ok {
		t.Error("ClearAll() removed an object outside the prefix")
	}
}

func TestDelete(t *testing.T) {
	fake := newFakeS3()
	store := newStore(fake, "bucket", "rooms/")
	ctx := context.Background()

	_ = store.Set(ctx, "room-1", []byte("a"))
	_ = store.Set(ctx, "room-2", []byte("b"))

	if err := store.Delete(ctx, "room-1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Get(ctx, "room-1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Deleted room still present: %v", err)
	}
	if _, err := store.Get(ctx, "room-2"); err != nil {
		t.Errorf("Delete() removed another room: %v", err)
	}
}

func TestNewStore_RequiresBucket(t *testing.T) {
	if _, err := NewStore(context.Background(), "", ""); err == nil {
		t.Error("NewStore() should fail without a bucket")
	}
}
