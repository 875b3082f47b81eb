package authority

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"cloud.google.com/go/storage"

	"datafs-go/internal/datafs"
)

// fakeGCS is an in-memory GCSBucket. Like storage.Writer, its writers
// commit on Close unless their context was cancelled.
type fakeGCS struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeGCS() *fakeGCS { return &fakeGCS{objects: make(map[string][]byte)} }

type fakeGCSWriter struct {
	ctx  context.Context
	f    *fakeGCS
	name string
	buf  bytes.Buffer
}

func (w *fakeGCSWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *fakeGCSWriter) Close() error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.f.mu.Lock()
	defer w.f.mu.Unlock()
	w.f.objects[w.name] = bytes.Clone(w.buf.Bytes())
	return nil
}

func (f *fakeGCS) NewWriter(ctx context.Context, name string) io.WriteCloser {
	return &fakeGCSWriter{ctx: ctx, f: f, name: name}
}

func (f *fakeGCS) NewReader(_ context.Context, name string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[name]
	if !ok {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeGCS) Attrs(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[name]; !ok {
		return storage.ErrObjectNotExist
	}
	return nil
}

func (f *fakeGCS) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[name]; !ok {
		return storage.ErrObjectNotExist
	}
	delete(f.objects, name)
	return nil
}

func TestGCS(t *testing.T) {
	fake := newFakeGCS()
	testContract(t, NewGCSFromBucket(fake, "datafs/"))

	t.Run("object name layout", func(t *testing.T) {
		g := NewGCSFromBucket(fake, "datafs/")
		key := datafs.Key{Archive: "layout", Version: "0.1.0", Checksum: "ab12"}
		if err := g.Store(context.Background(), key, strings.NewReader("x")); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		if _, ok := fake.objects["datafs/layout/0.1.0-ab12"]; !ok {
			t.Errorf("object not stored at datafs/layout/0.1.0-ab12; have %d objects", len(fake.objects))
		}
	})

	t.Run("failed copy commits nothing", func(t *testing.T) {
		f := newFakeGCS()
		g := NewGCSFromBucket(f, "")
		key := datafs.Key{Archive: "truncated", Version: "0.0.1"}
		r := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(errors.New("pipe broken")))

		if err := g.Store(context.Background(), key, r); err == nil {
			t.Fatal("Store() expected error")
		}
		if ok, _ := g.Exists(context.Background(), key); ok {
			t.Error("partial object committed after a failed copy")
		}
	})

	t.Run("close without an owned client", func(t *testing.T) {
		if err := NewGCSFromBucket(newFakeGCS(), "").Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
}

func TestNewGCS_MissingBucket(t *testing.T) {
	_, err := NewGCS(context.Background(), GCSConfig{})
	if !errors.Is(err, datafs.ErrCredentials) {
		t.Errorf("NewGCS() error = %v, want ErrCredentials", err)
	}
}
