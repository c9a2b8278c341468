package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type objectStorageStub struct {
	mu    sync.Mutex
	saved map[string]string
	types map[string]string
	err   error
	block chan struct{}
}

func (s *objectStorageStub) Save(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return "", s.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[string]string)
		s.types = make(map[string]string)
	}
	s.saved[name] = string(data)
	s.types[name] = contentType
	return "s3://bucket/" + name, nil
}

func (s *objectStorageStub) get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.saved[name]
	return v, ok
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMirrorUploads(t *testing.T) {
	storage := &objectStorageStub{}
	mirror := NewMirror(storage, MirrorConfig{QueueSize: 2, Workers: 1, Timeout: time.Second}, discardLogger())

	if err := mirror.Enqueue(context.Background(), "abc123", "BEGIN:VCALENDAR"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := mirror.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	body, ok := storage.get("calendars/abc123.ics")
	if !ok || body != "BEGIN:VCALENDAR" {
		t.Fatalf("expected document to be mirrored, got %q", body)
	}
	if storage.types["calendars/abc123.ics"] != "text/calendar; charset=utf-8" {
		t.Fatalf("unexpected content type %q", storage.types["calendars/abc123.ics"])
	}
}

func TestMirrorDropsWhenFull(t *testing.T) {
	storage := &objectStorageStub{block: make(chan struct{})}
	mirror := NewMirror(storage, MirrorConfig{QueueSize: 1, Workers: 1}, discardLogger())

	// The first job occupies the worker, the second fills the queue.
	if err := mirror.Enqueue(context.Background(), "t1", "a"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitForCondition(t, func() bool { return len(mirror.jobs) == 0 }, time.Second)
	if err := mirror.Enqueue(context.Background(), "t2", "b"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := mirror.Enqueue(context.Background(), "t3", "c"); !errors.Is(err, errMirrorQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}

	close(storage.block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = mirror.Shutdown(ctx)
}

func TestMirrorRejectsAfterShutdown(t *testing.T) {
	mirror := NewMirror(&objectStorageStub{}, MirrorConfig{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := mirror.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := mirror.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}

	if err := mirror.Enqueue(context.Background(), "abc123", "x"); !errors.Is(err, errMirrorClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestMirrorUploadFailureIsContained(t *testing.T) {
	storage := &objectStorageStub{err: errors.New("bucket gone")}
	mirror := NewMirror(storage, MirrorConfig{Workers: 1}, discardLogger())

	if err := mirror.Enqueue(context.Background(), "abc123", "x"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := mirror.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, ok := storage.get("calendars/abc123.ics"); ok {
		t.Fatal("expected nothing stored on failure")
	}
}

func waitForCondition(t *testing.T, predicate func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if predicate() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
