package localfs

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestSaveAndOpenRoundTrip(t *testing.T) {
	storage, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}

	ctx := context.Background()
	if err := storage.Save(ctx, "doc-1_invoice.txt", strings.NewReader("invoice body")); err != nil {
		t.Fatalf("save: %v", err)
	}

	rc, err := storage.Open(ctx, "doc-1_invoice.txt")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "invoice body" {
		t.Fatalf("data = %q", data)
	}
}

func TestOpenMissingKey(t *testing.T) {
	storage, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	if _, err := storage.Open(context.Background(), "gone"); err == nil {
		t.Fatal("expected error for missing object")
	}
}

func TestRejectsPathTraversalKeys(t *testing.T) {
	storage, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}

	for _, key := range []string{"../escape", "a/b", "", ".hidden"} {
		if err := storage.Save(context.Background(), key, strings.NewReader("x")); err == nil {
			t.Fatalf("key %q must be rejected", key)
		}
	}
}
