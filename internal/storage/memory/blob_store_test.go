package memory

import (
	"context"
	"strings"
	"testing"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "pages/abc.html", "text/html", strings.NewReader("content"))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://pages/abc.html" {
		t.Fatalf("unexpected uri %s", uri)
	}
	data, ok := store.Object("pages/abc.html")
	if !ok || string(data) != "content" {
		t.Fatalf("Object() = %q, %v", data, ok)
	}
	data[0] = 'C'
	if again, _ := store.Object("pages/abc.html"); string(again) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", again)
	}
	if store.Len() != 1 {
		t.Fatalf("Len() = %d; want 1", store.Len())
	}
}

func TestBlobStoreRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := NewBlobStore().PutObject(context.Background(), "", "", strings.NewReader("x")); err == nil {
		t.Fatal("expected error for empty path")
	}
}
