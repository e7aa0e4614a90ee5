package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLocalUploadDownload(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	src := writeTempFile(t, "hello cold tier")
	if err := store.Upload(ctx, src, "chunks/a/data.bin"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	ok, err := store.Exists(ctx, "chunks/a/data.bin")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true", ok, err)
	}

	dest := filepath.Join(t.TempDir(), "out")
	if err := store.Download(ctx, "chunks/a/data.bin", dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, _ := os.ReadFile(dest)
	if string(data) != "hello cold tier" {
		t.Errorf("downloaded %q", data)
	}
}

func TestLocalDownloadMissing(t *testing.T) {
	ctx := context.Background()
	store, _ := NewLocalStorage(t.TempDir())

	err := store.Download(ctx, "chunks/missing", filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("want ErrObjectNotFound, got %v", err)
	}
}

func TestLocalDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, _ := NewLocalStorage(t.TempDir())

	src := writeTempFile(t, "x")
	if err := store.Upload(ctx, src, "obj"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "obj"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "obj"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	ok, _ := store.Exists(ctx, "obj")
	if ok {
		t.Error("object survived Delete")
	}
}

func TestLocalListObjects(t *testing.T) {
	ctx := context.Background()
	store, _ := NewLocalStorage(t.TempDir())

	src := writeTempFile(t, "x")
	for _, p := range []string{"chunks/a", "chunks/b", "other/c"} {
		if err := store.Upload(ctx, src, p); err != nil {
			t.Fatal(err)
		}
	}

	objects, err := store.ListObjects(ctx, "chunks/")
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(objects) != 2 {
		t.Errorf("ListObjects(chunks/) = %v, want 2 entries", objects)
	}

	objects, err = store.ListObjects(ctx, "nothing/")
	if err != nil || len(objects) != 0 {
		t.Errorf("missing prefix: %v, %v; want empty", objects, err)
	}
}

func TestLocalCanceledContext(t *testing.T) {
	store, _ := NewLocalStorage(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Upload(ctx, "src", "obj"); err == nil {
		t.Error("Upload with canceled context should fail")
	}
	if _, err := store.Exists(ctx, "obj"); err == nil {
		t.Error("Exists with canceled context should fail")
	}
}
