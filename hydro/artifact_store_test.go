package hydro

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStore_PutGetReplace(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "processed")
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("unexpected driver %q", store.Driver())
	}
	info, err := store.Put(ctx, "001_rd181211_h0m.csv", []byte("first"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size != 5 || len(info.SHA256) != 64 {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "001_rd181211_h0m.csv", []byte("second")); err != nil {
		t.Fatal(err)
	}
	rc, err := store.Get(ctx, "001_rd181211_h0m.csv")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "second" {
		t.Fatalf("expected replaced content, got %q", b)
	}

	ok, err := store.Exists(ctx, "001_rd181211_h0m.csv")
	if err != nil || !ok {
		t.Fatalf("exists: %v %v", ok, err)
	}
	ok, err = store.Exists(ctx, "002_rd181211_h0m.csv")
	if err != nil || ok {
		t.Fatalf("expected missing key: %v %v", ok, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no temp files left behind, got %d entries", len(entries))
	}
}

func TestFileStore_ListAndKeys(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"005_r_h0m.csv", "001_r_h0m.csv", "001_r_h19.csv"} {
		if _, err := store.Put(ctx, k, []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(store.Dir(), "001_sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	keys, err := ListKeys(ctx, store, "001_")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "001_r_h0m.csv" || keys[1] != "001_r_h19.csv" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestFileStore_RejectsPathKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"", "../escape.csv", "a/b.csv"} {
		if _, err := store.Put(context.Background(), k, []byte("x")); err == nil {
			t.Fatalf("expected error for key %q", k)
		}
	}
	if _, err := NewFileStore(" "); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}

func TestOpenArtifactStore(t *testing.T) {
	ctx := context.Background()
	s, err := OpenArtifactStore(ctx, StorageConfig{}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if s.Driver() != DriverFilesystem {
		t.Fatalf("expected fs default, got %s", s.Driver())
	}
	if _, err := OpenArtifactStore(ctx, StorageConfig{Driver: "tape"}, t.TempDir()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := OpenArtifactStore(ctx, StorageConfig{Driver: DriverS3}, ""); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
