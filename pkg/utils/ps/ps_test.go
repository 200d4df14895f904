package ps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirDiskUsage(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.jpg"), make([]byte, 100), 0660); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "videos"), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "videos", "b.avi"), make([]byte, 28), 0660); err != nil {
		t.Fatal(err)
	}

	size, err := DirDiskUsage(dir)
	if err != nil {
		t.Fatal(err)
	}
	if size != 128 {
		t.Fatalf("size = %d, want 128", size)
	}
}

func TestDiskStatus(t *testing.T) {
	d, err := DiskStatus(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if d.Total == 0 || d.Readable == "" {
		t.Fatalf("unexpected disk status %+v", d)
	}
}

func TestPS(t *testing.T) {
	if _, err := MemoryStatus(); err != nil {
		t.Fatal(err)
	}
	if _, err := CPUStatus(); err != nil {
		t.Fatal(err)
	}
}
