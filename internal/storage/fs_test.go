package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/joemooney/req/internal/apperr"
)

func tempRoot(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempRoot(t)
	content := []byte("name: demo\nrequirements: []\n")
	if err := s.Write("requirements.yaml", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("requirements.yaml")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestReadMissingIsNotFound(t *testing.T) {
	s := tempRoot(t)
	_, err := s.Read("absent.yaml")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.Stat("absent.yaml"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Stat err = %v, want ErrNotFound", err)
	}
}

func TestStatChecksum(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("a.yaml", []byte("a"))
	info, err := s.Stat("a.yaml")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Checksum != Checksum([]byte("a")) || info.Size != 1 {
		t.Errorf("info = %+v", info)
	}
}

func TestDeleteAndMove(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("old.db", []byte("data"))
	if err := s.Move("old.db", "sub/new.db"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := s.Read("old.db"); err == nil {
		t.Error("old path should not exist")
	}
	if err := s.Delete("sub/new.db"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("sub/new.db"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempRoot(t)
	for _, p := range []string{"../../etc/passwd", "../outside.yaml", "/etc/shadow"} {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteLeavesNoTemp(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("atomic.yaml", []byte("original"))
	if err := s.Write("atomic.yaml", []byte("updated")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.yaml")
	if string(got) != "updated" {
		t.Errorf("expected updated content, got %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.Root(), tempPattern))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
	if !IsTemp("/x/.req-tmp-123") || IsTemp("requirements.yaml") {
		t.Error("IsTemp misclassifies")
	}
}

func TestForFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	fs, name, err := ForFile(filepath.Join(dir, "reqs.yaml"))
	if err != nil {
		t.Fatalf("ForFile: %v", err)
	}
	if name != "reqs.yaml" || fs.Root() != dir {
		t.Errorf("root=%s name=%s", fs.Root(), name)
	}
}

func TestNewFSFileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "req-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	if _, err := NewFS(f.Name()); err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestReserveKeepsExtension(t *testing.T) {
	s := tempRoot(t)
	name, err := s.Reserve("store.sqlite")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if filepath.Ext(name) != ".sqlite" || !IsTemp(name) {
		t.Errorf("name = %q", name)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), name)); err != nil {
		t.Errorf("reserved file missing: %v", err)
	}
}
