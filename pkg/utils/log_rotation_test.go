package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestRotatorRequiresFilename(t *testing.T) {
	if _, err := NewLogRotator(nil); err == nil {
		t.Error("nil config accepted")
	}
	if _, err := NewLogRotator(&RotationConfig{}); err == nil {
		t.Error("empty filename accepted")
	}
}

func TestRotatorWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "cachekit.log")
	rotator, err := NewLogRotator(&RotationConfig{Filename: path})
	if err != nil {
		t.Fatalf("NewLogRotator: %v", err)
	}
	defer func() { _ = rotator.Close() }()

	if _, err := rotator.Write([]byte("line one\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := rotator.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Contains(data, []byte("line one")) {
		t.Error("written line missing from log file")
	}
}

func TestRotatorRotatesBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cachekit.log")

	// 1MB threshold; two writes of ~600KB force one rotation.
	rotator, err := NewLogRotator(&RotationConfig{Filename: path, MaxSize: 1})
	if err != nil {
		t.Fatalf("NewLogRotator: %v", err)
	}
	defer func() { _ = rotator.Close() }()

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	if _, err := rotator.Write(chunk); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := rotator.Write(chunk); err != nil {
		t.Fatalf("second write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("%d files after rotation, want current plus one backup", len(entries))
	}
}

func TestRotatorPrunesBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cachekit.log")

	rotator, err := NewLogRotator(&RotationConfig{Filename: path, MaxSize: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("NewLogRotator: %v", err)
	}
	defer func() { _ = rotator.Close() }()

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 5; i++ {
		if _, err := rotator.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) > 2 {
		t.Errorf("%d files on disk, want at most current plus one backup", len(entries))
	}
}
