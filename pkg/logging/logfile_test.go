package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileWriterRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	w, err := OpenFile(path, 100, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	line := strings.Repeat("x", 60) + "\n"
	for i := 0; i < 5; i++ {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	for _, p := range []string{path, path + ".1", path + ".2"} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s: %v", filepath.Base(p), err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("kept more rotated files than maxFiles")
	}
}

func TestFileWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	if err := os.WriteFile(path, []byte("old\n"), 0644); err != nil {
		t.Fatal(err)
	}
	w, err := OpenFile(path, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("new\n"))
	w.Close()
	data, _ := os.ReadFile(path)
	if string(data) != "old\nnew\n" {
		t.Errorf("content = %q", data)
	}
}

func TestFileWriterClose(t *testing.T) {
	w, err := OpenFile(filepath.Join(t.TempDir(), "test.log"), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if _, err := w.Write([]byte("late")); err == nil {
		t.Error("write after close succeeded")
	}
}
