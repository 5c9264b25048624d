package storage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type docMeta struct {
	ID    string `yaml:"id"`
	State string `yaml:"state"`
}

func TestWriteReadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "gmail-1.md")
	if err := writeDocument(path, docMeta{ID: "gmail-1", State: "new"}, "Please reply by Friday.\n"); err != nil {
		t.Fatalf("writeDocument: %v", err)
	}

	var meta docMeta
	body, err := readDocument(path, &meta)
	if err != nil {
		t.Fatalf("readDocument: %v", err)
	}
	if meta.ID != "gmail-1" || meta.State != "new" {
		t.Errorf("meta = %+v", meta)
	}
	if body != "Please reply by Friday.\n" {
		t.Errorf("body = %q", body)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the document, temp file left behind: %v", entries)
	}
}

func TestParseDocument_Errors(t *testing.T) {
	var meta docMeta
	for _, content := range []string{
		"no frontmatter",
		"---\nid: x\nno closing",
		"---\nid: [x\n---\nbody",
	} {
		if _, err := ParseDocument([]byte(content), &meta); err == nil {
			t.Errorf("ParseDocument(%q) should fail", content)
		}
	}
}

func TestIsDocument(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.md", ".a.md.tmp", ".hidden.md", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.md"), 0o750); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var docs []string
	for _, e := range entries {
		if isDocument(e) {
			docs = append(docs, e.Name())
		}
	}
	if len(docs) != 1 || docs[0] != "a.md" {
		t.Errorf("documents = %v, want [a.md]", docs)
	}
}

func TestLockFile_SerializesWriters(t *testing.T) {
	dir := t.TempDir()
	lock := filepath.Join(dir, ".locks", "counter.lock")

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := lockFile(lock)
			if err != nil {
				t.Errorf("lockFile: %v", err)
				return
			}
			v := counter
			counter = v + 1
			if err := unlock(); err != nil {
				t.Errorf("unlock: %v", err)
			}
		}()
	}
	wg.Wait()
	if counter != 20 {
		t.Errorf("counter = %d, want 20", counter)
	}
}
