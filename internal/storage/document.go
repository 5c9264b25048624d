package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"
)

// Every stored record is a markdown document: YAML frontmatter between "---"
// lines followed by a free-text body.

// RenderDocument produces a markdown document with YAML frontmatter.
func RenderDocument(meta any, body string) ([]byte, error) {
	fm, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(fm)
	buf.WriteString("---\n\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}

// ParseDocument splits content into frontmatter, decoded into meta, and
// body. A closing delimiter at end of file yields an empty body.
func ParseDocument(content []byte, meta any) (string, error) {
	s := string(content)
	if !strings.HasPrefix(s, "---\n") {
		return "", fmt.Errorf("no frontmatter delimiter found")
	}

	rest := s[4:]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		if strings.HasSuffix(rest, "\n---") {
			idx = len(rest) - 4
		} else {
			return "", fmt.Errorf("no closing frontmatter delimiter found")
		}
	}

	body := strings.TrimLeft(rest[idx+4:], "\n")
	if err := yaml.Unmarshal([]byte(rest[:idx]), meta); err != nil {
		return "", fmt.Errorf("unmarshaling frontmatter: %w", err)
	}
	return body, nil
}

// readDocument reads and parses the document at path.
func readDocument(path string, meta any) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	body, err := ParseDocument(data, meta)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return body, nil
}

// writeDocument renders meta and body and replaces path atomically.
func writeDocument(path string, meta any, body string) error {
	data, err := RenderDocument(meta, body)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic writes data to a temp file beside path and renames it into
// place, so readers never observe a partial document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// isDocument filters directory entries down to stored documents.
func isDocument(e os.DirEntry) bool {
	name := e.Name()
	return !e.IsDir() && strings.HasSuffix(name, ".md") && !strings.HasPrefix(name, ".")
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// lockFile acquires an exclusive flock on path, creating it if needed. Locks
// taken through separate opens exclude each other within one process as well
// as across processes.
func lockFile(path string) (unlock func() error, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("acquiring file lock: %w", err)
	}

	return func() error {
		defer f.Close()
		return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}, nil
}
