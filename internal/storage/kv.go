package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// kv is a directory of JSON documents addressed by key paths, e.g.
// ["message", sessionID, messageID] -> <root>/message/<sessionID>/<messageID>.json.
type kv struct {
	root string
}

func newKV(root string) *kv {
	return &kv{root: root}
}

func (s *kv) file(path []string) string {
	return filepath.Join(append([]string{s.root}, path...)...) + ".json"
}

func (s *kv) dir(path []string) string {
	return filepath.Join(append([]string{s.root}, path...)...)
}

// get decodes the document at path into v.
func (s *kv) get(path []string, v any) error {
	data, err := os.ReadFile(s.file(path))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read %s: %w", strings.Join(path, "/"), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", strings.Join(path, "/"), err)
	}
	return nil
}

// getRaw returns the document bytes at path.
func (s *kv) getRaw(path []string) ([]byte, error) {
	data, err := os.ReadFile(s.file(path))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *kv) exists(path []string) bool {
	_, err := os.Stat(s.file(path))
	return err == nil
}

// put encodes v and replaces the document at path. The write goes to a temp
// file that is renamed over the target, so readers never see partial content.
// Callers serialize writers; FileStore does so per session.
func (s *kv) put(path []string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", strings.Join(path, "/"), err)
	}
	return s.putRaw(path, data)
}

func (s *kv) putRaw(path []string, data []byte) error {
	target := s.file(path)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// delete removes the document at path. Missing documents are not an error.
func (s *kv) delete(path []string) error {
	if err := os.Remove(s.file(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", strings.Join(path, "/"), err)
	}
	return nil
}

// removeAll removes the directory at path and everything below it.
func (s *kv) removeAll(path []string) error {
	return os.RemoveAll(s.dir(path))
}

// scan calls fn for every document directly under path.
func (s *kv) scan(path []string, fn func(key string, data []byte) error) error {
	entries, err := os.ReadDir(s.dir(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir(path), name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := fn(strings.TrimSuffix(name, ".json"), data); err != nil {
			return err
		}
	}
	return nil
}

// list returns the keys directly under path.
func (s *kv) list(path []string) ([]string, error) {
	entries, err := os.ReadDir(s.dir(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read directory: %w", err)
	}
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			keys = append(keys, name)
		} else if strings.HasSuffix(name, ".json") {
			keys = append(keys, strings.TrimSuffix(name, ".json"))
		}
	}
	return keys, nil
}
