package state

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileSeenStore keeps seen keys as newline separated text.
type FileSeenStore struct {
	path string
}

func NewFileSeenStore(path string) *FileSeenStore {
	return &FileSeenStore{path: path}
}

// LoadSeen returns an empty set when the file is missing or unreadable.
func (s *FileSeenStore) LoadSeen(ctx context.Context) (KeySet, error) {
	keys := NewKeySet()

	f, err := os.Open(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.WarnContext(ctx, "Failed to read seen store, starting empty", "path", s.path, "error", err)
		}
		return keys, nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if key := strings.TrimSpace(scanner.Text()); key != "" {
			keys.Add(key)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.WarnContext(ctx, "Seen store truncated while reading", "path", s.path, "error", err)
	}

	return keys, nil
}

func (s *FileSeenStore) SaveSeen(ctx context.Context, keys KeySet) error {
	var buf bytes.Buffer
	for _, key := range keys.Sorted() {
		buf.WriteString(key)
		buf.WriteByte('\n')
	}
	return writeFile(ctx, s.path, buf.Bytes())
}

// FileMetaStore keeps validators as a JSON object keyed by feed URL.
type FileMetaStore struct {
	path string
}

func NewFileMetaStore(path string) *FileMetaStore {
	return &FileMetaStore{path: path}
}

// LoadMeta returns empty metadata when the file is missing or invalid.
func (s *FileMetaStore) LoadMeta(ctx context.Context) (Metadata, error) {
	meta := Metadata{}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.WarnContext(ctx, "Failed to read metadata store, starting empty", "path", s.path, "error", err)
		}
		return meta, nil
	}

	if err := json.Unmarshal(data, &meta); err != nil {
		slog.WarnContext(ctx, "Invalid metadata store, starting empty", "path", s.path, "error", err)
		return Metadata{}, nil
	}
	return meta, nil
}

func (s *FileMetaStore) SaveMeta(ctx context.Context, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return writeFile(ctx, s.path, append(data, '\n'))
}

// writeFile replaces path through a temporary file and rename, falling back
// to writing in place when the rename is not possible.
func writeFile(ctx context.Context, path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	atomicErr := writeAtomic(path, data)
	if atomicErr == nil {
		return nil
	}
	slog.DebugContext(ctx, "Atomic write failed, writing in place", "path", path, "error", atomicErr)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
