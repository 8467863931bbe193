package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/DoyleJ11/cogbench/internal/engine"
)

// FileSink writes JSON arrays under a root directory:
//
//	<root>/<benchmark>/<mode>/<user>_responses.json
//	<root>/<benchmark>/Paths/<mode>/<index>/<user>_path.json
type FileSink struct {
	root string
	mu   sync.Mutex
}

func NewFileSink(root string) (*FileSink, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("file sink root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create sink root: %w", err)
	}
	return &FileSink{root: filepath.Clean(root)}, nil
}

func (f *FileSink) ResponsesPath(key CollectionKey) string {
	return filepath.Join(f.root, segment(key.Benchmark), segment(key.Mode), segment(key.UserID)+"_responses.json")
}

func (f *FileSink) PathPath(key PathKey) string {
	return filepath.Join(f.root, segment(key.Benchmark), "Paths", segment(key.Mode),
		strconv.Itoa(key.ColorIndex), segment(key.UserID)+"_path.json")
}

func (f *FileSink) AppendResponses(ctx context.Context, key CollectionKey, records []engine.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := key.Validate(); err != nil {
		return err
	}
	return appendJSON(&f.mu, f.ResponsesPath(key), records)
}

func (f *FileSink) AppendPath(ctx context.Context, key PathKey, points []engine.PathPoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := key.Validate(); err != nil {
		return err
	}
	return appendJSON(&f.mu, f.PathPath(key), points)
}

// appendJSON reads the existing array, appends and replaces the file.
func appendJSON[T any](mu *sync.Mutex, path string, records []T) error {
	mu.Lock()
	defer mu.Unlock()

	existing := []T{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fmt.Errorf("read %s: %w", path, err)
	}

	existing = append(existing, records...)
	out, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// segment keeps a key component from escaping its directory.
func segment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
