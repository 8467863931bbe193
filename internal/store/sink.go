// Package store persists benchmark results. Every sink appends to an
// existing collection rather than replacing it.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/DoyleJ11/cogbench/internal/engine"
)

var ErrInvalidKey = errors.New("invalid collection key")

// CollectionKey addresses the responses of one user in one mode.
type CollectionKey struct {
	Benchmark string
	Mode      string
	UserID    string
}

func (k CollectionKey) Validate() error {
	if strings.TrimSpace(k.Benchmark) == "" || strings.TrimSpace(k.Mode) == "" || strings.TrimSpace(k.UserID) == "" {
		return fmt.Errorf("%w: %+v", ErrInvalidKey, k)
	}
	return nil
}

func (k CollectionKey) String() string {
	return k.Benchmark + "/" + k.Mode + "/" + k.UserID
}

// PathKey addresses the pointer telemetry of one trial.
type PathKey struct {
	Benchmark  string
	Mode       string
	ColorIndex int
	UserID     string
}

func (k PathKey) Validate() error {
	if strings.TrimSpace(k.Benchmark) == "" || strings.TrimSpace(k.Mode) == "" ||
		strings.TrimSpace(k.UserID) == "" || k.ColorIndex < 0 {
		return fmt.Errorf("%w: %+v", ErrInvalidKey, k)
	}
	return nil
}

func (k PathKey) String() string {
	return fmt.Sprintf("%s/%s/%d/%s", k.Benchmark, k.Mode, k.ColorIndex, k.UserID)
}

type Sink interface {
	AppendResponses(ctx context.Context, key CollectionKey, records []engine.Response) error
	AppendPath(ctx context.Context, key PathKey, points []engine.PathPoint) error
}

// MemorySink keeps everything in process memory.
type MemorySink struct {
	mu        sync.Mutex
	responses map[CollectionKey][]engine.Response
	paths     map[PathKey][]engine.PathPoint
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		responses: make(map[CollectionKey][]engine.Response),
		paths:     make(map[PathKey][]engine.PathPoint),
	}
}

func (m *MemorySink) AppendResponses(ctx context.Context, key CollectionKey, records []engine.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := key.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[key] = append(m.responses[key], records...)
	return nil
}

func (m *MemorySink) AppendPath(ctx context.Context, key PathKey, points []engine.PathPoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := key.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paths[key] = append(m.paths[key], points...)
	return nil
}

func (m *MemorySink) Responses(key CollectionKey) []engine.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.Response(nil), m.responses[key]...)
}

func (m *MemorySink) Path(key PathKey) []engine.PathPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.PathPoint(nil), m.paths[key]...)
}
