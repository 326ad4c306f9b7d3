package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"sleepcal/internal/config"
	appLog "sleepcal/internal/log"
)

// Repository loads and saves settings. Callers decide when to persist;
// nothing is written implicitly.
type Repository interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
}

// FileRepository keeps settings in a YAML file.
//
//   - Load on a missing file writes Default() (0600) and returns it.
//   - Save validates, then replaces the file atomically.
type FileRepository struct {
	path string
	mu   sync.Mutex
}

func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

func (r *FileRepository) Path() string {
	return r.path
}

func (r *FileRepository) Load(_ context.Context) (Settings, error) {
	if r.path == "" {
		return Settings{}, errors.New("settings path is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s := Default()
			appLog.Info("settings file missing; writing defaults", "path", r.path)
			if err := r.write(s); err != nil {
				return s, err
			}
			return s, nil
		}
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings %s: %w", r.path, err)
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (r *FileRepository) Save(_ context.Context, s Settings) error {
	if r.path == "" {
		return errors.New("settings path is empty")
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.write(s)
}

func (r *FileRepository) write(s Settings) error {
	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return config.WriteFileAtomic(r.path, data)
}

// MemoryRepository holds settings in memory. It is safe for concurrent use.
type MemoryRepository struct {
	mu sync.RWMutex
	s  Settings
}

func NewMemoryRepository(s Settings) *MemoryRepository {
	s.Normalize()
	return &MemoryRepository{s: s}
}

func (m *MemoryRepository) Load(_ context.Context) (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s, nil
}

func (m *MemoryRepository) Save(_ context.Context, s Settings) error {
	s.Normalize()
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	return nil
}
