package marker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tanq16/pwrsync/internal/utils"
	"gopkg.in/yaml.v3"
)

// Store persists the installed version per branch. 0 means unknown.
type Store interface {
	Load(branch string) (int, error)
	Save(branch string, version int) error
}

type markerFile struct {
	Versions map[string]int `yaml:"versions"`
}

// FileStore keeps markers in a small YAML file next to the install.
// Writes go through a temp file and rename.
type FileStore struct {
	path string
	mu   sync.Mutex
}

const FileName = ".pwrsync.yaml"

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// ForInstall returns the store kept inside an install directory.
func ForInstall(installDir string) *FileStore {
	return NewFileStore(filepath.Join(installDir, FileName))
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) read() (markerFile, error) {
	m := markerFile{Versions: map[string]int{}}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("error reading marker file: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("error parsing marker file: %w", err)
	}
	if m.Versions == nil {
		m.Versions = map[string]int{}
	}
	return m, nil
}

func (s *FileStore) Load(branch string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.read()
	if err != nil {
		return 0, err
	}
	return m.Versions[utils.NormalizeBranch(branch)], nil
}

// Save records version for branch. Replaying a save is harmless.
func (s *FileStore) Save(branch string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.read()
	if err != nil {
		return err
	}
	m.Versions[utils.NormalizeBranch(branch)] = version
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("error encoding marker file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("error creating marker directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("error writing marker file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("error finalizing marker file: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	versions map[string]int
	history  []Record
}

// Record is one recorded MemoryStore write.
type Record struct {
	Branch  string
	Version int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: map[string]int{}}
}

func (s *MemoryStore) Load(branch string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[utils.NormalizeBranch(branch)], nil
}

func (s *MemoryStore) Save(branch string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	branch = utils.NormalizeBranch(branch)
	s.versions[branch] = version
	s.history = append(s.history, Record{Branch: branch, Version: version})
	return nil
}

func (s *MemoryStore) History() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.history))
	copy(out, s.history)
	return out
}
