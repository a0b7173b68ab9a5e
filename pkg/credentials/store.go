package credentials

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrAuthNotFound means no valid credential bundle exists at the configured
// path. The device has to be paired out-of-band before the bot can start.
var ErrAuthNotFound = errors.New("auth not found")

// FileStore keeps a single credential bundle in a JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

// Load reads the credential bundle from the given path.
func Load(path string) (*Bundle, error) {
	return NewFileStore(path).Load()
}

// Load reads and validates the bundle. It never returns a partial bundle:
// any failure yields a nil bundle and an error wrapping ErrAuthNotFound.
func (s *FileStore) Load() (*Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrAuthNotFound, s.path)
		}
		return nil, fmt.Errorf("%w at %s: %v", ErrAuthNotFound, s.path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w at %s: path is a directory", ErrAuthNotFound, s.path)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %v", ErrAuthNotFound, s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w at %s: file is empty", ErrAuthNotFound, s.path)
	}

	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("%w at %s: %v", ErrAuthNotFound, s.path, err)
	}
	if err := bundle.Validate(); err != nil {
		return nil, fmt.Errorf("%w at %s: %v", ErrAuthNotFound, s.path, err)
	}

	return &bundle, nil
}

// Save persists the bundle. When the file already holds exactly the same
// encoding nothing is written and changed is false.
func (s *FileStore) Save(bundle *Bundle) (changed bool, err error) {
	if err := bundle.Validate(); err != nil {
		return false, err
	}

	data, err := Encode(bundle)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := os.ReadFile(s.path)
	if err == nil && bytes.Equal(current, data) {
		return false, nil
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return false, err
	}
	return true, nil
}

// Encode returns the canonical file encoding of a bundle.
func Encode(bundle *Bundle) ([]byte, error) {
	out := *bundle
	out.Version = BundleVersion

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode credential bundle: %w", err)
	}
	return append(data, '\n'), nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create credential directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod credential file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credential file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}
