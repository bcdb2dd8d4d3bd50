package gateway

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CredentialStore persists the gateway's opaque session blob across process
// restarts. Only the gateway mutates it, rewriting the file on every
// credential-rotation event from the network.
type CredentialStore struct {
	mu   sync.Mutex
	path string
}

func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// Load returns the persisted blob, or nil when none has been saved yet.
func (s *CredentialStore) Load() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return blob, nil
}

// Save rewrites the blob atomically so a crash mid-write cannot corrupt the
// persisted session.
func (s *CredentialStore) Save(blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	temp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	tempName := temp.Name()

	if _, err := temp.Write(blob); err != nil {
		temp.Close()
		os.Remove(tempName)
		return fmt.Errorf("save credentials: %w", err)
	}
	if err := temp.Chmod(0o600); err != nil {
		temp.Close()
		os.Remove(tempName)
		return fmt.Errorf("save credentials: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("save credentials: %w", err)
	}
	if err := os.Rename(tempName, s.path); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}
