package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// UserFiles tracks which world templates belong to which user, as one JSON
// file per user. The ingest workflow appends here at its final linkage
// checkpoint.
type UserFiles struct {
	dir string
	mu  sync.Mutex
}

// NewUserFiles stores per-user file lists under dir.
func NewUserFiles(dir string) (*UserFiles, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("task: create user-files dir: %w", err)
	}
	return &UserFiles{dir: dir}, nil
}

func (u *UserFiles) path(userID string) string {
	return filepath.Join(u.dir, "user_"+userID+".json")
}

// List returns the user's file ids, oldest first. A user with no files gets
// an empty list.
func (u *UserFiles) List(userID string) ([]string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.readLocked(userID)
}

// Add appends fileID to the user's list. Adding an already-linked id is a
// no-op, so a resumed workflow can repeat the linkage checkpoint safely.
func (u *UserFiles) Add(userID, fileID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	ids, err := u.readLocked(userID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == fileID {
			return nil
		}
	}
	ids = append(ids, fileID)

	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("task: encode user files: %w", err)
	}
	path := u.path(userID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("task: write user files: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("task: finalize user files: %w", err)
	}
	return nil
}

func (u *UserFiles) readLocked(userID string) ([]string, error) {
	data, err := os.ReadFile(u.path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("task: read user files: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("task: decode user files: %w", err)
	}
	return ids, nil
}
