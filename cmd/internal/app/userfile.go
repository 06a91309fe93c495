package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apiv1 "devmatch/contracts/api/v1"
)

// userFile is the chat client's persisted login.
type userFile struct {
	User         apiv1.User `json:"user"`
	SessionToken string     `json:"sessionToken,omitempty"`
}

// loadUserFile reads path. A missing file yields a zero value and no error.
func loadUserFile(path string) (userFile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return userFile{}, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return userFile{}, nil
	}
	if err != nil {
		return userFile{}, err
	}

	var uf userFile
	if err := json.Unmarshal(b, &uf); err != nil {
		return userFile{}, fmt.Errorf("parse %s: %w", path, err)
	}
	uf.User.ID = strings.TrimSpace(uf.User.ID)
	return uf, nil
}

// saveUserFile writes uf atomically with owner-only permissions.
func saveUserFile(path string, uf userFile) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	b, err := json.MarshalIndent(uf, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".devmatch-user-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
