package account

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type storeFile struct {
	Accounts []*Account `json:"accounts"`
}

// Load reads an account list from the JSON file at path. A missing file
// yields an empty list.
func Load(path string) (*List, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewList(), nil
		}
		return nil, err
	}
	var file storeFile
	if err := json.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse account store: %w", err)
	}
	list := NewList()
	for _, acct := range file.Accounts {
		list.Upsert(acct)
	}
	return list, nil
}

// Save writes the account list to the JSON file at path, creating the
// parent directory if needed. Files are owner-only: refresh tokens are
// long-lived secrets.
func Save(path string, list *List) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create account store dir: %w", err)
	}
	content, err := json.MarshalIndent(storeFile{Accounts: list.All()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal account store: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}
