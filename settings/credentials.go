// Package settings stores doctrans user credentials in the XDG data
// directory:
//
//	$XDG_DATA_HOME/doctrans/auth.json  (default: ~/.local/share/doctrans/)
//
// The file is a JSON object keyed by provider ID. Today only "deepl" is
// used; each entry holds an API key and an optional endpoint override.
// File permissions are 0600 (owner read/write only).
//
// Lookup order for the DeepL key:
//  1. --api-key flag (highest priority)
//  2. DOCTRANS_DEEPL_API_KEY, DEEPL_API_KEY or DEEPL_AUTH_KEY
//  3. This credential store
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	dataDirName = "doctrans"
	fileName    = "auth.json"
)

// DeepL is the provider ID of the DeepL credential.
const DeepL = "deepl"

// ---------------------------------------------------------------------------
// Entry types
// ---------------------------------------------------------------------------

// Info is one stored credential.
type Info struct {
	// Key is the provider API key.
	Key string `json:"key"`
	// BaseURL overrides the endpoint resolved from the key.
	BaseURL string `json:"baseUrl,omitempty"`
}

// Free reports whether the key belongs to a DeepL Free account.
func (i *Info) Free() bool {
	return strings.HasSuffix(i.Key, ":fx")
}

// Store holds all provider credentials, keyed by provider ID.
type Store map[string]*Info

// ---------------------------------------------------------------------------
// File path
// ---------------------------------------------------------------------------

// dataDir returns the XDG data directory for doctrans.
func dataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, dataDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", dataDirName), nil
}

func filePath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// FilePath returns the auth.json file path for display purposes.
func FilePath() string {
	p, err := filePath()
	if err != nil {
		return ""
	}
	return p
}

// DataDir returns the doctrans data directory path.
func DataDir() (string, error) {
	return dataDir()
}

// ---------------------------------------------------------------------------
// Load / Save
// ---------------------------------------------------------------------------

// Load reads the credential store from disk.
// Returns an empty store if the file doesn't exist or is invalid.
func Load() Store {
	path, err := filePath()
	if err != nil {
		return make(Store)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return make(Store)
	}

	var store Store
	if err := json.Unmarshal(data, &store); err != nil || store == nil {
		return make(Store)
	}
	return store
}

// Save writes the credential store to disk with 0600 permissions.
func Save(store Store) error {
	path, err := filePath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing auth file: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(path, 0600)
}

// ---------------------------------------------------------------------------
// Get / Set / Remove
// ---------------------------------------------------------------------------

// Get returns the entry for a provider, or nil if not found.
func Get(providerID string) *Info {
	return Load()[providerID]
}

// SetAPIKey stores an API key and optional base URL for a provider.
func SetAPIKey(providerID, key, baseURL string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("empty API key")
	}
	store := Load()
	store[providerID] = &Info{Key: key, BaseURL: strings.TrimSpace(baseURL)}
	return Save(store)
}

// GetAPIKey returns the stored API key for a provider, or "".
func GetAPIKey(providerID string) string {
	if info := Get(providerID); info != nil {
		return info.Key
	}
	return ""
}

// GetBaseURL returns the stored base URL for a provider, or "".
func GetBaseURL(providerID string) string {
	if info := Get(providerID); info != nil {
		return info.BaseURL
	}
	return ""
}

// Remove deletes credentials for a provider.
func Remove(providerID string) error {
	store := Load()
	if _, ok := store[providerID]; !ok {
		return nil
	}
	delete(store, providerID)
	return Save(store)
}

// RemoveAll removes all stored credentials.
func RemoveAll() error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing auth file: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// Source names where a resolved key came from.
type Source string

const (
	SourceFlag   Source = "flag"
	SourceConfig Source = "environment/config"
	SourceStore  Source = "credential store"
	SourceNone   Source = ""
)

// ResolveAPIKey applies the lookup order: the flag value, then the value
// from configuration (environment included), then the credential store.
func ResolveAPIKey(flagValue, configValue string) (string, Source) {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v, SourceFlag
	}
	if v := strings.TrimSpace(configValue); v != "" {
		return v, SourceConfig
	}
	if v := GetAPIKey(DeepL); v != "" {
		return v, SourceStore
	}
	return "", SourceNone
}

// ---------------------------------------------------------------------------
// Display helpers
// ---------------------------------------------------------------------------

// MaskKey returns a masked version of a key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
