package keys

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/manash/uigen/internal/provider"
)

const (
	// DefaultProfile is used when no --profile is given.
	DefaultProfile = "default"

	EnvAPIKey    = "UIGEN_API_KEY"
	EnvConfigDir = "UIGEN_CONFIG_DIR"
)

var (
	ErrKeyNotFound    = errors.New("no key stored for profile")
	ErrAPIKeyRequired = provider.ErrAPIKeyRequired
)

// Store keeps service credentials per profile in keys.json.
type Store struct {
	configDir string
}

type entry struct {
	Key string `json:"key"`
}

type keyFile map[string]entry

func NewStore(configDir string) *Store {
	return &Store{configDir: configDir}
}

// ConfigDir returns the platform config directory for uigen. getenv is os.Getenv in
// production and a map lookup in tests.
func ConfigDir(getenv func(string) string) (string, error) {
	if dir := getenv(EnvConfigDir); dir != "" {
		return dir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "uigen"), nil
	case "windows":
		appData := getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "uigen"), nil
	default:
		configHome := getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, "uigen"), nil
	}
}

func (s *Store) Path() string {
	return filepath.Join(s.configDir, "keys.json")
}

func (s *Store) load() (keyFile, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return keyFile{}, nil
		}
		return nil, err
	}

	var keys keyFile
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.Path(), err)
	}
	if keys == nil {
		keys = keyFile{}
	}
	return keys, nil
}

func (s *Store) save(keys keyFile) error {
	if err := os.MkdirAll(s.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}

	// owner read/write only
	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write keys.json: %w", err)
	}
	return nil
}

// Set stores key for profile, replacing any existing one.
func (s *Store) Set(profile, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrAPIKeyRequired)
	}

	keys, err := s.load()
	if err != nil {
		return err
	}
	keys[profile] = entry{Key: key}
	return s.save(keys)
}

// Get returns the stored key, or "" when the profile has none.
func (s *Store) Get(profile string) (string, error) {
	keys, err := s.load()
	if err != nil {
		return "", err
	}
	return keys[profile].Key, nil
}

// Delete removes profile's key. It returns ErrKeyNotFound when there is none.
func (s *Store) Delete(profile string) error {
	keys, err := s.load()
	if err != nil {
		return err
	}

	if _, ok := keys[profile]; !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, profile)
	}

	delete(keys, profile)
	return s.save(keys)
}

// List returns the profile names in sorted order.
func (s *Store) List() ([]string, error) {
	keys, err := s.load()
	if err != nil {
		return nil, err
	}

	profiles := make([]string, 0, len(keys))
	for p := range keys {
		profiles = append(profiles, p)
	}
	sort.Strings(profiles)
	return profiles, nil
}

// MaskKey keeps the first and last four characters of key.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// Resolve picks the API key by priority: explicit value, stored profile key, then the
// UIGEN_API_KEY environment variable. The second return names where the key came from.
// store may be nil.
func Resolve(explicit string, store *Store, profile string, getenv func(string) string) (string, string, error) {
	if explicit != "" {
		return explicit, "command-line flag", nil
	}

	if store != nil {
		if stored, err := store.Get(profile); err == nil && stored != "" {
			return stored, fmt.Sprintf("stored key (%s, profile %q)", store.Path(), profile), nil
		}
	}

	if envKey := getenv(EnvAPIKey); envKey != "" {
		return envKey, fmt.Sprintf("environment variable (%s)", EnvAPIKey), nil
	}

	return "", "", fmt.Errorf("%w: run 'uigen keys set' or set %s", ErrAPIKeyRequired, EnvAPIKey)
}
