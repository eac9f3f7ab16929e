package keys

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestConfigDir(t *testing.T) {
	dir, err := ConfigDir(envMap(map[string]string{EnvConfigDir: "/tmp/uigen-test"}))
	if err != nil {
		t.Fatalf("ConfigDir() error = %v", err)
	}
	if dir != "/tmp/uigen-test" {
		t.Errorf("ConfigDir() = %q, want override", dir)
	}

	if runtime.GOOS == "linux" {
		dir, err = ConfigDir(envMap(map[string]string{"XDG_CONFIG_HOME": "/xdg"}))
		if err != nil {
			t.Fatalf("ConfigDir() error = %v", err)
		}
		if dir != filepath.Join("/xdg", "uigen") {
			t.Errorf("ConfigDir() = %q, want /xdg/uigen", dir)
		}
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewStore(tmpDir)

	if err := store.Set(DefaultProfile, "  ug-test-key-12345 "); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	info, err := os.Stat(filepath.Join(tmpDir, "keys.json"))
	if err != nil {
		t.Fatalf("keys.json not created: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("keys.json permissions = %v, want 0600", info.Mode().Perm())
	}

	key, err := store.Get(DefaultProfile)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if key != "ug-test-key-12345" {
		t.Errorf("Get() = %q, want trimmed key", key)
	}

	key, err = store.Get("staging")
	if err != nil {
		t.Fatalf("Get(missing) error = %v", err)
	}
	if key != "" {
		t.Errorf("Get(missing) = %q, want empty", key)
	}

	if err := store.Delete(DefaultProfile); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(DefaultProfile); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrKeyNotFound", err)
	}
}

func TestStore_SetRejectsEmpty(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Set(DefaultProfile, "   "); !errors.Is(err, ErrAPIKeyRequired) {
		t.Errorf("Set(empty) error = %v, want ErrAPIKeyRequired", err)
	}
}

func TestStore_ListSorted(t *testing.T) {
	store := NewStore(t.TempDir())

	profiles, err := store.List()
	if err != nil {
		t.Fatalf("List() on empty dir error = %v", err)
	}
	if len(profiles) != 0 {
		t.Errorf("List() = %v, want empty", profiles)
	}

	for _, p := range []string{"staging", "default", "local"} {
		if err := store.Set(p, "key-"+p); err != nil {
			t.Fatalf("Set(%s) error = %v", p, err)
		}
	}

	profiles, err = store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if strings.Join(profiles, ",") != "default,local,staging" {
		t.Errorf("List() = %v", profiles)
	}
}

func TestStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "keys.json"), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewStore(dir).Get(DefaultProfile); err == nil {
		t.Error("Get() on corrupt file should fail")
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", ""},
		{"short", "*****"},
		{"12345678", "********"},
		{"ug-abcdefgh1234", "ug-a*******1234"},
	}

	for _, tt := range tests {
		if got := MaskKey(tt.key); got != tt.want {
			t.Errorf("MaskKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestResolve_Priority(t *testing.T) {
	store := NewStore(t.TempDir())
	env := envMap(map[string]string{EnvAPIKey: "env-key"})

	key, source, err := Resolve("flag-key", store, DefaultProfile, env)
	if err != nil || key != "flag-key" || source != "command-line flag" {
		t.Errorf("Resolve(flag) = %q, %q, %v", key, source, err)
	}

	key, source, err = Resolve("", store, DefaultProfile, env)
	if err != nil || key != "env-key" || !strings.Contains(source, EnvAPIKey) {
		t.Errorf("Resolve(env) = %q, %q, %v", key, source, err)
	}

	if err := store.Set(DefaultProfile, "stored-key"); err != nil {
		t.Fatal(err)
	}
	key, source, err = Resolve("", store, DefaultProfile, env)
	if err != nil || key != "stored-key" || !strings.Contains(source, "stored key") {
		t.Errorf("Resolve(stored) = %q, %q, %v", key, source, err)
	}

	_, _, err = Resolve("", nil, DefaultProfile, envMap(nil))
	if !errors.Is(err, ErrAPIKeyRequired) {
		t.Errorf("Resolve(none) error = %v, want ErrAPIKeyRequired", err)
	}
}
