// Package register adds the uigen MCP server to the configuration of AI coding tools.
package register

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/term"
)

// ServerName is the key uigen is registered under in every tool's server list.
const ServerName = "uigen"

// Integration is an AI tool that can launch uigen as an MCP server.
type Integration string

const (
	Claude Integration = "claude"
	Codex  Integration = "codex"
	Cursor Integration = "cursor"
	Gemini Integration = "gemini"
)

func AllIntegrations() []Integration {
	return []Integration{Claude, Codex, Cursor, Gemini}
}

// ParseIntegration accepts an integration name, case-insensitively.
func ParseIntegration(s string) (Integration, error) {
	i := Integration(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllIntegrations() {
		if i == known {
			return i, nil
		}
	}
	return "", fmt.Errorf("unknown integration %q: must be one of %v", s, AllIntegrations())
}

func (i Integration) String() string {
	return string(i)
}

func (i Integration) DisplayName() string {
	switch i {
	case Claude:
		return "Claude Code"
	case Codex:
		return "OpenAI Codex CLI"
	case Cursor:
		return "Cursor"
	case Gemini:
		return "Gemini CLI"
	default:
		return string(i)
	}
}

// ConfigPath is where the integration keeps its MCP server list. Cursor's is project-local.
func (i Integration) ConfigPath(home, cwd string) (string, error) {
	switch i {
	case Claude:
		return filepath.Join(home, ".claude.json"), nil
	case Codex:
		return filepath.Join(home, ".codex", "config.toml"), nil
	case Cursor:
		return filepath.Join(cwd, ".cursor", "mcp.json"), nil
	case Gemini:
		return filepath.Join(home, ".gemini", "settings.json"), nil
	default:
		return "", fmt.Errorf("unknown integration: %s", i)
	}
}

// serversKey is the top-level table that holds MCP server entries.
func (i Integration) serversKey() string {
	if i.IsTOML() {
		return "mcp_servers"
	}
	return "mcpServers"
}

// IsTOML reports whether the config is TOML text rather than a JSON document.
func (i Integration) IsTOML() bool {
	return i == Codex
}

// Server is the launch entry written for uigen.
type Server struct {
	Command string            `json:"command" toml:"command"`
	Args    []string          `json:"args" toml:"args"`
	Env     map[string]string `json:"env,omitempty" toml:"env,omitempty"`
}

// Result represents the result of a registration operation
type Result struct {
	Integration Integration
	Success     bool
	BackupPath  string
	ConfigPath  string
	Error       error
	WasExisting bool
	WasSkipped  bool
	SkipReason  string
}

type Registrar struct {
	Out    io.Writer
	In     io.Reader
	DryRun bool
	Force  bool
	Server Server
	// Home and Cwd locate config files.
	Home string
	Cwd  string

	now func() time.Time
}

// NewRegistrar returns a registrar that launches command with "serve".
func NewRegistrar(out io.Writer, in io.Reader, command string) (*Registrar, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return &Registrar{
		Out:    out,
		In:     in,
		Server: Server{Command: command, Args: []string{"serve"}},
		Home:   home,
		Cwd:    cwd,
		now:    time.Now,
	}, nil
}

// Register adds the uigen server to each integration's config, one Result per
// integration. A failure for one tool does not stop the others.
func (r *Registrar) Register(integrations []Integration) []Result {
	results := make([]Result, 0, len(integrations))
	for _, integration := range integrations {
		results = append(results, r.registerOne(integration))
	}
	return results
}

func (r *Registrar) registerOne(integration Integration) Result {
	result := Result{Integration: integration}

	configPath, err := integration.ConfigPath(r.Home, r.Cwd)
	if err != nil {
		result.Error = err
		return result
	}
	result.ConfigPath = configPath

	existing, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		result.WasExisting = true
		registered, err := isRegistered(integration, existing)
		if err != nil {
			result.Error = err
			return result
		}
		if registered && !r.Force {
			result.WasSkipped = true
			result.SkipReason = "uigen already registered (use --force to overwrite)"
			result.Success = true
			return result
		}
	case !errors.Is(err, fs.ErrNotExist):
		result.Error = err
		return result
	}

	updated, err := r.withServer(integration, existing)
	if err != nil {
		result.Error = err
		return result
	}

	r.showPreview(integration, configPath, result.WasExisting)

	if r.DryRun {
		result.WasSkipped = true
		result.SkipReason = "dry-run mode"
		result.Success = true
		return result
	}

	if !r.confirm(fmt.Sprintf("Register uigen with %s?", integration.DisplayName())) {
		result.WasSkipped = true
		result.SkipReason = "user cancelled"
		return result
	}

	if result.WasExisting {
		backupPath, err := r.backup(configPath)
		if err != nil {
			result.Error = fmt.Errorf("failed to create backup: %w", err)
			return result
		}
		result.BackupPath = backupPath
		fmt.Fprintf(r.Out, "  Backup created: %s\n", backupPath)
	}

	if err := writeFile(configPath, updated); err != nil {
		result.Error = fmt.Errorf("failed to write config: %w", err)
		return result
	}

	result.Success = true
	fmt.Fprintf(r.Out, "  Registered with %s\n\n", integration.DisplayName())
	return result
}

// withServer returns the config content with the uigen entry added or replaced.
func (r *Registrar) withServer(integration Integration, existing []byte) ([]byte, error) {
	doc, err := parseConfig(integration, existing)
	if err != nil {
		return nil, err
	}
	key := integration.serversKey()
	servers, _ := doc[key].(map[string]any)
	if servers == nil {
		servers = map[string]any{}
	}
	servers[ServerName] = r.Server
	doc[key] = servers
	return marshalConfig(integration, doc)
}

// withoutServer removes the uigen entry. empty reports that nothing else remains.
func withoutServer(integration Integration, existing []byte) (content []byte, empty bool, err error) {
	doc, err := parseConfig(integration, existing)
	if err != nil {
		return nil, false, err
	}
	key := integration.serversKey()
	if servers, ok := doc[key].(map[string]any); ok {
		delete(servers, ServerName)
		if len(servers) == 0 {
			delete(doc, key)
		}
	}
	if len(doc) == 0 {
		return nil, true, nil
	}
	out, err := marshalConfig(integration, doc)
	return out, false, err
}

func isRegistered(integration Integration, content []byte) (bool, error) {
	doc, err := parseConfig(integration, content)
	if err != nil {
		return false, err
	}
	servers, _ := doc[integration.serversKey()].(map[string]any)
	_, ok := servers[ServerName]
	return ok, nil
}

// parseConfig decodes a whole config document. Blank content is an empty document.
func parseConfig(integration Integration, content []byte) (map[string]any, error) {
	doc := map[string]any{}
	if len(strings.TrimSpace(string(content))) == 0 {
		return doc, nil
	}
	if integration.IsTOML() {
		if err := toml.Unmarshal(content, &doc); err != nil {
			return nil, fmt.Errorf("existing config is not valid TOML: %w", err)
		}
		return doc, nil
	}
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("existing config is not valid JSON: %w", err)
	}
	return doc, nil
}

func marshalConfig(integration Integration, doc map[string]any) ([]byte, error) {
	if integration.IsTOML() {
		return toml.Marshal(doc)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func (r *Registrar) showPreview(integration Integration, configPath string, exists bool) {
	fmt.Fprintf(r.Out, "\n%s:\n", integration.DisplayName())
	fmt.Fprintf(r.Out, "  Config path: %s\n", configPath)
	if exists {
		fmt.Fprintf(r.Out, "  Action: Add %q server to existing file (backup will be created)\n", ServerName)
	} else {
		fmt.Fprintf(r.Out, "  Action: Create new file\n")
	}
	fmt.Fprintf(r.Out, "  Command: %s %s\n", r.Server.Command, strings.Join(r.Server.Args, " "))
}

func (r *Registrar) confirm(prompt string) bool {
	if !isTerminal(r.In) {
		return true
	}

	fmt.Fprintf(r.Out, "  %s [Y/n] ", prompt)
	reader := bufio.NewReader(r.In)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "" || response == "y" || response == "yes"
}

func (r *Registrar) backup(configPath string) (string, error) {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	backupPath := configPath + ".backup-" + now().Format("20060102-150405")

	content, err := os.ReadFile(configPath)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(backupPath, content, 0600); err != nil {
		return "", err
	}
	return backupPath, nil
}

func writeFile(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return os.WriteFile(path, content, 0644)
}

func isTerminal(r io.Reader) bool {
	if f, ok := r.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// Rollback restores a backup file
func (r *Registrar) Rollback(backupPath string) error {
	if backupPath == "" {
		return fmt.Errorf("no backup path provided")
	}

	// Format: /path/to/file.backup-TIMESTAMP
	idx := strings.LastIndex(backupPath, ".backup-")
	if idx == -1 {
		return fmt.Errorf("invalid backup path format: %s", backupPath)
	}
	originalPath := backupPath[:idx]

	content, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}
	if err := os.WriteFile(originalPath, content, 0644); err != nil {
		return fmt.Errorf("failed to restore backup: %w", err)
	}

	fmt.Fprintf(r.Out, "Restored %s from backup\n", originalPath)
	return nil
}

// ListBackups lists backup files for an integration, oldest first.
func (r *Registrar) ListBackups(integration Integration) ([]string, error) {
	configPath, err := integration.ConfigPath(r.Home, r.Cwd)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(configPath)
	base := filepath.Base(configPath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var backups []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), base+".backup-") {
			backups = append(backups, filepath.Join(dir, entry.Name()))
		}
	}
	return backups, nil
}

// Status reports whether uigen is registered with integration, and where its config lives.
func (r *Registrar) Status(integration Integration) (registered bool, configPath string, err error) {
	configPath, err = integration.ConfigPath(r.Home, r.Cwd)
	if err != nil {
		return false, "", err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, configPath, nil
		}
		return false, configPath, err
	}

	registered, err = isRegistered(integration, content)
	return registered, configPath, err
}

// Unregister removes the uigen entry, deleting the file if nothing else is left in it.
func (r *Registrar) Unregister(integration Integration) error {
	configPath, err := integration.ConfigPath(r.Home, r.Cwd)
	if err != nil {
		return err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(r.Out, "%s: not registered (config file does not exist)\n", integration.DisplayName())
			return nil
		}
		return err
	}

	registered, err := isRegistered(integration, content)
	if err != nil {
		return err
	}
	if !registered {
		fmt.Fprintf(r.Out, "%s: not registered\n", integration.DisplayName())
		return nil
	}

	updated, empty, err := withoutServer(integration, content)
	if err != nil {
		return err
	}

	fmt.Fprintf(r.Out, "\n%s:\n", integration.DisplayName())
	fmt.Fprintf(r.Out, "  Config path: %s\n", configPath)
	if empty {
		fmt.Fprintf(r.Out, "  Action: Delete config file (only uigen was configured)\n")
	} else {
		fmt.Fprintf(r.Out, "  Action: Remove %q server from file\n", ServerName)
	}

	if r.DryRun {
		fmt.Fprintf(r.Out, "  Would unregister (dry-run)\n")
		return nil
	}
	if !r.confirm(fmt.Sprintf("Unregister uigen from %s?", integration.DisplayName())) {
		fmt.Fprintf(r.Out, "  Skipped\n")
		return nil
	}

	backupPath, err := r.backup(configPath)
	if err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	fmt.Fprintf(r.Out, "  Backup created: %s\n", backupPath)

	if empty {
		if err := os.Remove(configPath); err != nil {
			return err
		}
	} else if err := os.WriteFile(configPath, updated, 0644); err != nil {
		return err
	}

	fmt.Fprintf(r.Out, "  Unregistered from %s\n", integration.DisplayName())
	return nil
}
