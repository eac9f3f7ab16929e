package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/manash/uigen/internal/config"
	"github.com/manash/uigen/internal/dispatch"
	"github.com/manash/uigen/internal/events"
	"github.com/manash/uigen/internal/generate"
	"github.com/manash/uigen/internal/history"
	"github.com/manash/uigen/internal/keys"
	"github.com/manash/uigen/internal/logging"
	"github.com/manash/uigen/internal/provider"
	"github.com/manash/uigen/internal/provider/remote"
	"github.com/manash/uigen/internal/register"
	"github.com/manash/uigen/internal/waiter"
)

var (
	version = "dev"
	commit  = "none"
)

type App struct {
	In     io.Reader
	Out    io.Writer
	Err    io.Writer
	GetEnv func(string) string
	// DotEnvFiles are loaded into the environment before configuration is read.
	DotEnvFiles   []string
	NewClient     func(cfg *provider.Config, logger *slog.Logger) (provider.Client, error)
	NewSubscriber func(eventsURL, apiKey string, logger *slog.Logger) events.Subscriber
	// Opener launches the gallery. Nil uses the system browser.
	Opener dispatch.Opener
	// Clock drives wait timers. Nil uses the real clock.
	Clock clockwork.Clock

	NewRegistrar func(out io.Writer, in io.Reader, command string) (*register.Registrar, error)
}

func DefaultApp() *App {
	return &App{
		In:          os.Stdin,
		Out:         os.Stdout,
		Err:         os.Stderr,
		GetEnv:      os.Getenv,
		DotEnvFiles: []string{".env"},
		NewClient: func(cfg *provider.Config, logger *slog.Logger) (provider.Client, error) {
			c, err := remote.New(cfg, logger)
			if err != nil {
				return nil, err
			}
			logger.Debug("generation service", "base_url", c.BaseURL())
			return c, nil
		},
		NewSubscriber: func(eventsURL, apiKey string, logger *slog.Logger) events.Subscriber {
			return events.NewWebSocketSubscriber(eventsURL, apiKey, logger)
		},
		NewRegistrar: register.NewRegistrar,
	}
}

func main() {
	// stdout carries the MCP stream; keep browser launcher chatter off it
	browser.Stdout = os.Stderr
	browser.Stderr = os.Stderr

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := DefaultApp()
	rootCmd := newRootCmd(app)
	return rootCmd.ExecuteContext(ctx)
}

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	configFile string
	apiKey     string
	profile    string
	logLevel   string
	verbose    bool
}

func newRootCmd(app *App) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "uigen",
		Short: "Generate UI components by picking from rendered variations",
		Long: `uigen submits a component description to the generation service, opens a
gallery of five rendered variations in the browser, and returns the source of
the one you pick.

Run it as an MCP server so coding assistants can call generate_component,
or use it directly from the shell.

Examples:
  uigen serve
  uigen generate "pricing card with three tiers"
  uigen generate -f vue -s css -o src/components/Navbar.vue "sticky navbar"
  uigen keys set
  uigen register claude`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "config file (defaults to config.yaml in the uigen config directory)")
	pf.StringVar(&flags.apiKey, "api-key", "", "API key (defaults to the stored key, then UIGEN_API_KEY)")
	pf.StringVar(&flags.profile, "profile", "", "stored key profile")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log HTTP traffic and debug details")

	cmd.AddCommand(
		newServeCmd(app, flags),
		newGenerateCmd(app, flags),
		newKeysCmd(app, flags),
		newHistoryCmd(app, flags),
		newConfigCmd(app, flags),
		newRegisterCmd(app),
		newUnregisterCmd(app),
	)

	return cmd
}

// loadConfig reads configuration and applies the persistent flag overrides.
func (a *App) loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile:  flags.configFile,
		DotEnvFiles: a.DotEnvFiles,
		Getenv:      a.GetEnv,
	})
	if err != nil {
		return nil, err
	}

	if flags.profile != "" {
		cfg.Profile = flags.profile
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.verbose {
		cfg.Verbose = true
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// resolveAPIKey fills cfg.APIKey from the flag, the key store or the environment. A key
// set in the config file is the last resort.
func (a *App) resolveAPIKey(cfg *config.Config, flags *rootFlags) (string, error) {
	store := keys.NewStore(cfg.ConfigDir)
	key, source, err := keys.Resolve(flags.apiKey, store, cfg.Profile, a.GetEnv)
	if err == nil {
		cfg.APIKey = key
	} else if cfg.APIKey != "" {
		source = "config file"
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return "", err
	}
	return source, nil
}

type appEnv struct {
	cfg     *config.Config
	logger  *slog.Logger
	service *generate.Service
	closers []func()
}

func (r *appEnv) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// setup loads configuration, resolves credentials and wires the generation service.
// mutate may adjust the config before it is validated.
func (a *App) setup(flags *rootFlags, mutate func(*config.Config)) (*appEnv, error) {
	cfg, err := a.loadConfig(flags)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	source, err := a.resolveAPIKey(cfg, flags)
	if err != nil {
		return nil, err
	}

	logger, flush, err := logging.New(a.Err, cfg.LoggingOptions(version))
	if err != nil {
		return nil, err
	}
	rt := &appEnv{cfg: cfg, logger: logger, closers: []func(){flush}}
	logger.Debug("configuration loaded", "config_file", cfg.ConfigFile, "key_source", source,
		"strategy", cfg.Strategy)

	svc, err := a.newService(rt)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.service = svc
	return rt, nil
}

func (a *App) newService(rt *appEnv) (*generate.Service, error) {
	cfg, logger := rt.cfg, rt.logger

	client, err := a.NewClient(cfg.ProviderConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	strategy := waiter.Strategy(cfg.Strategy)
	var sub events.Subscriber
	if strategy == waiter.StrategyEvents {
		eventsURL, err := cfg.EventsEndpoint()
		if err != nil {
			return nil, err
		}
		sub = a.NewSubscriber(eventsURL, cfg.APIKey, logger)
	}

	source, err := waiter.New(strategy, cfg.Policy(), client, sub, a.Clock, logger)
	if err != nil {
		return nil, err
	}

	dispatcher := dispatch.New(client, dispatch.Options{
		AllowedFrameworks: cfg.AllowedFrameworks(),
		OpenBrowser:       cfg.OpenBrowser,
		Opener:            a.Opener,
	}, logger)

	var recorder *history.Recorder
	if cfg.History.Enabled {
		store, err := history.NewStore(cfg.History.Path)
		if err != nil {
			// history is optional; generation still works without it
			logger.Warn("history disabled", "path", cfg.History.Path, "error", err)
		} else {
			recorder = history.NewRecorder(store)
			rt.closers = append(rt.closers, func() { store.Close() })
		}
	}

	return generate.New(dispatcher, source, recorder, logger), nil
}
