package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/manash/uigen/internal/keys"
)

func newKeysCmd(app *App, flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored API keys",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set [key]",
			Short: "Store an API key for a profile (prompts when no key is given)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				store, profile, err := app.keyStore(flags)
				if err != nil {
					return err
				}

				var key string
				if len(args) == 1 {
					key = args[0]
				} else {
					key, err = readSecret(app.In, app.Err, fmt.Sprintf("API key for profile %q: ", profile))
					if err != nil {
						return err
					}
				}

				if err := store.Set(profile, key); err != nil {
					return err
				}
				st := newStyles(app.Out)
				fmt.Fprintf(app.Out, "%s key for profile %q (%s)\n", st.success.Render("Stored"), profile, keys.MaskKey(strings.TrimSpace(key)))
				return nil
			},
		},
		&cobra.Command{
			Use:   "get",
			Short: "Show the stored key for a profile, masked",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				store, profile, err := app.keyStore(flags)
				if err != nil {
					return err
				}
				key, err := store.Get(profile)
				if err != nil {
					return err
				}
				fmt.Fprintf(app.Out, "%s: %s\n", profile, keys.MaskKey(key))
				return nil
			},
		},
		&cobra.Command{
			Use:     "delete",
			Aliases: []string{"rm"},
			Short:   "Remove the stored key for a profile",
			Args:    cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				store, profile, err := app.keyStore(flags)
				if err != nil {
					return err
				}
				if err := store.Delete(profile); err != nil {
					return err
				}
				fmt.Fprintf(app.Out, "Deleted key for profile %q\n", profile)
				return nil
			},
		},
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List profiles with stored keys",
			Args:    cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				store, _, err := app.keyStore(flags)
				if err != nil {
					return err
				}
				profiles, err := store.List()
				if err != nil {
					return err
				}
				if len(profiles) == 0 {
					fmt.Fprintln(app.Out, "No stored keys. Run 'uigen keys set' to add one.")
					return nil
				}
				for _, p := range profiles {
					key, err := store.Get(p)
					if err != nil && !errors.Is(err, keys.ErrKeyNotFound) {
						return err
					}
					fmt.Fprintf(app.Out, "%s\t%s\n", p, keys.MaskKey(key))
				}
				return nil
			},
		},
	)

	return cmd
}

// keyStore opens the key store in the config directory and picks the profile.
func (a *App) keyStore(flags *rootFlags) (*keys.Store, string, error) {
	cfg, err := a.loadConfig(flags)
	if err != nil {
		return nil, "", err
	}
	profile := cfg.Profile
	if profile == "" {
		profile = keys.DefaultProfile
	}
	return keys.NewStore(cfg.ConfigDir), profile, nil
}

// readSecret reads a line without echo from a terminal, or the first line of in otherwise.
func readSecret(in io.Reader, prompt io.Writer, label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read key: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}
