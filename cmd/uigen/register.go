package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/manash/uigen/internal/register"
)

func newRegisterCmd(app *App) *cobra.Command {
	var dryRun, force, status bool
	var command string

	cmd := &cobra.Command{
		Use:   "register [claude|codex|cursor|gemini ...]",
		Short: "Add uigen as an MCP server to AI coding tools",
		Long: `Register writes an MCP server entry that launches "uigen serve" into each tool's
configuration. With no arguments every supported tool is registered. Existing
files are backed up before they are changed.`,
		RunE: func(_ *cobra.Command, args []string) error {
			integrations, err := parseIntegrations(args)
			if err != nil {
				return err
			}
			r, err := app.registrar(command)
			if err != nil {
				return err
			}
			r.DryRun = dryRun
			r.Force = force

			st := newStyles(app.Out)
			if status {
				for _, i := range integrations {
					registered, path, err := r.Status(i)
					if err != nil {
						return err
					}
					state := st.dim.Render("not registered")
					if registered {
						state = st.success.Render("registered")
					}
					fmt.Fprintf(app.Out, "%-18s %s (%s)\n", i.DisplayName(), state, path)
				}
				return nil
			}

			var failed int
			for _, res := range r.Register(integrations) {
				switch {
				case res.Error != nil:
					failed++
					fmt.Fprintf(app.Err, "%s %s: %v\n", st.warn.Render("Failed:"), res.Integration.DisplayName(), res.Error)
				case res.WasSkipped:
					fmt.Fprintf(app.Out, "%s: skipped (%s)\n", res.Integration.DisplayName(), res.SkipReason)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d registration(s) failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would change without writing")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing uigen entry")
	cmd.Flags().BoolVar(&status, "status", false, "report registration status only")
	cmd.Flags().StringVar(&command, "command", "", "command the tools should launch (defaults to this executable)")
	return cmd
}

func newUnregisterCmd(app *App) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "unregister [claude|codex|cursor|gemini ...]",
		Short: "Remove the uigen MCP server entry from AI coding tools",
		RunE: func(_ *cobra.Command, args []string) error {
			integrations, err := parseIntegrations(args)
			if err != nil {
				return err
			}
			r, err := app.registrar("")
			if err != nil {
				return err
			}
			r.DryRun = dryRun

			for _, i := range integrations {
				if err := r.Unregister(i); err != nil {
					return fmt.Errorf("%s: %w", i.DisplayName(), err)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would change without writing")
	return cmd
}

func (a *App) registrar(command string) (*register.Registrar, error) {
	if command == "" {
		exe, err := os.Executable()
		if err != nil {
			exe = "uigen"
		}
		command = exe
	}
	return a.NewRegistrar(a.Out, a.In, command)
}

func parseIntegrations(args []string) ([]register.Integration, error) {
	if len(args) == 0 {
		return register.AllIntegrations(), nil
	}
	out := make([]register.Integration, 0, len(args))
	for _, a := range args {
		i, err := register.ParseIntegration(a)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}
