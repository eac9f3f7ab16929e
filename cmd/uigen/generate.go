package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/manash/uigen/internal/config"
	"github.com/manash/uigen/internal/generate"
	"github.com/manash/uigen/internal/mcp"
	"github.com/manash/uigen/internal/output"
	"github.com/manash/uigen/internal/provider"
	"github.com/manash/uigen/internal/waiter"
	"github.com/manash/uigen/pkg/models"
)

func newServeCmd(app *App, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the generate_component tool over MCP stdio",
		Long: `Serve speaks MCP (JSON-RPC 2.0) on stdin and stdout. Logs go to stderr.

Register it with an assistant, for example:
  {"mcpServers": {"uigen": {"command": "uigen", "args": ["serve"]}}}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := app.setup(flags, nil)
			if err != nil {
				return err
			}
			defer env.Close()

			srv := mcp.NewServer(env.service, mcp.Options{
				In:         app.In,
				Out:        app.Out,
				Version:    version,
				Frameworks: env.cfg.AllowedFrameworks(),
			}, env.logger)

			env.logger.Info("serving MCP on stdio", "version", version, "strategy", env.cfg.Strategy)
			return srv.Run(cmd.Context())
		},
	}
}

type generateFlags struct {
	framework string
	styling   string
	output    string
	dir       string
	save      bool
	strategy  string
	noBrowser bool
}

func newGenerateCmd(app *App, flags *rootFlags) *cobra.Command {
	gf := &generateFlags{}

	cmd := &cobra.Command{
		Use:     "generate <description>",
		Aliases: []string{"gen"},
		Short:   "Generate a component and wait for your pick",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, args, app, flags, gf)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&gf.framework, "framework", "f", "", "target framework (react, vue, svelte)")
	f.StringVarP(&gf.styling, "styling", "s", "", "styling approach (tailwind, css, styled-components)")
	f.StringVarP(&gf.output, "output", "o", "", "write the selected code to this relative path")
	f.StringVar(&gf.dir, "dir", ".", "base directory for written files")
	f.BoolVar(&gf.save, "save", false, "write the selected code using the component name as filename")
	f.StringVar(&gf.strategy, "strategy", "", "wait strategy (poll, events)")
	f.BoolVar(&gf.noBrowser, "no-browser", false, "do not open the gallery automatically")

	return cmd
}

func runGenerate(cmd *cobra.Command, args []string, app *App, flags *rootFlags, gf *generateFlags) error {
	if gf.strategy != "" && !waiter.Strategy(gf.strategy).IsValid() {
		return fmt.Errorf("invalid strategy %q: must be one of %v", gf.strategy, waiter.ValidStrategies())
	}

	env, err := app.setup(flags, func(cfg *config.Config) {
		if gf.strategy != "" {
			cfg.Strategy = gf.strategy
		}
		if gf.noBrowser {
			cfg.OpenBrowser = false
		}
	})
	if err != nil {
		return err
	}
	defer env.Close()

	req := &models.GenerationRequest{
		Description: strings.Join(args, " "),
		Framework:   models.Framework(strings.ToLower(gf.framework)),
		Styling:     models.Styling(strings.ToLower(gf.styling)),
	}
	req.ApplyDefaults()

	st := newStyles(app.Err)
	fmt.Fprintf(app.Err, "%s %s component (%s)...\n",
		st.title.Render("Generating"), req.Framework.DisplayName(), req.Styling.DisplayName())

	out, err := env.service.Generate(cmd.Context(), req, generate.WithSubmitted(func(sub *models.Submission) {
		fmt.Fprintf(app.Err, "%s %s\n", st.label.Render("Gallery:"), sub.GalleryURL)
		fmt.Fprintln(app.Err, st.dim.Render("Waiting for a variation to be picked..."))
	}))
	if err != nil {
		if errors.Is(err, provider.ErrValidation) {
			return err
		}
		return fmt.Errorf("generation failed: %w", err)
	}

	path := gf.output
	if path == "" && gf.save {
		path = output.DefaultFilename(out.Selection, req.Framework)
	}
	if path == "" {
		fmt.Fprintln(app.Out, out.Text)
		return nil
	}

	written, err := output.NewWriter(gf.dir).Write(out.Selection, req.Framework, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Err, "%s %s (variation %d of %d)\n", st.success.Render("Saved:"), written,
		out.Selection.VariationIndex+1, models.VariationCount)
	if deps := out.Selection.Dependencies; len(deps) > 0 {
		fmt.Fprintf(app.Err, "%s npm install %s\n", st.label.Render("Install:"), strings.Join(deps, " "))
	}
	return nil
}
