package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/manash/uigen/internal/format"
	"github.com/manash/uigen/internal/history"
)

func newHistoryCmd(app *App, flags *rootFlags) *cobra.Command {
	var limit int
	var codeOnly bool

	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"hist"},
		Short:   "Browse past generations",
	}

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List recent generations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := app.historyStore(flags)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(app.Out, "No generations yet.")
				return nil
			}

			st := newStyles(app.Out)
			tw := tabwriter.NewWriter(app.Out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, st.label.Render("ID")+"\t"+st.label.Render("STATUS")+"\t"+
				st.label.Render("FRAMEWORK")+"\t"+st.label.Render("CREATED")+"\t"+st.label.Render("DESCRIPTION"))
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", shortID(r.ID), statusLabel(st, r.Status),
					r.Framework, history.FormatTimestamp(r.CreatedAt), truncate(r.Description, 50))
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum records to show (0 for all)")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a generation and its selected code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.historyStore(flags)
			if err != nil {
				return err
			}
			defer store.Close()

			r, err := store.Find(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if codeOnly {
				if !r.HasSelection() {
					return fmt.Errorf("generation %s has no selected code (status %s)", shortID(r.ID), r.Status)
				}
				fmt.Fprintln(app.Out, r.Code)
				return nil
			}

			st := newStyles(app.Out)
			fmt.Fprintf(app.Out, "%s %s\n", st.title.Render("Generation"), r.ID)
			fmt.Fprintf(app.Out, "Status:      %s\n", statusLabel(st, r.Status))
			fmt.Fprintf(app.Out, "Description: %s\n", r.Description)
			fmt.Fprintf(app.Out, "Framework:   %s\n", r.Framework.DisplayName())
			fmt.Fprintf(app.Out, "Styling:     %s\n", r.Styling.DisplayName())
			fmt.Fprintf(app.Out, "Created:     %s\n", history.FormatTimestamp(r.CreatedAt))
			if r.RemoteSessionID != "" {
				fmt.Fprintf(app.Out, "Session:     %s\n", r.RemoteSessionID)
			}
			if r.GalleryURL != "" {
				fmt.Fprintf(app.Out, "Gallery:     %s\n", r.GalleryURL)
			}
			if r.Error != "" {
				fmt.Fprintf(app.Out, "Error:       %s\n", st.warn.Render(r.Error))
			}
			if r.HasSelection() {
				fmt.Fprintf(app.Out, "Variation:   %d\n\n", r.VariationIndex+1)
				fmt.Fprintln(app.Out, format.CodeBlock(r.Code, r.Framework))
			}
			return nil
		},
	}
	show.Flags().BoolVar(&codeOnly, "code", false, "print only the selected code")

	del := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a generation from history",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.historyStore(flags)
			if err != nil {
				return err
			}
			defer store.Close()

			r, err := store.Find(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), r.ID); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Deleted %s\n", shortID(r.ID))
			return nil
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}

func (a *App) historyStore(flags *rootFlags) (*history.Store, error) {
	cfg, err := a.loadConfig(flags)
	if err != nil {
		return nil, err
	}
	return history.NewStore(cfg.History.Path)
}

func statusLabel(st styles, s history.Status) string {
	switch s {
	case history.StatusSelected:
		return st.success.Render(string(s))
	case history.StatusFailed:
		return st.warn.Render(string(s))
	default:
		return st.dim.Render(string(s))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func newConfigCmd(app *App, flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration as YAML (secrets masked)",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				cfg, err := app.loadConfig(flags)
				if err != nil {
					return err
				}
				if _, err := app.resolveAPIKey(cfg, flags); err != nil {
					cfg.APIKey = ""
				}
				return cfg.Dump(app.Out)
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file location",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				cfg, err := app.loadConfig(flags)
				if err != nil {
					return err
				}
				path := cfg.ConfigFile
				if path == "" {
					path = cfg.DefaultConfigPath() + " (not created)"
				}
				fmt.Fprintln(app.Out, path)
				return nil
			},
		},
	)

	return cmd
}
