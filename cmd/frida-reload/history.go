package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nixlim/frida-reload/internal/config"
	"github.com/nixlim/frida-reload/internal/journal"
	"github.com/nixlim/frida-reload/internal/logger"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func newHistoryCmd(flags *rootFlags, log *logger.Logger) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Shows recent builds and deploys from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := flags.journal
			if path == "" {
				loaded, err := config.LoadFrom(flags.configPath)
				if err != nil {
					return err
				}
				path = loaded.Partial.Journal
			}
			if path == "" {
				return fmt.Errorf("no journal configured: pass --journal or set journal in %s", flags.configPath)
			}

			// Resolve ~ and relative paths the same way a run does.
			cfg, err := config.NewResolver().Resolve(config.Partial{
				Target:  config.Target{Name: "history"},
				Journal: path,
			})
			if err != nil {
				return err
			}

			db, err := journal.OpenDB(cfg.Journal)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			entries, err := journal.Recent(db, limit)
			if err != nil {
				return err
			}
			log.V(1).Info("Read journal", "path", cfg.Journal, "entries", len(entries))
			renderHistory(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	return cmd
}

func renderHistory(w io.Writer, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, dimStyle.Render("journal is empty"))
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-14s %-7s %-20s %-6s %s", "WHEN", "KIND", "TARGET", "STATUS", "DETAIL")))
	for _, e := range entries {
		status := okStyle.Render(fmt.Sprintf("%-6s", "ok"))
		if !e.OK {
			status = failStyle.Render(fmt.Sprintf("%-6s", "failed"))
		}
		fmt.Fprintf(w, "%-14s %-7s %-20s %s %s\n",
			humanize.Time(e.At), e.Kind, truncate(e.Target, 20), status, detail(e))
	}
}

func detail(e journal.Entry) string {
	var parts []string
	switch e.Kind {
	case journal.KindBuild:
		if e.OK {
			parts = append(parts,
				fmt.Sprintf("%d inputs", e.Inputs),
				humanize.Bytes(uint64(e.Bytes)),
			)
		}
		parts = append(parts, e.Duration.String())
	case journal.KindDeploy:
		parts = append(parts, fmt.Sprintf("pid %d", e.PID))
		if e.Spawned {
			parts = append(parts, "spawned")
		}
		if e.Initial {
			parts = append(parts, "initial")
		}
	}
	if e.Error != "" {
		parts = append(parts, failStyle.Render(firstLine(e.Error)))
	}
	return strings.Join(parts, ", ")
}

// truncate cuts s to n display cells, ending in an ellipsis when cut.
func truncate(s string, n int) string {
	return ansi.Truncate(s, n, "…")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
