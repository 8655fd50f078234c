package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/SimplyPrint/spooltag/internal/library"
	"github.com/SimplyPrint/spooltag/internal/logging"
	"github.com/SimplyPrint/spooltag/internal/settings"
	"github.com/spf13/cobra"
)

func (a *app) syncCmd() *cobra.Command {
	var noCreate, createParsed bool

	cmd := &cobra.Command{
		Use:   "sync [DIR...]",
		Short: "Cross-check tag files and generate missing representations",
		Long: "For every base name in each directory, check that the dump, JSON and NFC\n" +
			"files describe the same tag and that the key file matches the trailers, then\n" +
			"write any missing representation. Existing files are never overwritten.\n\n" +
			"Without arguments the configured library directory is used, then the last\n" +
			"synced one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs := args
			if len(dirs) == 0 {
				dir := a.cfg.Library.Dir
				if dir == "" {
					dir = settings.LastLibrary()
				}
				if dir == "" {
					return fmt.Errorf("no directory given and no library configured")
				}
				dirs = []string{dir}
			}

			opts := library.Options{
				Create:       !noCreate,
				CreateParsed: createParsed || a.cfg.Library.CreateParsed,
			}
			reports, err := library.SyncAll(dirs, opts)

			clean := err == nil
			for _, r := range reports {
				printReport(cmd.OutOrStdout(), r)
				if !r.Clean() {
					clean = false
				}
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			}

			if len(reports) > 0 {
				if abs, aerr := filepath.Abs(reports[len(reports)-1].Dir); aerr == nil {
					if serr := settings.SetLastLibrary(abs); serr != nil {
						logging.Debug(logging.CatSystem, "Failed to remember library", map[string]any{
							"error": serr.Error(),
						})
					}
				}
			}

			if !clean {
				return errReported
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&noCreate, "no-create", "n", false, "only check, do not write missing files")
	cmd.Flags().BoolVarP(&createParsed, "create-parsed", "p", false, "also write the -parsed.txt summary")
	return cmd
}

func printReport(w io.Writer, r *library.Report) {
	fmt.Fprintf(w, "%s\n", r.Dir)
	for _, g := range r.Groups {
		status := "ok"
		switch {
		case g.Suppressed:
			status = "MISMATCH"
		case len(g.Issues) > 0:
			status = "issues"
		}
		fmt.Fprintf(w, "  %-40s %s", g.Base, status)
		if g.Reference != "" {
			fmt.Fprintf(w, " (reference %s)", g.Reference)
		}
		fmt.Fprintln(w)

		for _, name := range g.Created {
			fmt.Fprintf(w, "    + %s\n", name)
		}
		for _, is := range g.Issues {
			if is.File != "" {
				fmt.Fprintf(w, "    ! %s: %s: %s\n", is.Kind, is.File, is.Message)
			} else {
				fmt.Fprintf(w, "    ! %s: %s\n", is.Kind, is.Message)
			}
		}
	}
	for _, name := range r.Unhandled {
		fmt.Fprintf(w, "  ? %s (unhandled)\n", name)
	}
}
