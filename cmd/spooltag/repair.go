package main

import (
	"bufio"
	"fmt"
	"io"

	"github.com/SimplyPrint/spooltag/internal/repair"
	"github.com/spf13/cobra"
)

func (a *app) repairCmd() *cobra.Command {
	var yes, noBackup, dryRun bool

	cmd := &cobra.Command{
		Use:   "repair FILE...",
		Short: "Replace placeholder sector keys in dump files",
		Long: "Replace every Key A / Key B that is all FF or all 00 with the key derived\n" +
			"from the tag UID. Files are rewritten in place; a compressed snapshot of the\n" +
			"original is kept unless --no-backup is given.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			in := bufio.NewReader(cmd.InOrStdin())
			failed := false

			for _, path := range args {
				preview, err := repair.File(path, repair.Options{DryRun: true})
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					failed = true
					continue
				}
				printFixes(out, preview)
				if len(preview.Fixes) == 0 || dryRun {
					continue
				}

				if !yes && isInteractive() &&
					!confirm(in, out, fmt.Sprintf("Rewrite %s?", path)) {
					fmt.Fprintf(out, "  skipped\n")
					continue
				}

				res, err := repair.File(path, repair.Options{BackupDir: a.backupDir(noBackup)})
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					failed = true
					continue
				}
				if res.Written {
					fmt.Fprintf(out, "  written")
					if res.Snapshot != "" {
						fmt.Fprintf(out, " (backup %s)", res.Snapshot)
					}
					fmt.Fprintln(out)
				}
			}

			if failed {
				return errReported
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask before rewriting")
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "do not keep a snapshot of the original")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only list the keys that would change")
	return cmd
}

func printFixes(w io.Writer, res *repair.Result) {
	if len(res.Fixes) == 0 {
		fmt.Fprintf(w, "%s (UID %s): no placeholder keys\n", res.Path, res.UID)
		return
	}
	fmt.Fprintf(w, "%s (UID %s): %d key(s) to repair\n", res.Path, res.UID, len(res.Fixes))
	for _, f := range res.Fixes {
		fmt.Fprintf(w, "  sector %2d key %s: %s -> %s\n", f.Sector, f.Slot, f.Old, f.New)
	}
}
