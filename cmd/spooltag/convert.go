package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/SimplyPrint/spooltag/internal/filament"
	"github.com/SimplyPrint/spooltag/internal/keys"
	"github.com/SimplyPrint/spooltag/internal/mifare"
	"github.com/SimplyPrint/spooltag/internal/openprinttag"
	"github.com/SimplyPrint/spooltag/internal/tagfile"
	"github.com/spf13/cobra"
)

// writeOutput writes data to out. "-" is stdout; any other path must not exist.
func writeOutput(cmd *cobra.Command, out string, data []byte) error {
	if out == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := tagfile.WriteNew(out, data); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", out)
	return nil
}

func (a *app) convertCmd() *cobra.Command {
	var to, out string

	cmd := &cobra.Command{
		Use:   "convert FILE",
		Short: "Convert a dump, JSON or NFC file into another representation",
		Long: "Convert a tag file into dump, key, json, nfc or parsed form. The input format\n" +
			"is taken from the file name suffix. Without -o the result is written next to\n" +
			"the input under its canonical name; existing files are never overwritten.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, ok := tagfile.ParseKind(to)
			if !ok {
				return fmt.Errorf("--to must be one of dump, key, json, nfc, parsed")
			}

			d, from, err := tagfile.ReadAny(args[0])
			if err != nil {
				return err
			}
			if from == k && out == "" {
				return fmt.Errorf("%s is already a %s file", args[0], k)
			}

			data, err := tagfile.Encode(k, d)
			if err != nil {
				return err
			}

			if out == "" {
				m, _ := tagfile.Classify(args[0])
				out = tagfile.PathFor(filepath.Dir(args[0]), m.Base, k)
			}
			return writeOutput(cmd, out, data)
		},
	}

	cmd.Flags().StringVarP(&to, "to", "t", "", "dump|key|json|nfc|parsed")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path, or - for stdout")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (a *app) keysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys UID|FILE",
		Short: "Print the 32 sector keys for a tag",
		Long: "Print the 16 Key A values then the 16 Key B values, one per line. The\n" +
			"argument is either a 4-byte UID in hex or a tag file: keys are derived\n" +
			"from the dump's UID, or read directly from a key file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := keysFor(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(set.Lines(), "\n"))
			return nil
		},
	}
}

func keysFor(arg string) (keys.Set, error) {
	if _, err := os.Stat(arg); err != nil {
		uid, perr := keys.ParseUID(arg)
		if perr != nil {
			return keys.Set{}, perr
		}
		return keys.Derive(uid), nil
	}

	if m, ok := tagfile.Classify(arg); ok && m.Kind == tagfile.KindKey {
		data, err := os.ReadFile(arg)
		if err != nil {
			return keys.Set{}, err
		}
		return keys.ParseBlob(data)
	}

	d, _, err := tagfile.ReadAny(arg)
	if err != nil {
		return keys.Set{}, err
	}
	return keys.Derive(d.UID()), nil
}

func (a *app) infoCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "info FILE",
		Short: "Show the filament data and sector access conditions of a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := tagfile.ReadAny(args[0])
			if err != nil {
				return err
			}
			rec := filament.Decode(d)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}
			printInfo(cmd.OutOrStdout(), d, rec)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the filament record as JSON")
	return cmd
}

func printInfo(w io.Writer, d *mifare.Dump, rec filament.Record) {
	fmt.Fprint(w, rec.Summary())
	fmt.Fprintf(w, "ATQA: %s  SAK: %s\n", rec.ATQA, rec.SAK)
	if rec.MaterialID != "" || rec.MaterialVariantID != "" {
		fmt.Fprintf(w, "Material: %s (variant %s)\n", rec.MaterialID, rec.MaterialVariantID)
	}
	if rec.SpoolWeightGrams > 0 {
		fmt.Fprintf(w, "Spool weight: %d g\n", rec.SpoolWeightGrams)
	}
	if rec.FilamentDiameterMM > 0 {
		fmt.Fprintf(w, "Diameter: %.2f mm\n", rec.FilamentDiameterMM)
	}
	if rec.FilamentLengthMeters > 0 {
		fmt.Fprintf(w, "Length: %d m\n", rec.FilamentLengthMeters)
	}
	if rec.MaxHotendTempC > 0 {
		fmt.Fprintf(w, "Hotend: %d-%d C\n", rec.MinHotendTempC, rec.MaxHotendTempC)
	}
	if rec.BedTempC > 0 {
		fmt.Fprintf(w, "Bed: %d C\n", rec.BedTempC)
	}
	if rec.DryingTempC > 0 {
		fmt.Fprintf(w, "Drying: %d C for %d h\n", rec.DryingTempC, rec.DryingTimeHours)
	}
	if rec.ProductionDate != "" {
		fmt.Fprintf(w, "Produced: %s\n", rec.ProductionDate)
	}

	derived := keys.Derive(d.UID())
	fmt.Fprintln(w, "\nSector  Key A         Key B         Access")
	for s := 0; s < mifare.SectorCount; s++ {
		t := d.Trailer(s)
		mark := ""
		if t.KeyA != derived.A[s] || t.KeyB != derived.B[s] {
			mark = " *"
		}
		fmt.Fprintf(w, "%6d  %s  %s  %s%s\n", s, t.KeyA, t.KeyB, mifare.HexString(t.Access[:], false), mark)
	}
}

func (a *app) exportOPTCmd() *cobra.Command {
	var out string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "export-opt FILE",
		Short: "Export a tag as an OpenPrintTag CBOR payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := tagfile.ReadAny(args[0])
			if err != nil {
				return err
			}
			opt, err := openprinttag.FromFilament(filament.Decode(d))
			if err != nil {
				return err
			}
			payload, err := opt.Encode()
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(opt.ToResponse())
			}

			if out == "" {
				m, _ := tagfile.Classify(args[0])
				out = filepath.Join(filepath.Dir(args[0]), m.Base+".opt.cbor")
			}
			return writeOutput(cmd, out, payload)
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "", "output path, or - for stdout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the decoded payload fields instead of writing CBOR")
	return cmd
}
