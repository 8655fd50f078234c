// Package repair replaces erased sector keys in a dump with the keys derived
// from the tag's own UID.
package repair

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/SimplyPrint/spooltag/internal/backup"
	"github.com/SimplyPrint/spooltag/internal/keys"
	"github.com/SimplyPrint/spooltag/internal/logging"
	"github.com/SimplyPrint/spooltag/internal/mifare"
)

// Sentinel keys mark an erased or unknown key slot.
var sentinels = []mifare.Key{
	{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	{0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
}

// IsSentinel reports whether k is one of the placeholder keys.
func IsSentinel(k mifare.Key) bool {
	for _, s := range sentinels {
		if k == s {
			return true
		}
	}
	return false
}

// Fix describes one repaired key field.
type Fix struct {
	Sector int        `json:"sector"`
	Slot   keys.Slot  `json:"slot"`
	Old    mifare.Key `json:"old"`
	New    mifare.Key `json:"new"`
}

// Dump replaces every sentinel Key A / Key B in the trailers with the key derived
// from the dump's UID and returns what changed. Non-sentinel keys are never
// touched, even when they differ from the derived value. Only trailer key bytes
// are modified.
func Dump(d *mifare.Dump) []Fix {
	derived := keys.Derive(d.UID())

	var fixes []Fix
	for sector := 0; sector < mifare.SectorCount; sector++ {
		t := d.Trailer(sector)
		if IsSentinel(t.KeyA) {
			d.SetKeyA(sector, derived.A[sector])
			fixes = append(fixes, Fix{Sector: sector, Slot: keys.SlotA, Old: t.KeyA, New: derived.A[sector]})
		}
		if IsSentinel(t.KeyB) {
			d.SetKeyB(sector, derived.B[sector])
			fixes = append(fixes, Fix{Sector: sector, Slot: keys.SlotB, Old: t.KeyB, New: derived.B[sector]})
		}
	}
	return fixes
}

// Options control how File writes its result.
type Options struct {
	// DryRun reports the fixes without writing anything.
	DryRun bool
	// BackupDir receives an LZ4 snapshot of the original file before it is
	// rewritten. Empty disables snapshots.
	BackupDir string
}

// Result is the outcome of repairing one file.
type Result struct {
	Path     string
	UID      string
	Fixes    []Fix
	Written  bool
	Snapshot string
}

// File repairs the dump stored at path in place. The file is only rewritten when
// at least one key changed.
func File(path string, opts Options) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	d, err := mifare.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	res := &Result{
		Path:  path,
		UID:   mifare.HexString(d.UID(), false),
		Fixes: Dump(d),
	}

	for _, f := range res.Fixes {
		logging.Debug(logging.CatRepair, "Key repaired", map[string]any{
			"file":   path,
			"sector": f.Sector,
			"slot":   f.Slot.String(),
			"key":    f.New.String(),
		})
	}

	if len(res.Fixes) == 0 || opts.DryRun {
		return res, nil
	}

	if opts.BackupDir != "" {
		snap, err := backup.Snapshot(opts.BackupDir, path, data)
		if err != nil {
			return res, fmt.Errorf("refusing to rewrite %s without a backup: %w", path, err)
		}
		res.Snapshot = snap
	}

	if err := replaceFile(path, d.Bytes()); err != nil {
		return res, fmt.Errorf("failed to write %s: %w", path, err)
	}
	res.Written = true

	logging.Info(logging.CatRepair, "Dump repaired", map[string]any{
		"file":  path,
		"uid":   res.UID,
		"fixes": len(res.Fixes),
	})
	return res, nil
}

// replaceFile writes data to a temporary file next to path and renames it over
// path, keeping the original permissions. path is either fully old or fully new.
func replaceFile(path string, data []byte) (err error) {
	mode := os.FileMode(0644)
	if info, statErr := os.Stat(path); statErr == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Chmod(mode); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
