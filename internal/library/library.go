// Package library reconciles a directory of tag files. Files sharing a base name
// are expected to describe the same tag; missing representations are generated
// from the dump once every present representation agrees.
package library

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/SimplyPrint/spooltag/internal/keys"
	"github.com/SimplyPrint/spooltag/internal/logging"
	"github.com/SimplyPrint/spooltag/internal/mifare"
	"github.com/SimplyPrint/spooltag/internal/tagfile"
)

// Housekeeping files that are neither grouped nor reported.
var ignored = map[string]bool{
	".DS_Store":        true,
	"_attribution.txt": true,
}

// Order in which representations are tried as the reference.
var referenceOrder = []tagfile.Kind{tagfile.KindDump, tagfile.KindJSON, tagfile.KindNFC}

// Options control what Sync writes.
type Options struct {
	// Create enables generating missing representations.
	Create bool
	// CreateParsed also generates the -parsed.txt summary.
	CreateParsed bool
}

// Group is the set of sibling files sharing one base name.
type Group struct {
	Base  string
	Files map[tagfile.Kind]string
}

// IssueKind classifies a problem found while reconciling.
type IssueKind string

const (
	IssueInvalidLength       IssueKind = "invalid_length"
	IssueParseFailure        IssueKind = "parse_failure"
	IssueConsistencyMismatch IssueKind = "consistency_mismatch"
	IssueKeyFileMismatch     IssueKind = "key_file_mismatch"
	IssueWriteFailure        IssueKind = "write_failure"
	IssueInternal            IssueKind = "internal_error"
)

// Issue is one reported problem. File is the base name of the offending file.
type Issue struct {
	Kind    IssueKind `json:"kind"`
	File    string    `json:"file,omitempty"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// GroupReport is the outcome for one base name.
type GroupReport struct {
	Base string `json:"base"`
	// Reference is the kind the group was checked against; empty when nothing parsed.
	Reference string   `json:"reference,omitempty"`
	Present   []string `json:"present"`
	Created   []string `json:"created,omitempty"`
	Issues    []Issue  `json:"issues,omitempty"`
	// Suppressed is set when a mismatch prevented synthesis.
	Suppressed bool `json:"suppressed,omitempty"`
}

// Report is the outcome of reconciling one directory.
type Report struct {
	Dir       string         `json:"dir"`
	Groups    []*GroupReport `json:"groups"`
	Unhandled []string       `json:"unhandled,omitempty"`
}

// Issues returns every issue in the report, in group order.
func (r *Report) Issues() []Issue {
	var out []Issue
	for _, g := range r.Groups {
		out = append(out, g.Issues...)
	}
	return out
}

// Created returns the names of every file written.
func (r *Report) Created() []string {
	var out []string
	for _, g := range r.Groups {
		out = append(out, g.Created...)
	}
	return out
}

// Clean reports whether no group had an issue.
func (r *Report) Clean() bool {
	return len(r.Issues()) == 0
}

// Scan groups the files of dir by base name. Files that are not a known
// representation are returned as unhandled. When a group has both a canonical
// key file and numbered variants, the canonical one is used and the variants are
// unhandled; with only variants, the first in name order is used.
func Scan(dir string) ([]*Group, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}

	groups := make(map[string]*Group)
	variants := make(map[string][]string)
	var unhandled []string

	// os.ReadDir returns entries sorted by name.
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || ignored[name] {
			continue
		}
		m, ok := tagfile.Classify(name)
		if !ok {
			unhandled = append(unhandled, name)
			continue
		}
		if m.Variant {
			variants[m.Base] = append(variants[m.Base], name)
			continue
		}
		g := groups[m.Base]
		if g == nil {
			g = &Group{Base: m.Base, Files: make(map[tagfile.Kind]string)}
			groups[m.Base] = g
		}
		g.Files[m.Kind] = filepath.Join(dir, name)
	}

	for base, names := range variants {
		g := groups[base]
		if g == nil {
			g = &Group{Base: base, Files: make(map[tagfile.Kind]string)}
			groups[base] = g
		}
		if _, ok := g.Files[tagfile.KindKey]; !ok {
			g.Files[tagfile.KindKey] = filepath.Join(dir, names[0])
			names = names[1:]
		}
		unhandled = append(unhandled, names...)
	}
	sort.Strings(unhandled)

	out := make([]*Group, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out, unhandled, nil
}

// Sync reconciles the directory at path. When path names a file, its parent
// directory is used. Per-file and per-group problems are recorded in the report;
// the returned error is only set when the directory cannot be read.
func Sync(path string, opts Options) (*Report, error) {
	dir := path
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		dir = filepath.Dir(path)
	}

	groups, unhandled, err := Scan(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	report := &Report{Dir: dir, Unhandled: unhandled}
	for _, g := range groups {
		report.Groups = append(report.Groups, syncGroup(dir, g, opts))
	}

	if len(unhandled) > 0 {
		logging.Warn(logging.CatLibrary, "Unknown files in folder", map[string]any{
			"dir":   dir,
			"files": unhandled,
		})
	}
	logging.Info(logging.CatLibrary, "Directory reconciled", map[string]any{
		"dir":     dir,
		"groups":  len(report.Groups),
		"created": len(report.Created()),
		"issues":  len(report.Issues()),
	})
	return report, nil
}

// SyncAll reconciles each path in order. A directory that cannot be read does
// not stop the others; the first such error is returned alongside the reports
// that did complete.
func SyncAll(paths []string, opts Options) ([]*Report, error) {
	var (
		reports  []*Report
		firstErr error
	)
	for _, p := range paths {
		r, err := Sync(p, opts)
		if err != nil {
			logging.Error(logging.CatLibrary, "Directory scan failed", map[string]any{
				"path":  p,
				"error": err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		reports = append(reports, r)
	}
	return reports, firstErr
}

type parsed struct {
	kind tagfile.Kind
	dump *mifare.Dump
}

func syncGroup(dir string, g *Group, opts Options) *GroupReport {
	gr := &GroupReport{Base: g.Base}
	for _, k := range tagfile.Kinds {
		if _, ok := g.Files[k]; ok {
			gr.Present = append(gr.Present, k.String())
		}
	}

	if err := reconcile(dir, g, opts, gr); err != nil {
		gr.Issues = append(gr.Issues, Issue{Kind: IssueInternal, Message: err.Error(), Err: err})
		gr.Suppressed = true
	}
	return gr
}

func reconcile(dir string, g *Group, opts Options, gr *GroupReport) (err error) {
	defer logging.RecoverToError("library group "+g.Base, &err)

	var reps []parsed
	for _, k := range referenceOrder {
		path, ok := g.Files[k]
		if !ok {
			continue
		}
		d, err := tagfile.ReadFile(path, k)
		if err != nil {
			kind := IssueParseFailure
			if errors.Is(err, mifare.ErrInvalidLength) {
				kind = IssueInvalidLength
			}
			gr.addIssue(kind, path, err)
			continue
		}
		reps = append(reps, parsed{kind: k, dump: d})
	}
	if len(reps) == 0 {
		return nil
	}

	ref := reps[0]
	gr.Reference = ref.kind.String()

	for _, other := range reps[1:] {
		if i, differs := ref.dump.FirstDifference(other.dump); differs {
			err := &MismatchError{
				Base:      g.Base,
				Reference: ref.kind.String(),
				Other:     other.kind.String(),
				Block:     i,
				Err:       ErrConsistencyMismatch,
			}
			gr.addIssue(IssueConsistencyMismatch, g.Files[other.kind], err)
			gr.Suppressed = true
		}
	}

	if path, ok := g.Files[tagfile.KindKey]; ok {
		if err := checkKeyFile(g.Base, ref, path); err != nil {
			gr.addIssue(IssueKeyFileMismatch, path, err)
			gr.Suppressed = true
		}
	}

	if gr.Suppressed || !opts.Create {
		return nil
	}

	for _, k := range tagfile.Kinds {
		if _, ok := g.Files[k]; ok {
			continue
		}
		if k == tagfile.KindParsed && !opts.CreateParsed {
			continue
		}
		path := tagfile.PathFor(dir, g.Base, k)
		if err := synthesize(path, k, ref.dump); err != nil {
			gr.addIssue(IssueWriteFailure, path, err)
			continue
		}
		gr.Created = append(gr.Created, filepath.Base(path))
		logging.Info(logging.CatLibrary, "Created file", map[string]any{
			"file": path,
			"from": ref.kind.String(),
		})
	}
	return nil
}

func checkKeyFile(base string, ref parsed, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	want := keys.FromDump(ref.dump)
	if !bytes.Equal(data, want.Bytes()) {
		return &MismatchError{
			Base:      base,
			Reference: ref.kind.String(),
			Other:     tagfile.KindKey.String(),
			Block:     -1,
			Err:       ErrKeyFileMismatch,
		}
	}
	return nil
}

// synthesize encodes d as kind k and writes it to a new file. Encodings that
// carry the block sequence are decoded again first and must match d.
func synthesize(path string, k tagfile.Kind, d *mifare.Dump) error {
	data, err := tagfile.Encode(k, d)
	if err != nil {
		return err
	}
	if k.Authoritative() {
		back, err := tagfile.Decode(k, data)
		if err != nil {
			return fmt.Errorf("encoded %s does not decode: %w", k, err)
		}
		if !back.Equal(d) {
			return fmt.Errorf("encoded %s does not round-trip", k)
		}
	}
	return tagfile.WriteNew(path, data)
}

func (gr *GroupReport) addIssue(kind IssueKind, path string, err error) {
	file := filepath.Base(path)
	gr.Issues = append(gr.Issues, Issue{Kind: kind, File: file, Message: err.Error(), Err: err})

	fields := map[string]any{
		"group": gr.Base,
		"file":  file,
		"error": err.Error(),
	}
	var me *MismatchError
	if errors.As(err, &me) {
		fields["reference"] = me.Reference
		fields["other"] = me.Other
	}
	logging.Warn(logging.CatLibrary, string(kind), fields)
}
