// Package tagfile reads and writes the on-disk representations of a tag dump:
// the raw image, the raw key file, the structured JSON document, the Flipper NFC
// text file and the parsed summary.
package tagfile

import (
	"path/filepath"
	"strings"
)

// Kind identifies one on-disk representation.
type Kind int

const (
	KindDump Kind = iota
	KindKey
	KindJSON
	KindNFC
	KindParsed
)

// Kinds lists every representation in synthesis order.
var Kinds = []Kind{KindDump, KindKey, KindJSON, KindNFC, KindParsed}

// File name suffixes. A representation's base name is its file name with the
// suffix removed.
const (
	SuffixDump   = "-dump.bin"
	SuffixKey    = "-key.bin"
	SuffixJSON   = "-dump.json"
	SuffixNFC    = ".nfc"
	SuffixParsed = "-parsed.txt"
)

func (k Kind) String() string {
	switch k {
	case KindDump:
		return "dump"
	case KindKey:
		return "key"
	case KindJSON:
		return "json"
	case KindNFC:
		return "nfc"
	case KindParsed:
		return "parsed"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Suffix returns the canonical file name suffix of the kind.
func (k Kind) Suffix() string {
	switch k {
	case KindDump:
		return SuffixDump
	case KindKey:
		return SuffixKey
	case KindJSON:
		return SuffixJSON
	case KindNFC:
		return SuffixNFC
	case KindParsed:
		return SuffixParsed
	default:
		return ""
	}
}

// Authoritative reports whether the kind carries the full block sequence. Key
// files and parsed summaries do not.
func (k Kind) Authoritative() bool {
	return k == KindDump || k == KindJSON || k == KindNFC
}

// ParseKind maps a kind name ("dump", "key", ...) back to its Kind.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if k.String() == strings.ToLower(strings.TrimSpace(s)) {
			return k, true
		}
	}
	return 0, false
}

// Match is the classification of a single file name.
type Match struct {
	Base string
	Kind Kind
	// Variant is set for key files named like "<base>-key-001.bin" rather than
	// the canonical "<base>-key.bin".
	Variant bool
}

// Classify maps a file name to its base name and kind. ok is false for names
// that are not a known representation.
func Classify(name string) (m Match, ok bool) {
	name = filepath.Base(name)

	for _, k := range []Kind{KindDump, KindKey, KindJSON, KindNFC, KindParsed} {
		suffix := k.Suffix()
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			return Match{Base: strings.TrimSuffix(name, suffix), Kind: k}, true
		}
	}

	// Key file variants: <base>-key<anything>.bin
	if strings.HasSuffix(name, ".bin") {
		if i := strings.LastIndex(name, "-key"); i > 0 {
			return Match{Base: name[:i], Kind: KindKey, Variant: true}, true
		}
	}
	return Match{}, false
}

// PathFor returns the canonical path of a representation in dir.
func PathFor(dir, base string, k Kind) string {
	return filepath.Join(dir, base+k.Suffix())
}
