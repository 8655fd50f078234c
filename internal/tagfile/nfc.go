package tagfile

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/SimplyPrint/spooltag/internal/mifare"
)

const (
	nfcFiletype   = "Flipper NFC device"
	nfcVersion    = 4
	nfcDeviceType = "Mifare Classic"
	nfcClassic1K  = "1K"
	nfcDataFormat = 2
	nfcUnknown    = "??"
)

// NFCHeader holds the identity lines of a Flipper NFC file. ATQA is kept in the
// byte order written in the file, which is reversed relative to block 0.
type NFCHeader struct {
	Filetype    string
	Version     int
	DeviceType  string
	UID         string
	ATQA        string
	SAK         string
	ClassicType string
}

// NFCFile is a decoded Flipper NFC file.
type NFCFile struct {
	Header NFCHeader
	Dump   *mifare.Dump
}

// EncodeNFC renders a dump in the Flipper NFC text format. The ATQA bytes are
// written in reverse order, as Flipper firmware expects them.
func EncodeNFC(d *mifare.Dump) []byte {
	m := d.Manufacturer()
	lines := []string{
		"Filetype: " + nfcFiletype,
		fmt.Sprintf("Version: %d", nfcVersion),
		"# Device type can be ISO14443-3A, ISO14443-3B, ISO14443-4A, ISO14443-4B, ISO15693-3, FeliCa, NTAG/Ultralight, Mifare Classic, Mifare Plus, Mifare DESFire, SLIX, ST25TB, EMV",
		"Device type: " + nfcDeviceType,
		"# UID is common for all formats",
		"UID: " + mifare.HexString(m.UID[:], true),
		"# ISO14443-3A specific data",
		"ATQA: " + mifare.HexString([]byte{m.ATQA[1], m.ATQA[0]}, true),
		"SAK: " + mifare.HexString([]byte{m.SAK}, true),
		"# Mifare Classic specific data",
		"Mifare Classic type: " + nfcClassic1K,
		fmt.Sprintf("Data format version: %d", nfcDataFormat),
		"# Mifare Classic blocks, '??' means unknown data",
	}
	for i := range d {
		lines = append(lines, fmt.Sprintf("Block %d: %s", i, d[i].Hex(true)))
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

// DecodeNFC parses a Flipper NFC file. Every one of the 64 blocks must be
// present and fully known; a block containing "??" bytes cannot be turned back
// into a dump. The UID, ATQA and SAK header lines, when present, must agree
// with block 0 (ATQA in reversed byte order).
func DecodeNFC(data []byte) (*NFCFile, error) {
	var (
		f    = &NFCFile{Dump: &mifare.Dump{}}
		seen [mifare.BlockCount]bool
		n    int
	)

	sc := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, parseErr(KindNFC, "line %d: expected \"key: value\"", lineNo)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch {
		case key == "Filetype":
			f.Header.Filetype = value
		case key == "Version":
			v, err := strconv.Atoi(value)
			if err != nil {
				return nil, parseErr(KindNFC, "line %d: invalid version %q", lineNo, value)
			}
			f.Header.Version = v
		case key == "Device type":
			f.Header.DeviceType = value
		case key == "UID":
			f.Header.UID = value
		case key == "ATQA":
			f.Header.ATQA = value
		case key == "SAK":
			f.Header.SAK = value
		case key == "Mifare Classic type":
			f.Header.ClassicType = value
		case strings.HasPrefix(key, "Block "):
			idx, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(key, "Block ")))
			if err != nil || idx < 0 || idx >= mifare.BlockCount {
				return nil, parseErr(KindNFC, "line %d: invalid block index %q", lineNo, key)
			}
			if seen[idx] {
				return nil, parseErr(KindNFC, "line %d: block %d listed twice", lineNo, idx)
			}
			b, err := parseNFCBlock(value)
			if err != nil {
				return nil, parseErr(KindNFC, "line %d: block %d: %w", lineNo, idx, err)
			}
			f.Dump[idx] = b
			seen[idx] = true
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, parseErr(KindNFC, "%w", err)
	}

	if f.Header.Filetype != nfcFiletype {
		return nil, parseErr(KindNFC, "unexpected filetype %q", f.Header.Filetype)
	}
	if f.Header.DeviceType != nfcDeviceType {
		return nil, parseErr(KindNFC, "unsupported device type %q", f.Header.DeviceType)
	}
	if f.Header.ClassicType != "" && f.Header.ClassicType != nfcClassic1K {
		return nil, parseErr(KindNFC, "unsupported Mifare Classic type %q", f.Header.ClassicType)
	}
	if n != mifare.BlockCount {
		for i, ok := range seen {
			if !ok {
				return nil, parseErr(KindNFC, "block %d missing (%d of %d present)", i, n, mifare.BlockCount)
			}
		}
	}
	if err := f.checkHeader(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *NFCFile) checkHeader() error {
	m := f.Dump.Manufacturer()

	if f.Header.UID != "" {
		uid := strings.ToUpper(strings.ReplaceAll(f.Header.UID, " ", ""))
		if want := mifare.HexString(m.UID[:], false); uid != want {
			return parseErr(KindNFC, "header UID %s does not match block 0 (%s)", f.Header.UID, want)
		}
	}
	if f.Header.ATQA != "" {
		atqa, err := f.Header.ATQABytes()
		if err != nil {
			return parseErr(KindNFC, "%w", err)
		}
		if atqa != m.ATQA {
			return parseErr(KindNFC, "header ATQA %s does not match block 0 (%s reversed)",
				f.Header.ATQA, mifare.HexString(m.ATQA[:], true))
		}
	}
	if f.Header.SAK != "" {
		sak, err := hex.DecodeString(strings.TrimSpace(f.Header.SAK))
		if err != nil || len(sak) != 1 {
			return parseErr(KindNFC, "invalid SAK %q", f.Header.SAK)
		}
		if sak[0] != m.SAK {
			return parseErr(KindNFC, "header SAK %s does not match block 0 (%02X)", f.Header.SAK, m.SAK)
		}
	}
	return nil
}

func parseNFCBlock(value string) (mifare.Block, error) {
	var b mifare.Block
	fields := strings.Fields(value)
	if len(fields) != mifare.BlockSize {
		return b, fmt.Errorf("expected %d bytes, got %d", mifare.BlockSize, len(fields))
	}
	for i, s := range fields {
		if s == nfcUnknown {
			return b, fmt.Errorf("byte %d is unknown", i)
		}
		v, err := hex.DecodeString(s)
		if err != nil || len(v) != 1 {
			return b, fmt.Errorf("invalid byte %q", s)
		}
		b[i] = v[0]
	}
	return b, nil
}

// ATQABytes returns the header ATQA in block 0 byte order.
func (h NFCHeader) ATQABytes() ([2]byte, error) {
	var out [2]byte
	b, err := hex.DecodeString(strings.ReplaceAll(h.ATQA, " ", ""))
	if err != nil || len(b) != 2 {
		return out, fmt.Errorf("invalid ATQA %q", h.ATQA)
	}
	out[0], out[1] = b[1], b[0]
	return out, nil
}
