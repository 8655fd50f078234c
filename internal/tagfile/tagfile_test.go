package tagfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SimplyPrint/spooltag/internal/keys"
	"github.com/SimplyPrint/spooltag/internal/mifare"
)

// testDump returns a provisioned-looking tag: derived keys, the usual access
// bytes and some filament data.
func testDump() *mifare.Dump {
	d := &mifare.Dump{}
	copy(d[0][:], []byte{0x75, 0x88, 0x6B, 0x1D, 0x8B, 0x08, 0x04, 0x00, 0x62, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68, 0x69})
	copy(d[2][:], "PLA")
	copy(d[4][:], "PLA Basic")
	copy(d[5][:], []byte{0xFF, 0x6A, 0x13, 0xFF})
	for i := 8; i < mifare.BlockCount; i++ {
		if !mifare.IsTrailer(i) {
			for j := range d[i] {
				d[i][j] = byte(i ^ j)
			}
		}
	}
	set := keys.Derive(d.UID())
	for sector := 0; sector < mifare.SectorCount; sector++ {
		d.SetKeyA(sector, set.A[sector])
		d.SetKeyB(sector, set.B[sector])
		copy(d[mifare.TrailerBlock(sector)][6:10], []byte{0x87, 0x87, 0x87, 0x69})
	}
	return d
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		kind    Kind
		variant bool
		ok      bool
	}{
		{"hf-mf-75886B1D-dump.bin", "hf-mf-75886B1D", KindDump, false, true},
		{"hf-mf-75886B1D-key.bin", "hf-mf-75886B1D", KindKey, false, true},
		{"hf-mf-75886B1D-key-001.bin", "hf-mf-75886B1D", KindKey, true, true},
		{"hf-mf-75886B1D-dump.json", "hf-mf-75886B1D", KindJSON, false, true},
		{"hf-mf-75886B1D.nfc", "hf-mf-75886B1D", KindNFC, false, true},
		{"hf-mf-75886B1D-parsed.txt", "hf-mf-75886B1D", KindParsed, false, true},
		{"/some/dir/tag-dump.bin", "tag", KindDump, false, true},
		{"notes.txt", "", 0, false, false},
		{"image.bin", "", 0, false, false},
		{"-dump.bin", "", 0, false, false},
		{".DS_Store", "", 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := Classify(tt.name)
			if ok != tt.ok {
				t.Fatalf("Classify(%q) ok = %v, want %v", tt.name, ok, tt.ok)
			}
			if !ok {
				return
			}
			if m.Base != tt.base || m.Kind != tt.kind || m.Variant != tt.variant {
				t.Errorf("Classify(%q) = %+v, want base=%q kind=%v variant=%v", tt.name, m, tt.base, tt.kind, tt.variant)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, ok := ParseKind(k.String())
		if !ok || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, ok)
		}
	}
	if _, ok := ParseKind("bogus"); ok {
		t.Error("ParseKind should reject unknown names")
	}
}

func TestRoundTrip(t *testing.T) {
	d := testDump()

	for _, k := range []Kind{KindDump, KindJSON, KindNFC} {
		t.Run(k.String(), func(t *testing.T) {
			data, err := Encode(k, d)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			back, err := Decode(k, data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !bytes.Equal(back.Bytes(), d.Bytes()) {
				i, _ := back.FirstDifference(d)
				t.Errorf("round trip differs at block %d", i)
			}
		})
	}
}

func TestDecodeNotAuthoritative(t *testing.T) {
	for _, k := range []Kind{KindKey, KindParsed} {
		_, err := Decode(k, []byte("whatever"))
		if !errors.Is(err, ErrNotAuthoritative) || !errors.Is(err, ErrParse) {
			t.Errorf("Decode(%v) error = %v", k, err)
		}
	}
}

func TestDecodeDumpInvalidLength(t *testing.T) {
	_, err := Decode(KindDump, make([]byte, 1000))
	if !errors.Is(err, mifare.ErrInvalidLength) {
		t.Errorf("expected ErrInvalidLength, got %v", err)
	}
	if !errors.Is(err, ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
}

func TestEncodeKey(t *testing.T) {
	d := testDump()
	data, err := Encode(KindKey, d)
	if err != nil {
		t.Fatal(err)
	}
	want := keys.Derive(d.UID())
	if !bytes.Equal(data, want.Bytes()) {
		t.Error("key file should hold the trailer keys, A first")
	}
}

func TestEncodeJSONLayout(t *testing.T) {
	data, err := EncodeJSON(testDump())
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)

	if !strings.HasPrefix(out, "{\n  \"Created\": \"spooltag\",\n  \"FileType\": \"mfc v2\",\n  \"Card\": {\n    \"UID\": \"75886B1D\",\n    \"ATQA\": \"0400\",\n    \"SAK\": \"08\"\n  },\n  \"blocks\": {\n    \"0\": \"75886B1D8B0804006263646566676869\",") {
		t.Errorf("unexpected document head:\n%s", out[:300])
	}
	if strings.HasSuffix(out, "\n") {
		t.Error("document should not end with a newline")
	}

	// Numeric, not lexical, key order.
	if strings.Index(out, `"9": "`) > strings.Index(out, `"10": "`) {
		t.Error("block 9 should be written before block 10")
	}

	var doc struct {
		SectorKeys map[string]struct {
			KeyA                 string
			KeyB                 string
			AccessConditions     string
			AccessConditionsText map[string]string
		}
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("document is not valid JSON: %v", err)
	}
	s1 := doc.SectorKeys["1"]
	set := keys.Derive([]byte{0x75, 0x88, 0x6B, 0x1D})
	if s1.KeyA != set.A[1].String() || s1.KeyB != set.B[1].String() {
		t.Errorf("sector 1 keys = %s/%s", s1.KeyA, s1.KeyB)
	}
	if s1.AccessConditions != "87878769" {
		t.Errorf("AccessConditions = %q", s1.AccessConditions)
	}
	wantText := map[string]string{
		"block4":   "read AB",
		"block5":   "read AB",
		"block6":   "read AB",
		"block7":   "read ACCESS by AB; write ACCESS by B",
		"UserData": "69",
	}
	for k, v := range wantText {
		if s1.AccessConditionsText[k] != v {
			t.Errorf("AccessConditionsText[%s] = %q, want %q", k, s1.AccessConditionsText[k], v)
		}
	}
}

func TestDecodeJSONErrors(t *testing.T) {
	good, err := EncodeJSON(testDump())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data string
	}{
		{"not json", "{"},
		{"no blocks", `{"Created":"x"}`},
		{"missing block", strings.Replace(string(good), `"63": `, `"64": `, 1)},
		{"short block", strings.Replace(string(good), `"0": "75886B1D8B0804006263646566676869"`, `"0": "75886B1D"`, 1)},
		{"bad hex", strings.Replace(string(good), `"0": "75886B1D8B0804006263646566676869"`, `"0": "ZZ886B1D8B0804006263646566676869"`, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJSON([]byte(tt.data))
			if !errors.Is(err, ErrParse) {
				t.Errorf("expected ErrParse, got %v", err)
			}
		})
	}
}

func TestEncodeNFCLayout(t *testing.T) {
	out := string(EncodeNFC(testDump()))
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")

	want := []string{
		"Filetype: Flipper NFC device",
		"Version: 4",
		"# Device type can be ISO14443-3A, ISO14443-3B, ISO14443-4A, ISO14443-4B, ISO15693-3, FeliCa, NTAG/Ultralight, Mifare Classic, Mifare Plus, Mifare DESFire, SLIX, ST25TB, EMV",
		"Device type: Mifare Classic",
		"# UID is common for all formats",
		"UID: 75 88 6B 1D",
		"# ISO14443-3A specific data",
		"ATQA: 00 04",
		"SAK: 08",
		"# Mifare Classic specific data",
		"Mifare Classic type: 1K",
		"Data format version: 2",
		"# Mifare Classic blocks, '??' means unknown data",
		"Block 0: 75 88 6B 1D 8B 08 04 00 62 63 64 65 66 67 68 69",
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}
	if len(lines) != 13+mifare.BlockCount {
		t.Errorf("expected %d lines, got %d", 13+mifare.BlockCount, len(lines))
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("NFC file should end with a newline")
	}
}

func TestDecodeNFCHeader(t *testing.T) {
	f, err := DecodeNFC(EncodeNFC(testDump()))
	if err != nil {
		t.Fatal(err)
	}
	if f.Header.UID != "75 88 6B 1D" || f.Header.SAK != "08" || f.Header.Version != 4 {
		t.Errorf("unexpected header %+v", f.Header)
	}
	atqa, err := f.Header.ATQABytes()
	if err != nil {
		t.Fatal(err)
	}
	if atqa != [2]byte{0x04, 0x00} {
		t.Errorf("ATQABytes() = %X, want 0400", atqa)
	}
}

func TestDecodeNFCHeaderOptional(t *testing.T) {
	d := testDump()
	var kept []string
	for _, line := range strings.Split(string(EncodeNFC(d)), "\n") {
		if strings.HasPrefix(line, "UID:") || strings.HasPrefix(line, "ATQA:") || strings.HasPrefix(line, "SAK:") {
			continue
		}
		kept = append(kept, line)
	}

	f, err := DecodeNFC([]byte(strings.Join(kept, "\n")))
	if err != nil {
		t.Fatalf("DecodeNFC without identity lines: %v", err)
	}
	if !f.Dump.Equal(d) {
		t.Error("decoded blocks differ")
	}
}

func TestDecodeNFCAcceptsCRLF(t *testing.T) {
	d := testDump()
	data := bytes.ReplaceAll(EncodeNFC(d), []byte("\n"), []byte("\r\n"))
	f, err := DecodeNFC(data)
	if err != nil {
		t.Fatalf("DecodeNFC failed: %v", err)
	}
	if !f.Dump.Equal(d) {
		t.Error("CRLF file decoded to different blocks")
	}
}

func TestDecodeNFCErrors(t *testing.T) {
	good := string(EncodeNFC(testDump()))

	tests := []struct {
		name string
		data string
	}{
		{"unknown bytes", strings.Replace(good, "Block 10: 0A", "Block 10: ??", 1)},
		{"missing block", strings.Replace(good, "Block 63:", "# Block 63:", 1)},
		{"duplicate block", strings.Replace(good, "Block 63:", "Block 62:", 1)},
		{"index out of range", strings.Replace(good, "Block 63:", "Block 64:", 1)},
		{"wrong device", strings.Replace(good, "Device type: Mifare Classic", "Device type: NTAG215", 1)},
		{"4K card", strings.Replace(good, "Mifare Classic type: 1K", "Mifare Classic type: 4K", 1)},
		{"not flipper", strings.Replace(good, "Filetype: Flipper NFC device", "Filetype: other", 1)},
		{"garbage line", good + "garbage\n"},
		{"ATQA not reversed", strings.Replace(good, "ATQA: 00 04", "ATQA: 04 00", 1)},
		{"invalid ATQA", strings.Replace(good, "ATQA: 00 04", "ATQA: 00", 1)},
		{"UID differs from block 0", strings.Replace(good, "UID: 75 88 6B 1D", "UID: 75 88 6B 1E", 1)},
		{"SAK differs from block 0", strings.Replace(good, "SAK: 08", "SAK: 18", 1)},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeNFC([]byte(tt.data))
			if !errors.Is(err, ErrParse) {
				t.Errorf("expected ErrParse, got %v", err)
			}
		})
	}
}

func TestEncodeParsed(t *testing.T) {
	data, err := Encode(KindParsed, testDump())
	if err != nil {
		t.Fatal(err)
	}
	want := "UID: 75886B1D\nType: PLA / PLA Basic\nColor: #FF6A13FF\n"
	if string(data) != want {
		t.Errorf("parsed summary = %q, want %q", data, want)
	}
}

func TestReadFileSetsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.nfc")
	if err := os.WriteFile(path, []byte("Filetype: Flipper NFC device\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := ReadFile(path, KindNFC)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if pe.Path != path || pe.Kind != KindNFC {
		t.Errorf("ParseError = %+v", pe)
	}
}

func TestReadAny(t *testing.T) {
	dir := t.TempDir()
	d := testDump()
	path := PathFor(dir, "tag", KindJSON)
	data, _ := EncodeJSON(d)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	got, kind, err := ReadAny(path)
	if err != nil {
		t.Fatal(err)
	}
	if kind != KindJSON || !got.Equal(d) {
		t.Errorf("ReadAny = kind %v, equal %v", kind, got.Equal(d))
	}

	if _, _, err := ReadAny(filepath.Join(dir, "readme.md")); err == nil {
		t.Error("ReadAny should reject unknown names")
	}
}

func TestWriteNewNeverOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tag-dump.bin")

	if err := WriteNew(path, []byte("first")); err != nil {
		t.Fatalf("WriteNew failed: %v", err)
	}
	if err := WriteNew(path, []byte("second")); !errors.Is(err, os.ErrExist) {
		t.Errorf("second WriteNew should fail with ErrExist, got %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "first" {
		t.Errorf("file content = %q, want first", data)
	}
}
