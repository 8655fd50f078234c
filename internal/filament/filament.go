// Package filament decodes the spool metadata stored in the data blocks of a
// filament tag.
package filament

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-restruct/restruct"

	"github.com/SimplyPrint/spooltag/internal/mifare"
)

// Record is a read-only view of the filament fields of a dump. Decoding never
// fails: every 1024-byte image yields a Record, possibly with empty strings.
type Record struct {
	UID  string `json:"uid"`
	ATQA string `json:"atqa"`
	SAK  string `json:"sak"`

	FilamentType         string `json:"filamentType"`
	DetailedFilamentType string `json:"detailedFilamentType"`
	ColorHex             string `json:"colorHex"`

	MaterialVariantID    string  `json:"materialVariantId,omitempty"`
	MaterialID           string  `json:"materialId,omitempty"`
	SpoolWeightGrams     uint16  `json:"spoolWeightGrams,omitempty"`
	FilamentDiameterMM   float32 `json:"filamentDiameterMm,omitempty"`
	DryingTempC          uint16  `json:"dryingTempC,omitempty"`
	DryingTimeHours      uint16  `json:"dryingTimeHours,omitempty"`
	BedTempType          uint16  `json:"bedTempType,omitempty"`
	BedTempC             uint16  `json:"bedTempC,omitempty"`
	MaxHotendTempC       uint16  `json:"maxHotendTempC,omitempty"`
	MinHotendTempC       uint16  `json:"minHotendTempC,omitempty"`
	NozzleDiameterMM     float32 `json:"nozzleDiameterMm,omitempty"`
	TrayUID              string  `json:"trayUid,omitempty"`
	ProductionDate       string  `json:"productionDate,omitempty"`
	FilamentLengthMeters uint16  `json:"filamentLengthMeters,omitempty"`
}

// Block layouts. Multi-byte integers are little-endian.
type (
	materialBlock struct {
		Variant  [8]byte
		Material [8]byte
	}

	colorBlock struct {
		Color       [4]byte
		SpoolWeight uint16
		Reserved0   [2]byte
		Diameter    float32
		Reserved1   [4]byte
	}

	temperatureBlock struct {
		DryingTemp  uint16
		DryingTime  uint16
		BedTempType uint16
		BedTemp     uint16
		MaxHotend   uint16
		MinHotend   uint16
		Reserved    [4]byte
	}

	nozzleBlock struct {
		Reserved [12]byte
		Nozzle   float32
	}

	lengthBlock struct {
		Reserved0 [4]byte
		Length    uint16
		Reserved1 [10]byte
	}
)

// Decode projects the filament fields out of a dump.
func Decode(d *mifare.Dump) Record {
	m := d.Manufacturer()
	rec := Record{
		UID:                  mifare.HexString(m.UID[:], false),
		ATQA:                 mifare.HexString(m.ATQA[:], false),
		SAK:                  fmt.Sprintf("%02X", m.SAK),
		FilamentType:         asciiField(d[2][:]),
		DetailedFilamentType: asciiField(d[4][:]),
		TrayUID:              d[9].Hex(false),
		ProductionDate:       asciiField(d[12][:]),
	}

	var mat materialBlock
	unpack(d[1], &mat)
	rec.MaterialVariantID = asciiField(mat.Variant[:])
	rec.MaterialID = asciiField(mat.Material[:])

	var color colorBlock
	unpack(d[5], &color)
	rec.ColorHex = mifare.HexString(color.Color[:], false)
	rec.SpoolWeightGrams = color.SpoolWeight
	rec.FilamentDiameterMM = color.Diameter

	var temp temperatureBlock
	unpack(d[6], &temp)
	rec.DryingTempC = temp.DryingTemp
	rec.DryingTimeHours = temp.DryingTime
	rec.BedTempType = temp.BedTempType
	rec.BedTempC = temp.BedTemp
	rec.MaxHotendTempC = temp.MaxHotend
	rec.MinHotendTempC = temp.MinHotend

	var nozzle nozzleBlock
	unpack(d[8], &nozzle)
	rec.NozzleDiameterMM = nozzle.Nozzle

	var length lengthBlock
	unpack(d[14], &length)
	rec.FilamentLengthMeters = length.Length

	return rec
}

// DetailedType returns the detailed filament type, or the base type when the
// tag leaves it blank.
func (r Record) DetailedType() string {
	if r.DetailedFilamentType != "" {
		return r.DetailedFilamentType
	}
	return r.FilamentType
}

// RGBA returns the color as four bytes, red first. A malformed ColorHex yields zeros.
func (r Record) RGBA() [4]byte {
	var out [4]byte
	b, err := hex.DecodeString(r.ColorHex)
	if err != nil || len(b) != len(out) {
		return out
	}
	copy(out[:], b)
	return out
}

// Summary renders the short text written to -parsed.txt files.
func (r Record) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "UID: %s\n", r.UID)
	fmt.Fprintf(&sb, "Type: %s / %s\n", r.FilamentType, r.DetailedType())
	fmt.Fprintf(&sb, "Color: #%s\n", r.ColorHex)
	return sb.String()
}

// asciiField keeps the 7-bit bytes of a field, turns NULs into spaces and trims
// surrounding whitespace.
func asciiField(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch {
		case c == 0:
			out = append(out, ' ')
		case c < 0x80:
			out = append(out, c)
		}
	}
	return strings.TrimSpace(string(out))
}

func unpack(b mifare.Block, v interface{}) {
	// Every layout above is exactly one block long.
	if err := restruct.Unpack(b[:], binary.LittleEndian, v); err != nil {
		panic(fmt.Sprintf("filament: unpack %T: %v", v, err))
	}
}
