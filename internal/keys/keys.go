// Package keys derives, extracts and serializes the per-sector keys of a
// filament spool tag.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/SimplyPrint/spooltag/internal/mifare"
)

// BlobSize is the size of a raw key file: 16 A keys followed by 16 B keys.
const BlobSize = 2 * mifare.SectorCount * mifare.KeySize // 192

// salt is shared by every provisioned tag. Changing it breaks compatibility with
// tags already in circulation.
var salt = [16]byte{
	0x9a, 0x75, 0x9c, 0xf2, 0xc4, 0xf7, 0xca, 0xff,
	0x22, 0x2c, 0xb9, 0x76, 0x9b, 0x41, 0xbc, 0x96,
}

// HKDF info labels for the two key streams, NUL included.
var (
	infoA = []byte("RFID-A\x00")
	infoB = []byte("RFID-B\x00")
)

// Slot selects Key A or Key B of a sector trailer.
type Slot byte

const (
	SlotA Slot = 'A'
	SlotB Slot = 'B'
)

func (s Slot) String() string {
	return string([]byte{byte(s)})
}

func (s Slot) MarshalText() ([]byte, error) {
	return []byte{byte(s)}, nil
}

// Set holds one A and one B key per sector.
type Set struct {
	A [mifare.SectorCount]mifare.Key
	B [mifare.SectorCount]mifare.Key
}

// Derive computes the 32 sector keys for a tag UID using HKDF-SHA256 with the
// fixed salt. Each stream is a single 96-byte expansion split into 6-byte keys,
// one per sector. The result depends only on uid.
func Derive(uid []byte) Set {
	var s Set
	expand(uid, infoA, &s.A)
	expand(uid, infoB, &s.B)
	return s
}

func expand(uid, info []byte, out *[mifare.SectorCount]mifare.Key) {
	r := hkdf.New(sha256.New, uid, salt[:], info)
	buf := make([]byte, mifare.SectorCount*mifare.KeySize)
	// 96 bytes is far below the HKDF-SHA256 output limit, so the read cannot fail.
	if _, err := io.ReadFull(r, buf); err != nil {
		panic(fmt.Sprintf("keys: hkdf expand: %v", err))
	}
	for i := range out {
		copy(out[i][:], buf[i*mifare.KeySize:])
	}
}

// FromDump reads the keys currently stored in the dump's sector trailers.
func FromDump(d *mifare.Dump) Set {
	var s Set
	for sector := 0; sector < mifare.SectorCount; sector++ {
		t := d.Trailer(sector)
		s.A[sector] = t.KeyA
		s.B[sector] = t.KeyB
	}
	return s
}

// Key returns the key for a sector and slot.
func (s *Set) Key(sector int, slot Slot) mifare.Key {
	if slot == SlotB {
		return s.B[sector]
	}
	return s.A[sector]
}

// Bytes serializes the set in key-file order: A0..A15 then B0..B15.
func (s *Set) Bytes() []byte {
	out := make([]byte, 0, BlobSize)
	for _, k := range s.A {
		out = append(out, k[:]...)
	}
	for _, k := range s.B {
		out = append(out, k[:]...)
	}
	return out
}

// Lines renders every key as uppercase hex, A keys first, one per entry.
func (s *Set) Lines() []string {
	lines := make([]string, 0, 2*mifare.SectorCount)
	for _, k := range s.A {
		lines = append(lines, k.String())
	}
	for _, k := range s.B {
		lines = append(lines, k.String())
	}
	return lines
}

// ParseBlob decodes a raw key file.
func ParseBlob(data []byte) (Set, error) {
	var s Set
	if len(data) != BlobSize {
		return s, fmt.Errorf("invalid key file length: expected %d bytes, got %d", BlobSize, len(data))
	}
	for i := 0; i < mifare.SectorCount; i++ {
		copy(s.A[i][:], data[i*mifare.KeySize:])
		copy(s.B[i][:], data[(mifare.SectorCount+i)*mifare.KeySize:])
	}
	return s, nil
}

// ParseUID parses a 4-byte UID given as hex. Spaces, colons and dashes between
// bytes are accepted.
func ParseUID(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "-", "").Replace(strings.TrimSpace(s))
	uid, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid UID %q: %w", s, err)
	}
	if len(uid) != mifare.UIDSize {
		return nil, fmt.Errorf("invalid UID %q: expected %d bytes, got %d", s, mifare.UIDSize, len(uid))
	}
	return uid, nil
}
