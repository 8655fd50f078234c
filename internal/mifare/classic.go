// Package mifare models the memory image of a MIFARE Classic 1K tag: 64 blocks of
// 16 bytes grouped into 16 sectors, each closed by a trailer holding Key A, the
// access bits and Key B.
package mifare

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/go-restruct/restruct"
)

// Geometry of a MIFARE Classic 1K tag. Other sizes are not modelled.
const (
	BlockSize       = 16
	BlocksPerSector = 4
	SectorCount     = 16
	BlockCount      = SectorCount * BlocksPerSector // 64
	DumpSize        = BlockCount * BlockSize       // 1024
	KeySize         = 6
	UIDSize         = 4
)

// ErrInvalidLength is returned (wrapped in a *LengthError) when a buffer is not
// exactly DumpSize bytes.
var ErrInvalidLength = errors.New("invalid dump length")

// LengthError reports the expected and actual size of a rejected buffer.
type LengthError struct {
	Expected int
	Actual   int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("invalid dump length: expected %d bytes, got %d", e.Expected, e.Actual)
}

func (e *LengthError) Unwrap() error {
	return ErrInvalidLength
}

// Block is one 16-byte unit of tag memory.
type Block [BlockSize]byte

// Hex returns the block as uppercase hex. With spaced set, bytes are separated by a space.
func (b Block) Hex(spaced bool) string {
	return HexString(b[:], spaced)
}

// Key is a 6-byte sector key.
type Key [KeySize]byte

func (k Key) String() string {
	return HexString(k[:], false)
}

// MarshalText renders the key as uppercase hex.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Dump is the full 64-block memory image of a tag. It is the single source of
// truth for a tag's contents; every other view is derived from it.
type Dump [BlockCount]Block

// Parse splits a raw 1024-byte image into blocks. Any other length is rejected
// with a *LengthError; buffers are never padded or truncated.
func Parse(data []byte) (*Dump, error) {
	if len(data) != DumpSize {
		return nil, &LengthError{Expected: DumpSize, Actual: len(data)}
	}
	var d Dump
	for i := range d {
		copy(d[i][:], data[i*BlockSize:(i+1)*BlockSize])
	}
	return &d, nil
}

// Bytes returns the raw image, blocks concatenated in index order.
func (d *Dump) Bytes() []byte {
	out := make([]byte, 0, DumpSize)
	for i := range d {
		out = append(out, d[i][:]...)
	}
	return out
}

// Equal reports whether both dumps hold identical blocks.
func (d *Dump) Equal(other *Dump) bool {
	_, differs := d.FirstDifference(other)
	return !differs
}

// FirstDifference returns the index of the first block that differs between the
// two dumps.
func (d *Dump) FirstDifference(other *Dump) (int, bool) {
	for i := range d {
		if !bytes.Equal(d[i][:], other[i][:]) {
			return i, true
		}
	}
	return 0, false
}

// UID returns the 4-byte tag identifier stored at the start of block 0.
func (d *Dump) UID() []byte {
	uid := make([]byte, UIDSize)
	copy(uid, d[0][:UIDSize])
	return uid
}

// Manufacturer decodes block 0.
func (d *Dump) Manufacturer() ManufacturerBlock {
	var m ManufacturerBlock
	mustUnpack(d[0], &m)
	return m
}

// Trailer decodes the trailer block of the given sector.
func (d *Dump) Trailer(sector int) Trailer {
	var t Trailer
	mustUnpack(d[TrailerBlock(sector)], &t)
	return t
}

// SetKeyA overwrites bytes 0-5 of the sector trailer. Nothing else is touched.
func (d *Dump) SetKeyA(sector int, key Key) {
	copy(d[TrailerBlock(sector)][0:KeySize], key[:])
}

// SetKeyB overwrites bytes 10-15 of the sector trailer. Nothing else is touched.
func (d *Dump) SetKeyB(sector int, key Key) {
	copy(d[TrailerBlock(sector)][10:10+KeySize], key[:])
}

// ManufacturerBlock is the layout of block 0.
type ManufacturerBlock struct {
	UID          [UIDSize]byte
	BCC          byte
	SAK          byte
	ATQA         [2]byte
	Manufacturer [8]byte
}

// Trailer is the layout of a sector trailer block.
type Trailer struct {
	KeyA   Key
	Access [4]byte
	KeyB   Key
}

// SectorOf returns the sector holding the given block.
func SectorOf(block int) int {
	return block / BlocksPerSector
}

// TrailerBlock returns the block index of a sector's trailer.
func TrailerBlock(sector int) int {
	return sector*BlocksPerSector + 3
}

// IsTrailer reports whether the block index is a sector trailer.
func IsTrailer(block int) bool {
	return block%BlocksPerSector == 3
}

// HexString encodes bytes as uppercase hex, optionally space-separated.
func HexString(b []byte, spaced bool) string {
	if !spaced {
		return strings.ToUpper(hex.EncodeToString(b))
	}
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02X", c)
	}
	return strings.Join(parts, " ")
}

func mustUnpack(b Block, v interface{}) {
	// Struct layouts are exactly BlockSize bytes, so unpacking cannot run short.
	if err := restruct.Unpack(b[:], binary.LittleEndian, v); err != nil {
		panic(fmt.Sprintf("mifare: unpack %T: %v", v, err))
	}
}
