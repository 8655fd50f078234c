package tagfile

import (
	"errors"
	"fmt"
	"os"

	"github.com/SimplyPrint/spooltag/internal/filament"
	"github.com/SimplyPrint/spooltag/internal/keys"
	"github.com/SimplyPrint/spooltag/internal/mifare"
)

// ErrNotAuthoritative is returned when decoding a kind that does not carry the
// full block sequence.
var ErrNotAuthoritative = errors.New("representation does not carry the block sequence")

// Encode renders a dump as the given representation.
func Encode(k Kind, d *mifare.Dump) ([]byte, error) {
	switch k {
	case KindDump:
		return d.Bytes(), nil
	case KindKey:
		set := keys.FromDump(d)
		return set.Bytes(), nil
	case KindJSON:
		return EncodeJSON(d)
	case KindNFC:
		return EncodeNFC(d), nil
	case KindParsed:
		return []byte(filament.Decode(d).Summary()), nil
	default:
		return nil, fmt.Errorf("unknown representation kind %d", k)
	}
}

// Decode recovers the block sequence from an authoritative representation.
func Decode(k Kind, data []byte) (*mifare.Dump, error) {
	switch k {
	case KindDump:
		d, err := mifare.Parse(data)
		if err != nil {
			return nil, &ParseError{Kind: k, Err: err}
		}
		return d, nil
	case KindJSON:
		return DecodeJSON(data)
	case KindNFC:
		f, err := DecodeNFC(data)
		if err != nil {
			return nil, err
		}
		return f.Dump, nil
	default:
		return nil, &ParseError{Kind: k, Err: ErrNotAuthoritative}
	}
}

// ReadFile reads and decodes the representation at path.
func ReadFile(path string, k Kind) (*mifare.Dump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := Decode(k, data)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}
	return d, nil
}

// ReadAny reads path, inferring the representation from its file name.
func ReadAny(path string) (*mifare.Dump, Kind, error) {
	m, ok := Classify(path)
	if !ok {
		return nil, 0, fmt.Errorf("%s: unrecognised file name", path)
	}
	d, err := ReadFile(path, m.Kind)
	return d, m.Kind, err
}

// WriteNew writes data to path, failing if the file already exists.
func WriteNew(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
