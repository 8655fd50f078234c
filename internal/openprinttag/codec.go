package openprinttag

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

var (
	decMode cbor.DecMode
	encMode cbor.EncMode
)

func init() {
	var err error

	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthAllowed,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder: %v", err))
	}

	// Tags are usually zero-padded after the payload, so trailing data is not an error.
	decMode, err = cbor.DecOptions{
		IntDec:            cbor.IntDecConvertSigned,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder: %v", err))
	}
}

// indefiniteMap encodes a keyasint struct as an indefinite-length CBOR map with
// ascending integer keys. Fields dropped by omitempty are not written.
func indefiniteMap(v interface{}) ([]byte, error) {
	definite, err := encMode.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[int]cbor.RawMessage
	if err := decMode.Unmarshal(definite, &fields); err != nil {
		return nil, err
	}

	keys := make([]int, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var buf bytes.Buffer
	buf.WriteByte(0xbf)
	for _, k := range keys {
		kb, err := encMode.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("failed to encode key %d: %w", k, err)
		}
		buf.Write(kb)
		buf.Write(fields[k])
	}
	buf.WriteByte(0xff)
	return buf.Bytes(), nil
}

// Encode serializes the payload as meta + main + aux. Main and aux are
// indefinite-length maps; meta only carries the absolute aux offset.
func (o *OpenPrintTag) Encode() ([]byte, error) {
	mainBytes, err := indefiniteMap(&o.Main)
	if err != nil {
		return nil, fmt.Errorf("failed to encode main section: %w", err)
	}
	if len(mainBytes) > MaxSectionSize {
		return nil, fmt.Errorf("main section exceeds %d bytes (got %d)", MaxSectionSize, len(mainBytes))
	}

	auxBytes, err := indefiniteMap(&o.Aux)
	if err != nil {
		return nil, fmt.Errorf("failed to encode auxiliary section: %w", err)
	}
	if len(auxBytes) > MaxSectionSize {
		return nil, fmt.Errorf("auxiliary section exceeds %d bytes (got %d)", MaxSectionSize, len(auxBytes))
	}

	// The meta size depends on the offset it encodes; iterate until stable.
	var metaBytes []byte
	size := 4
	for i := 0; i < 5; i++ {
		metaBytes, err = encMode.Marshal(MetaSection{AuxOffset: uint16(size + len(mainBytes))})
		if err != nil {
			return nil, fmt.Errorf("failed to encode meta section: %w", err)
		}
		if len(metaBytes) == size {
			break
		}
		size = len(metaBytes)
	}

	o.Meta = MetaSection{AuxOffset: uint16(len(metaBytes) + len(mainBytes))}

	out := make([]byte, 0, len(metaBytes)+len(mainBytes)+len(auxBytes))
	out = append(out, metaBytes...)
	out = append(out, mainBytes...)
	out = append(out, auxBytes...)
	return out, nil
}

// Decode parses a payload. A payload may start with a meta section or directly
// with a main section; they are told apart by key 2, which is an integer offset
// in meta and a byte string UUID in main.
func Decode(payload []byte) (*OpenPrintTag, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}

	dec := decMode.NewDecoder(bytes.NewReader(payload))
	var first map[int]cbor.RawMessage
	if err := dec.Decode(&first); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	opt := &OpenPrintTag{}
	if raw, ok := first[2]; !ok || isByteString(raw) {
		if err := decMode.NewDecoder(bytes.NewReader(payload)).Decode(&opt.Main); err != nil {
			return nil, fmt.Errorf("failed to decode main section: %w", err)
		}
		return opt, nil
	}

	metaEnd := dec.NumBytesRead()
	if err := decMode.Unmarshal(payload[:metaEnd], &opt.Meta); err != nil {
		return nil, fmt.Errorf("failed to decode meta section: %w", err)
	}

	mainStart := metaEnd
	if opt.Meta.MainOffset > 0 {
		mainStart = int(opt.Meta.MainOffset)
	}
	mainEnd := len(payload)
	if opt.Meta.AuxOffset > 0 && int(opt.Meta.AuxOffset) < mainEnd {
		mainEnd = int(opt.Meta.AuxOffset)
	}
	if mainStart >= mainEnd {
		return nil, fmt.Errorf("invalid section offsets: main %d, aux %d", mainStart, opt.Meta.AuxOffset)
	}
	if err := decMode.NewDecoder(bytes.NewReader(payload[mainStart:mainEnd])).Decode(&opt.Main); err != nil {
		return nil, fmt.Errorf("failed to decode main section: %w", err)
	}

	if opt.Meta.AuxOffset > 0 && int(opt.Meta.AuxOffset) < len(payload) {
		// An unreadable aux section leaves Aux empty.
		_ = decMode.NewDecoder(bytes.NewReader(payload[opt.Meta.AuxOffset:])).Decode(&opt.Aux)
	}
	return opt, nil
}

// isByteString reports whether raw CBOR starts with major type 2.
func isByteString(raw cbor.RawMessage) bool {
	return len(raw) > 0 && raw[0]>>5 == 2
}
