package tagfile

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/SimplyPrint/spooltag/internal/mifare"
)

// JSON document identity fields.
const (
	JSONCreator  = "spooltag"
	JSONFileType = "mfc v2"
)

// Document is the structured JSON view of a dump. Blocks and sectors are keyed
// by their decimal index and are always written in numeric order.
type Document struct {
	Created    string
	FileType   string
	Card       Card
	Blocks     [mifare.BlockCount]string
	SectorKeys [mifare.SectorCount]SectorKeys
}

// Card holds the identity fields read from block 0.
type Card struct {
	UID  string `json:"UID"`
	ATQA string `json:"ATQA"`
	SAK  string `json:"SAK"`
}

// SectorKeys is the per-sector entry of a Document.
type SectorKeys struct {
	KeyA                 string
	KeyB                 string
	AccessConditions     string
	AccessConditionsText mifare.AccessConditions
}

// NewDocument builds the structured view of a dump.
func NewDocument(d *mifare.Dump) *Document {
	m := d.Manufacturer()
	doc := &Document{
		Created:  JSONCreator,
		FileType: JSONFileType,
		Card: Card{
			UID:  mifare.HexString(m.UID[:], false),
			ATQA: mifare.HexString(m.ATQA[:], false),
			SAK:  mifare.HexString([]byte{m.SAK}, false),
		},
	}
	for i := range d {
		doc.Blocks[i] = d[i].Hex(false)
	}
	for sector := 0; sector < mifare.SectorCount; sector++ {
		t := d.Trailer(sector)
		doc.SectorKeys[sector] = SectorKeys{
			KeyA:                 t.KeyA.String(),
			KeyB:                 t.KeyB.String(),
			AccessConditions:     mifare.HexString(t.Access[:], false),
			AccessConditionsText: d.Access(sector),
		}
	}
	return doc
}

// orderedObject marshals as a JSON object with keys in slice order.
type orderedObject []field

type field struct {
	key   string
	value any
}

func (o orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d Document) object() orderedObject {
	blocks := make(orderedObject, 0, len(d.Blocks))
	for i, b := range d.Blocks {
		blocks = append(blocks, field{strconv.Itoa(i), b})
	}

	sectors := make(orderedObject, 0, len(d.SectorKeys))
	for i, s := range d.SectorKeys {
		text := make(orderedObject, 0, mifare.BlocksPerSector+1)
		for j := 0; j < mifare.BlocksPerSector; j++ {
			text = append(text, field{s.AccessConditionsText.Label(j), s.AccessConditionsText.Text[j]})
		}
		text = append(text, field{"UserData", s.AccessConditionsText.UserDataHex()})

		sectors = append(sectors, field{strconv.Itoa(i), orderedObject{
			{"KeyA", s.KeyA},
			{"KeyB", s.KeyB},
			{"AccessConditions", s.AccessConditions},
			{"AccessConditionsText", text},
		}})
	}

	return orderedObject{
		{"Created", d.Created},
		{"FileType", d.FileType},
		{"Card", d.Card},
		{"blocks", blocks},
		{"SectorKeys", sectors},
	}
}

// MarshalJSON writes the document with keys in a stable, numeric order.
func (d Document) MarshalJSON() ([]byte, error) {
	return d.object().MarshalJSON()
}

// EncodeJSON renders the structured document, indented by two spaces without a
// trailing newline.
func EncodeJSON(d *mifare.Dump) ([]byte, error) {
	return json.MarshalIndent(NewDocument(d), "", "  ")
}

type jsonInput struct {
	Created  string            `json:"Created"`
	FileType string            `json:"FileType"`
	Card     Card              `json:"Card"`
	Blocks   map[string]string `json:"blocks"`
}

// DecodeJSON recovers the block sequence from a structured document. All 64
// blocks must be present and hold exactly 16 bytes of hex. The Card and
// SectorKeys sections are informational and not cross-checked.
func DecodeJSON(data []byte) (*mifare.Dump, error) {
	var in jsonInput
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, parseErr(KindJSON, "%w", err)
	}
	if in.Blocks == nil {
		return nil, parseErr(KindJSON, "missing blocks object")
	}
	if len(in.Blocks) != mifare.BlockCount {
		return nil, parseErr(KindJSON, "expected %d blocks, got %d", mifare.BlockCount, len(in.Blocks))
	}

	var d mifare.Dump
	for i := range d {
		s, ok := in.Blocks[strconv.Itoa(i)]
		if !ok {
			return nil, parseErr(KindJSON, "block %d missing", i)
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, parseErr(KindJSON, "block %d: %w", i, err)
		}
		if len(b) != mifare.BlockSize {
			return nil, parseErr(KindJSON, "block %d: expected %d bytes, got %d", i, mifare.BlockSize, len(b))
		}
		copy(d[i][:], b)
	}
	return &d, nil
}
