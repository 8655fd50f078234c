// Package openprinttag exports spool data in the OpenPrintTag NFC data format.
// See https://specs.openprinttag.org for the full specification.
package openprinttag

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SimplyPrint/spooltag/internal/filament"
	"github.com/SimplyPrint/spooltag/internal/keys"
)

// MIME type for OpenPrintTag NDEF records
const MIMEType = "application/vnd.openprinttag"

// MaxSectionSize is the maximum size of a main or aux section.
const MaxSectionSize = 512

// Brand written for every exported tag.
const Brand = "Bambu Lab"

type MaterialClass uint8

const (
	MaterialClassFFF MaterialClass = 0
	MaterialClassSLA MaterialClass = 1
)

// MaterialType enum values for FFF materials.
type MaterialType uint8

const (
	MaterialTypePLA    MaterialType = 0
	MaterialTypeABS    MaterialType = 1
	MaterialTypePETG   MaterialType = 2
	MaterialTypeASA    MaterialType = 3
	MaterialTypePC     MaterialType = 4
	MaterialTypeNylon  MaterialType = 5
	MaterialTypeTPU    MaterialType = 6
	MaterialTypePVA    MaterialType = 7
	MaterialTypeHIPS   MaterialType = 8
	MaterialTypePP     MaterialType = 9
	MaterialTypePA     MaterialType = 12
	MaterialTypePACF   MaterialType = 13
	MaterialTypePAGF   MaterialType = 14
	MaterialTypePLACF  MaterialType = 15
	MaterialTypePLAGF  MaterialType = 16
	MaterialTypePETGCF MaterialType = 17
	MaterialTypePETGGF MaterialType = 18
	MaterialTypeOther  MaterialType = 255
)

var materialTypeNames = map[MaterialType]string{
	MaterialTypePLA:    "PLA",
	MaterialTypeABS:    "ABS",
	MaterialTypePETG:   "PETG",
	MaterialTypeASA:    "ASA",
	MaterialTypePC:     "PC",
	MaterialTypeNylon:  "Nylon",
	MaterialTypeTPU:    "TPU",
	MaterialTypePVA:    "PVA",
	MaterialTypeHIPS:   "HIPS",
	MaterialTypePP:     "PP",
	MaterialTypePA:     "PA",
	MaterialTypePACF:   "PA-CF",
	MaterialTypePAGF:   "PA-GF",
	MaterialTypePLACF:  "PLA-CF",
	MaterialTypePLAGF:  "PLA-GF",
	MaterialTypePETGCF: "PETG-CF",
	MaterialTypePETGGF: "PETG-GF",
	MaterialTypeOther:  "Other",
}

func (m MaterialType) String() string {
	if name, ok := materialTypeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(m))
}

// filamentTypes maps the type string stored on Bambu Lab tags to a material type.
var filamentTypes = map[string]MaterialType{
	"PLA":     MaterialTypePLA,
	"ABS":     MaterialTypeABS,
	"PETG":    MaterialTypePETG,
	"PET":     MaterialTypePETG,
	"ASA":     MaterialTypeASA,
	"PC":      MaterialTypePC,
	"TPU":     MaterialTypeTPU,
	"PVA":     MaterialTypePVA,
	"HIPS":    MaterialTypeHIPS,
	"PP":      MaterialTypePP,
	"PA":      MaterialTypePA,
	"PA6":     MaterialTypeNylon,
	"PA-CF":   MaterialTypePACF,
	"PA6-CF":  MaterialTypePACF,
	"PAHT-CF": MaterialTypePACF,
	"PA-GF":   MaterialTypePAGF,
	"PA6-GF":  MaterialTypePAGF,
	"PLA-CF":  MaterialTypePLACF,
	"PLA-GF":  MaterialTypePLAGF,
	"PETG-CF": MaterialTypePETGCF,
	"PET-CF":  MaterialTypePETGCF,
	"PETG-GF": MaterialTypePETGGF,
}

// MaterialTypeFor returns the material type for a tag's filament type string.
func MaterialTypeFor(filamentType string) MaterialType {
	key := strings.ToUpper(strings.Join(strings.Fields(filamentType), ""))
	if mt, ok := filamentTypes[key]; ok {
		return mt
	}
	return MaterialTypeOther
}

// MetaSection holds the offsets of the other sections.
type MetaSection struct {
	MainOffset uint16 `cbor:"0,keyasint,omitempty"`
	MainSize   uint16 `cbor:"1,keyasint,omitempty"`
	AuxOffset  uint16 `cbor:"2,keyasint,omitempty"`
	AuxSize    uint16 `cbor:"3,keyasint,omitempty"`
}

// MainSection holds the immutable material properties written on export.
// Class and type are always present since their zero values (FFF, PLA) are
// meaningful.
type MainSection struct {
	InstanceUUID []byte `cbor:"0,keyasint,omitempty"`
	MaterialUUID []byte `cbor:"2,keyasint,omitempty"`
	BrandUUID    []byte `cbor:"3,keyasint,omitempty"`

	BrandSpecificInstanceID string `cbor:"5,keyasint,omitempty"`
	BrandSpecificMaterialID string `cbor:"7,keyasint,omitempty"`

	MaterialClass MaterialClass `cbor:"8,keyasint"`
	MaterialType  MaterialType  `cbor:"9,keyasint"`
	MaterialName  string        `cbor:"10,keyasint,omitempty"`
	BrandName     string        `cbor:"11,keyasint,omitempty"`

	ManufacturedDate uint32 `cbor:"14,keyasint,omitempty"` // Unix timestamp

	NominalNettoFullWeight float32 `cbor:"16,keyasint,omitempty"` // g

	PrimaryColor []byte `cbor:"19,keyasint,omitempty"` // RGBA

	FilamentDiameter  float32 `cbor:"30,keyasint,omitempty"` // mm
	MinNozzleDiameter float32 `cbor:"33,keyasint,omitempty"` // mm

	MinPrintTemp uint16 `cbor:"34,keyasint,omitempty"`
	MaxPrintTemp uint16 `cbor:"35,keyasint,omitempty"`
	MinBedTemp   uint16 `cbor:"37,keyasint,omitempty"`
	MaxBedTemp   uint16 `cbor:"38,keyasint,omitempty"`

	MaterialAbbreviation string `cbor:"52,keyasint,omitempty"`
	NominalFullLength    uint32 `cbor:"53,keyasint,omitempty"` // mm
}

// AuxSection holds data printers may update.
type AuxSection struct {
	ConsumedWeight float32 `cbor:"0,keyasint,omitempty"`
	Workgroup      string  `cbor:"1,keyasint,omitempty"`
}

// OpenPrintTag is a complete payload.
type OpenPrintTag struct {
	Meta MetaSection
	Main MainSection
	Aux  AuxSection
}

// Namespaces for UUIDv5 derivation.
var (
	brandNamespace    = uuid.MustParse("5269dfb7-1559-440a-85be-aba5f3eff2d2")
	materialNamespace = uuid.MustParse("616fc86d-7d99-4953-96c7-46d2836b9be9")
	instanceNamespace = uuid.MustParse("31062f81-b5bd-4f86-a5f8-46367e841508")
)

// BrandUUID is uuid5(brandNamespace, brand_name).
func BrandUUID(brand string) uuid.UUID {
	return uuid.NewSHA1(brandNamespace, []byte(brand))
}

// MaterialUUID is uuid5(materialNamespace, brand_uuid || material_name).
func MaterialUUID(brand, material string) uuid.UUID {
	b := BrandUUID(brand)
	data := append(b[:], material...)
	return uuid.NewSHA1(materialNamespace, data)
}

// InstanceUUID is uuid5(instanceNamespace, tag UID).
func InstanceUUID(tagUID []byte) uuid.UUID {
	return uuid.NewSHA1(instanceNamespace, tagUID)
}

// productionLayout is the date format stored in block 12 of Bambu Lab tags.
const productionLayout = "2006_01_02_15_04"

// FromFilament maps a decoded filament record to an OpenPrintTag payload.
func FromFilament(rec filament.Record) (*OpenPrintTag, error) {
	uid, err := keys.ParseUID(rec.UID)
	if err != nil {
		return nil, err
	}

	name := rec.DetailedType()
	rgba := rec.RGBA()
	brandUUID := BrandUUID(Brand)
	materialUUID := MaterialUUID(Brand, name)
	instanceUUID := InstanceUUID(uid)

	opt := &OpenPrintTag{}
	m := &opt.Main
	m.InstanceUUID = instanceUUID[:]
	m.MaterialUUID = materialUUID[:]
	m.BrandUUID = brandUUID[:]
	m.BrandSpecificInstanceID = rec.TrayUID
	m.BrandSpecificMaterialID = rec.MaterialID
	m.MaterialClass = MaterialClassFFF
	m.MaterialType = MaterialTypeFor(rec.FilamentType)
	m.MaterialName = name
	m.BrandName = Brand
	m.MaterialAbbreviation = rec.FilamentType
	m.PrimaryColor = rgba[:]
	m.NominalNettoFullWeight = float32(rec.SpoolWeightGrams)
	m.FilamentDiameter = rec.FilamentDiameterMM
	m.MinNozzleDiameter = rec.NozzleDiameterMM
	m.MinPrintTemp = rec.MinHotendTempC
	m.MaxPrintTemp = rec.MaxHotendTempC
	m.MinBedTemp = rec.BedTempC
	m.MaxBedTemp = rec.BedTempC
	m.NominalFullLength = uint32(rec.FilamentLengthMeters) * 1000

	if t, err := time.Parse(productionLayout, rec.ProductionDate); err == nil {
		m.ManufacturedDate = uint32(t.Unix())
	}
	return opt, nil
}

// Response is the JSON view of a payload.
type Response struct {
	MaterialName  string `json:"materialName,omitempty"`
	BrandName     string `json:"brandName,omitempty"`
	MaterialClass string `json:"materialClass,omitempty"`
	MaterialType  string `json:"materialType,omitempty"`

	InstanceUUID string `json:"instanceUuid,omitempty"`
	MaterialUUID string `json:"materialUuid,omitempty"`
	BrandUUID    string `json:"brandUuid,omitempty"`

	NominalWeight   float32 `json:"nominalWeight,omitempty"`
	RemainingWeight float32 `json:"remainingWeight,omitempty"`

	PrimaryColor      string  `json:"primaryColor,omitempty"` // #RRGGBBAA
	FilamentDiameter  float32 `json:"filamentDiameter,omitempty"`
	FilamentLength    uint32  `json:"filamentLength,omitempty"` // mm
	MinNozzleDiameter float32 `json:"minNozzleDiameter,omitempty"`

	MinPrintTemp uint16 `json:"minPrintTemp,omitempty"`
	MaxPrintTemp uint16 `json:"maxPrintTemp,omitempty"`
	MinBedTemp   uint16 `json:"minBedTemp,omitempty"`
	MaxBedTemp   uint16 `json:"maxBedTemp,omitempty"`

	ManufacturedDate uint32 `json:"manufacturedDate,omitempty"`
}

// ToResponse converts a payload to its JSON view.
func (o *OpenPrintTag) ToResponse() *Response {
	resp := &Response{
		MaterialName:      o.Main.MaterialName,
		BrandName:         o.Main.BrandName,
		MaterialClass:     materialClassToString(o.Main.MaterialClass),
		MaterialType:      o.Main.MaterialType.String(),
		InstanceUUID:      formatUUID(o.Main.InstanceUUID),
		MaterialUUID:      formatUUID(o.Main.MaterialUUID),
		BrandUUID:         formatUUID(o.Main.BrandUUID),
		NominalWeight:     o.Main.NominalNettoFullWeight,
		PrimaryColor:      colorToHex(o.Main.PrimaryColor),
		FilamentDiameter:  o.Main.FilamentDiameter,
		FilamentLength:    o.Main.NominalFullLength,
		MinNozzleDiameter: o.Main.MinNozzleDiameter,
		MinPrintTemp:      o.Main.MinPrintTemp,
		MaxPrintTemp:      o.Main.MaxPrintTemp,
		MinBedTemp:        o.Main.MinBedTemp,
		MaxBedTemp:        o.Main.MaxBedTemp,
		ManufacturedDate:  o.Main.ManufacturedDate,
	}

	if o.Main.NominalNettoFullWeight > 0 {
		resp.RemainingWeight = o.Main.NominalNettoFullWeight - o.Aux.ConsumedWeight
		if resp.RemainingWeight < 0 {
			resp.RemainingWeight = 0
		}
	}
	return resp
}

func materialClassToString(mc MaterialClass) string {
	switch mc {
	case MaterialClassFFF:
		return "FFF"
	case MaterialClassSLA:
		return "SLA"
	default:
		return fmt.Sprintf("unknown(%d)", mc)
	}
}

func formatUUID(b []byte) string {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return ""
	}
	return u.String()
}

func colorToHex(c []byte) string {
	switch len(c) {
	case 3:
		return fmt.Sprintf("#%02X%02X%02X", c[0], c[1], c[2])
	case 4:
		return fmt.Sprintf("#%02X%02X%02X%02X", c[0], c[1], c[2], c[3])
	}
	return ""
}
