package mifare

import "fmt"

// Permission phrases indexed by the 3-bit access code (C1<<2 | C2<<1 | C3).
var (
	dataAccess = [8]string{
		"read AB; write AB; increment AB; decrement transfer restore AB",
		"read AB; decrement transfer restore AB",
		"read AB",
		"read B; write B",
		"read AB; writeB",
		"read B",
		"read AB; write B; increment B; decrement transfer restore AB",
		"none",
	}
	trailerAccess = [8]string{
		"read A by A; read ACCESS by A; read B by A; write B by A",
		"write A by A; read ACCESS by A write ACCESS by A; read B by A; write B by A",
		"read ACCESS by A; read B by A",
		"write A by B; read ACCESS by AB; write ACCESS by B; write B by B",
		"write A by B; read ACCESS by AB; write B by B",
		"read ACCESS by AB; write ACCESS by B",
		"read ACCESS by AB",
		"read ACCESS by AB",
	}
)

// DataAccessText returns the permission phrase for a data block access code.
func DataAccessText(code uint8) string {
	return dataAccess[code&0x7]
}

// TrailerAccessText returns the permission phrase for a trailer access code.
func TrailerAccessText(code uint8) string {
	return trailerAccess[code&0x7]
}

// AccessConditions is the decoded form of a trailer's 4-byte access field.
type AccessConditions struct {
	Sector   int
	Codes    [BlocksPerSector]uint8
	Text     [BlocksPerSector]string
	UserData byte
}

// DecodeAccess decodes the access field of a sector trailer. Every bit pattern
// decodes; the configuration is not checked for consistency.
//
// C2 and C3 come from the low and high nibble of field[0], C1 from the high
// nibble of field[1]. field[2] is not consulted and field[3] is user data.
func DecodeAccess(sector int, field [4]byte) AccessConditions {
	ac := AccessConditions{Sector: sector, UserData: field[3]}
	for i := 0; i < BlocksPerSector; i++ {
		c1 := (field[1] >> (4 + i)) & 0x1
		c2 := (field[0] >> i) & 0x1
		c3 := (field[0] >> (4 + i)) & 0x1
		code := c1<<2 | c2<<1 | c3
		ac.Codes[i] = code
		if i == BlocksPerSector-1 {
			ac.Text[i] = TrailerAccessText(code)
		} else {
			ac.Text[i] = DataAccessText(code)
		}
	}
	return ac
}

// Label returns the block label used in reports ("block<N>") for position i of the sector.
func (a AccessConditions) Label(i int) string {
	return fmt.Sprintf("block%d", a.Sector*BlocksPerSector+i)
}

// UserDataHex returns the user data byte as two uppercase hex digits.
func (a AccessConditions) UserDataHex() string {
	return fmt.Sprintf("%02X", a.UserData)
}

// Access decodes the access conditions of the given sector.
func (d *Dump) Access(sector int) AccessConditions {
	return DecodeAccess(sector, d.Trailer(sector).Access)
}
