package iedserver

import "strings"

// FC is an IEC 61850 functional constraint.
type FC int

const (
	ST   FC = 0  // Status information
	MX   FC = 1  // Measurands - analogue values
	SP   FC = 2  // Setpoint
	SV   FC = 3  // Substitution
	CF   FC = 4  // Configuration
	DC   FC = 5  // Description
	SG   FC = 6  // Setting group
	SE   FC = 7  // Setting group editable
	SR   FC = 8  // Service response / Service tracking
	OR   FC = 9  // Operate received
	BL   FC = 10 // Blocking
	EX   FC = 11 // Extended definition
	CO   FC = 12 // Control
	US   FC = 13 // Unicast SV
	MS   FC = 14 // Multicast SV
	RP   FC = 15 // Unbuffered report
	BR   FC = 16 // Buffered report
	LG   FC = 17 // Log control blocks
	GO   FC = 18 // Goose control blocks
	ALL  FC = 99 // All FCs - wildcard value
	NONE FC = -1
)

var fcNames = map[FC]string{
	ST: "ST", MX: "MX", SP: "SP", SV: "SV", CF: "CF", DC: "DC", SG: "SG", SE: "SE",
	SR: "SR", OR: "OR", BL: "BL", EX: "EX", CO: "CO", US: "US", MS: "MS", RP: "RP",
	BR: "BR", LG: "LG", GO: "GO", ALL: "ALL", NONE: "NONE",
}

// FunctionalConstraints lists every concrete FC (no wildcard, no NONE).
var FunctionalConstraints = []FC{ST, MX, SP, SV, CF, DC, SG, SE, SR, OR, BL, EX, CO, US, MS, RP, BR, LG, GO}

// String implements fmt.Stringer for FC. It returns the short IEC 61850
// abbreviation like "ST", "MX", etc.
func (f FC) String() string {
	if s, ok := fcNames[f]; ok {
		return s
	}
	return "NONE"
}

// FunctionalConstraintFromString parses the two-letter FC abbreviation.
// Unknown input yields NONE.
func FunctionalConstraintFromString(s string) FC {
	s = strings.ToUpper(strings.TrimSpace(s))
	for fc, name := range fcNames {
		if name == s {
			return fc
		}
	}
	return NONE
}
