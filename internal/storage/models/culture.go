package models

// Culture is one of the four organizational-culture archetypes an answer
// maps to.
type Culture string

const (
	CultureA Culture = "A"
	CultureB Culture = "B"
	CultureC Culture = "C"
	CultureD Culture = "D"
)

// Cultures lists every code in display order.
var Cultures = []Culture{CultureA, CultureB, CultureC, CultureD}

func (c Culture) Valid() bool {
	switch c {
	case CultureA, CultureB, CultureC, CultureD:
		return true
	}
	return false
}

func (c Culture) Label() string {
	switch c {
	case CultureA:
		return "Control"
	case CultureB:
		return "Expertise"
	case CultureC:
		return "Collaboration"
	case CultureD:
		return "Cultivation"
	}
	return "Unknown"
}
