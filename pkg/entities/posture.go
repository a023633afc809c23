package entities

import "strings"

// PostureCategory is the closed set of postures a hex code can classify into.
type PostureCategory int

const (
	Unknown PostureCategory = iota
	Standing
	Sitting
	Walking
	Falling
	UnusedFootwear
)

var postureTable = map[string]PostureCategory{
	"0xab3311": Standing,
	"0xac4312": Sitting,
	"0xba3311": Walking,
	"0xef0112": Falling,
	"0x793248": UnusedFootwear,
}

var postureNames = map[PostureCategory]string{
	Unknown:        "Unknown",
	Standing:       "Standing",
	Sitting:        "Sitting",
	Walking:        "Walking",
	Falling:        "Falling",
	UnusedFootwear: "UnusedFootwear",
}

var postureDescriptions = map[PostureCategory]string{
	Unknown:        "Posture could not be determined",
	Standing:       "The person is standing",
	Sitting:        "The person is sitting",
	Walking:        "The person is walking",
	Falling:        "A fall was detected",
	UnusedFootwear: "The footwear is not being worn",
}

// Classify maps a hex code to its posture. Matching ignores letter case and
// anything outside the table is Unknown.
func Classify(hexCode string) PostureCategory {
	if hexCode == "" {
		return Unknown
	}
	if category, ok := postureTable[strings.ToLower(hexCode)]; ok {
		return category
	}
	return Unknown
}

func (p PostureCategory) String() string {
	if name, ok := postureNames[p]; ok {
		return name
	}
	return postureNames[Unknown]
}

func (p PostureCategory) Description() string {
	if description, ok := postureDescriptions[p]; ok {
		return description
	}
	return postureDescriptions[Unknown]
}

// HexCode returns the canonical wire code of a known posture, or "" for Unknown.
func (p PostureCategory) HexCode() string {
	for code, category := range postureTable {
		if category == p {
			return code[:2] + strings.ToUpper(code[2:])
		}
	}
	return ""
}

func (p PostureCategory) IsFall() bool {
	return p == Falling
}
