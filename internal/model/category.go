package model

import (
	"fmt"
	"strings"
)

// DataCategory is the closed set of data categories a counterparty can request.
// The zero value means the event carries no category.
type DataCategory int

const (
	CategoryNone DataCategory = iota
	CategoryIdentity
	CategoryFinancial
	CategoryPayment
	CategoryBiometric
	CategoryLocation
	CategoryBrowsing
	CategorySocial
	CategoryCustom
)

var dataCategoryNames = [...]string{
	CategoryNone:      "",
	CategoryIdentity:  "identity",
	CategoryFinancial: "financial",
	CategoryPayment:   "payment",
	CategoryBiometric: "biometric",
	CategoryLocation:  "location",
	CategoryBrowsing:  "browsing",
	CategorySocial:    "social",
	CategoryCustom:    "custom",
}

func (c DataCategory) String() string {
	if !c.Valid() {
		return fmt.Sprintf("DataCategory(%d)", int(c))
	}
	return dataCategoryNames[c]
}

// Title returns the label with a leading capital, for display names.
func (c DataCategory) Title() string {
	s := c.String()
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (c DataCategory) Valid() bool {
	return c >= 0 && int(c) < len(dataCategoryNames)
}

// Sensitive reports whether the category prefers proof-based verification
// over a paid grant.
func (c DataCategory) Sensitive() bool {
	switch c {
	case CategoryIdentity, CategoryFinancial, CategoryBiometric:
		return true
	}
	return false
}

// ParseDataCategory resolves a category label, case-insensitively.
// The empty string resolves to CategoryNone.
func ParseDataCategory(s string) (DataCategory, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range dataCategoryNames {
		if name == s {
			return DataCategory(i), nil
		}
	}
	return CategoryNone, fmt.Errorf("%w: unknown data category %q", ErrInvalidInput, s)
}

func (c DataCategory) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: data category %d", ErrInvalidInput, int(c))
	}
	return []byte(c.String()), nil
}

func (c *DataCategory) UnmarshalText(b []byte) error {
	v, err := ParseDataCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// PolicyCategories is the fixed list the policy optimizer walks.
var PolicyCategories = []DataCategory{
	CategoryIdentity,
	CategoryPayment,
	CategoryBrowsing,
	CategoryBiometric,
	CategoryLocation,
	CategorySocial,
}

// PatternCategory is the closed set of pattern classifications.
type PatternCategory int

const (
	// PatternNone is the zero value and never a valid pattern category.
	PatternNone PatternCategory = iota
	PatternSecurity
	PatternPrivacy
	PatternDataAccess
	PatternUserBehavior
	PatternTemporal
)

var patternCategoryNames = [...]string{
	PatternNone:         "",
	PatternSecurity:     "security",
	PatternPrivacy:      "privacy",
	PatternDataAccess:   "data-access",
	PatternUserBehavior: "user-behavior",
	PatternTemporal:     "temporal",
}

func (c PatternCategory) String() string {
	if c < 0 || int(c) >= len(patternCategoryNames) {
		return fmt.Sprintf("PatternCategory(%d)", int(c))
	}
	return patternCategoryNames[c]
}

// Valid reports whether c is one of the named pattern categories.
func (c PatternCategory) Valid() bool {
	return c > PatternNone && int(c) < len(patternCategoryNames)
}

func ParsePatternCategory(s string) (PatternCategory, error) {
	for i, name := range patternCategoryNames {
		if i > 0 && name == s {
			return PatternCategory(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown pattern category %q", ErrInvalidInput, s)
}

func (c PatternCategory) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: pattern category %d", ErrInvalidInput, int(c))
	}
	return []byte(c.String()), nil
}

func (c *PatternCategory) UnmarshalText(b []byte) error {
	v, err := ParsePatternCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
