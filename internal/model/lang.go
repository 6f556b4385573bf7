package model

import "strings"

// Lang identifies one of the two official languages a transcript is published in.
type Lang string

const (
	EN Lang = "EN"
	FR Lang = "FR"
)

// Langs lists the supported languages in publication order.
var Langs = []Lang{EN, FR}

// ParseLang accepts the language codes used by the House XML ("EN", "E", "en", "FR", "F", ...).
func ParseLang(s string) (Lang, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EN", "E", "ENG", "ENGLISH":
		return EN, true
	case "FR", "F", "FRA", "FRE", "FRENCH":
		return FR, true
	default:
		return "", false
	}
}

// Other returns the other official language.
func (l Lang) Other() Lang {
	if l == FR {
		return EN
	}
	return FR
}

// Multilingual holds one string per language.
type Multilingual map[Lang]string

// Get returns the value for lang, falling back to any non-empty value.
func (m Multilingual) Get(lang Lang) string {
	if v := m[lang]; v != "" {
		return v
	}
	for _, l := range Langs {
		if v := m[l]; v != "" {
			return v
		}
	}
	return ""
}

// Blank reports whether every language value is empty after trimming.
func (m Multilingual) Blank() bool {
	for _, v := range m {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
