// Package lang owns the closed set of language codes the platform renders
// into, their canonical spelling, and a lightweight source-language detector.
//
// Canonical codes are upper-case: a base ("EN", "PT") optionally followed by a
// region or script ("EN-GB", "ZH-HANT", "ES-419").
package lang

import (
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// Auto marks a message whose source language could not be detected.
const Auto = "AUTO"

// Default is used when nothing better is known.
const Default = "EN"

var bases = []string{
	"EN", "ES", "FR", "DE", "IT", "PT", "RU", "JA", "KO", "ZH", "AR", "NL", "PL",
	"TR", "SV", "DA", "NB", "FI", "CS", "HU", "EL", "BG", "RO", "SK", "SL", "ET",
	"LV", "LT", "UK", "HE", "TH", "VI", "ID",
}

// variantBase maps every supported regional or script variant to its base.
var variantBase = map[string]string{
	"EN-US":   "EN",
	"EN-GB":   "EN",
	"PT-BR":   "PT",
	"PT-PT":   "PT",
	"ZH-HANS": "ZH",
	"ZH-HANT": "ZH",
	"ES-419":  "ES",
}

// Legacy or colloquial base codes that map onto a supported base.
var aliases = map[string]string{
	"IW": "HE",
	"IN": "ID",
	"NO": "NB",
	"JP": "JA",
	"CN": "ZH",
}

var baseSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(bases))
	for _, b := range bases {
		m[b] = struct{}{}
	}
	return m
}()

// Supported returns every canonical code, bases first, sorted.
func Supported() []string {
	out := append([]string(nil), bases...)
	sort.Strings(out)
	vs := make([]string, 0, len(variantBase))
	for v := range variantBase {
		vs = append(vs, v)
	}
	sort.Strings(vs)
	return append(out, vs...)
}

// Normalize returns the canonical spelling of code, or "" when the code is
// not in the supported set. Input is case-insensitive and accepts "_" as a
// separator as well as full BCP-47 tags ("zh-Hant-TW", "pt_BR").
func Normalize(code string) string {
	c := strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(code, "_", "-")))
	if c == "" {
		return ""
	}
	if c == Auto {
		return Auto
	}
	if a, ok := aliases[c]; ok {
		return a
	}
	if _, ok := baseSet[c]; ok {
		return c
	}
	if _, ok := variantBase[c]; ok {
		return c
	}

	tag, err := language.Parse(c)
	if err != nil {
		return ""
	}
	b, _ := tag.Base()
	base := strings.ToUpper(b.String())
	if a, ok := aliases[base]; ok {
		base = a
	}
	if _, ok := baseSet[base]; !ok {
		return ""
	}
	if s, conf := tag.Script(); conf == language.Exact {
		if v := base + "-" + strings.ToUpper(s.String()); isVariant(v) {
			return v
		}
	}
	if r, conf := tag.Region(); conf == language.Exact {
		if v := base + "-" + strings.ToUpper(r.String()); isVariant(v) {
			return v
		}
	}
	return base
}

// Base strips any region or script from a canonical code.
func Base(code string) string {
	c := Normalize(code)
	if b, ok := variantBase[c]; ok {
		return b
	}
	return c
}

// IsSupported reports whether code normalizes into the closed set. AUTO is
// not a renderable language.
func IsSupported(code string) bool {
	c := Normalize(code)
	return c != "" && c != Auto
}

// Collapse returns the rendering code to request from a provider: the
// canonical code itself when the provider offers it, else its base.
func Collapse(code string, offers func(string) bool) string {
	c := Normalize(code)
	if !isVariant(c) {
		return c
	}
	if offers != nil && offers(c) {
		return c
	}
	return variantBase[c]
}

func isVariant(c string) bool {
	_, ok := variantBase[c]
	return ok
}
