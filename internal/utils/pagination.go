// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
//
// Example:
//
//	n := utils.AtoiDefault("42", 0) // returns 42
//	n = utils.AtoiDefault("", 10)   // returns 10
//	n = utils.AtoiDefault("x", 5)   // returns 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Atoi64Default is AtoiDefault for int64 values such as message ids.
func Atoi64Default(s string, def int64) int64 {
	if s == "" {
		return def
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return def
}

// Page is a validated page request.
type Page struct {
	Number int // 1-based
	Size   int
}

// Offset is the number of rows before the page.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// TotalPages returns how many pages of p.Size hold total rows.
func (p Page) TotalPages(total int64) int {
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}

// ParsePage reads page and page_size values, applying defSize when size is
// absent or invalid and capping it at maxSize.
func ParsePage(page, size string, defSize, maxSize int) Page {
	return NewPage(AtoiDefault(page, 1), AtoiDefault(size, defSize), defSize, maxSize)
}

// NewPage clamps number to >= 1 and size to [1, maxSize], with sizes below 1
// replaced by defSize.
func NewPage(number, size, defSize, maxSize int) Page {
	p := Page{Number: number, Size: size}
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = defSize
	}
	if p.Size > maxSize {
		p.Size = maxSize
	}
	return p
}
