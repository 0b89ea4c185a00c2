package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseMeasure parses a numeric cell as shown by the site ("1,234.50",
// "12.30"). Empty cells and a lone dash mean "not recorded" and yield nil.
func ParseMeasure(raw string) (*float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "-" {
		return nil, nil //nolint:nilnil // absent value
	}
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing measure %q: %w", raw, err)
	}
	return &v, nil
}

// ParsePoints parses an integer points cell. Empty cells yield nil.
func ParsePoints(raw string) (*int, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "-" {
		return nil, nil //nolint:nilnil // absent value
	}
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("parsing points %q: %w", raw, err)
	}
	return &v, nil
}
