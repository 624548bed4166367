package twse

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseROCDate converts a Republic-of-China calendar date string such as
// "113/01/02" into an ISO date ("2024-01-02"). The gregorian year is the ROC
// year plus 1911.
func ParseROCDate(s string) (string, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return "", fmt.Errorf("invalid ROC date %q", s)
	}

	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", fmt.Errorf("invalid ROC year in %q: %w", s, err)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid month in %q: %w", s, err)
	}
	day, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", fmt.Errorf("invalid day in %q: %w", s, err)
	}

	if month < 1 || month > 12 || day < 1 || day > 31 {
		return "", fmt.Errorf("out-of-range ROC date %q", s)
	}

	return fmt.Sprintf("%04d-%02d-%02d", year+1911, month, day), nil
}

// ParseNumber parses the exchange's display numbers: comma separators are
// stripped, and "-", "N/A" or an empty string mean no value (nil).
func ParseNumber(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" || s == "N/A" || s == "--" {
		return nil
	}

	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// ParseInt is ParseNumber truncated to an integer count (shares, dollars).
func ParseInt(s string) int64 {
	v := ParseNumber(s)
	if v == nil {
		return 0
	}
	return int64(*v)
}

// NumberOrZero collapses a missing value to 0 for fields that are counts.
func NumberOrZero(s string) float64 {
	v := ParseNumber(s)
	if v == nil {
		return 0
	}
	return *v
}
