package product

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// sizePattern accepts "75 cl", "75cl", "1,5 l" and "1.5 L". The space between
// amount and unit is optional.
var sizePattern = regexp.MustCompile(`^(\d+(?:[.,]\d+)?)\s*(cl|ml|l)$`)

// UnparsableSizeError is returned when a package size string cannot be
// converted to liters.
type UnparsableSizeError struct {
	Size string
}

func (e *UnparsableSizeError) Error() string {
	return fmt.Sprintf("unable to parse size %q: expected '<amount> <unit>' with unit cl, ml or l", e.Size)
}

// ParseSize converts a human readable package size into liters.
func ParseSize(size string) (float64, error) {
	normalized := strings.ToLower(strings.TrimSpace(size))
	match := sizePattern.FindStringSubmatch(normalized)
	if match == nil {
		return 0, &UnparsableSizeError{Size: size}
	}
	amount, err := strconv.ParseFloat(strings.Replace(match[1], ",", ".", 1), 64)
	if err != nil {
		return 0, &UnparsableSizeError{Size: size}
	}
	switch match[2] {
	case "cl":
		return amount / 100, nil
	case "ml":
		return amount / 1000, nil
	case "l":
		return amount, nil
	default:
		return 0, &UnparsableSizeError{Size: size}
	}
}
