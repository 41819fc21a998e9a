package domain

import (
	"fmt"
	"strings"
)

// DateOrder decides how numeric dates such as 05/01/2024 are read.
type DateOrder string

const (
	DateOrderDMY DateOrder = "DMY"
	DateOrderMDY DateOrder = "MDY"
)

// ParseDateOrder accepts DMY or MDY in any case. The empty string means DMY.
func ParseDateOrder(value string) (DateOrder, error) {
	switch DateOrder(strings.ToUpper(strings.TrimSpace(value))) {
	case "", DateOrderDMY:
		return DateOrderDMY, nil
	case DateOrderMDY:
		return DateOrderMDY, nil
	}
	return "", fmt.Errorf("%w: unknown date order %q", ErrInvalidInput, value)
}
