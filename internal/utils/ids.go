// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import (
	"errors"
	"strconv"
)

// ErrInvalidID is returned by ParseID for anything that is not a positive
// base-10 int64.
var ErrInvalidID = errors.New("invalid id")

// ParseID parses a path identifier. Leading "+", whitespace, zero and
// negative values are rejected.
//
// Example:
//
//	id, err := utils.ParseID("42") // 42, nil
//	_, err = utils.ParseID("0")    // ErrInvalidID
func ParseID(s string) (int64, error) {
	if s == "" || s[0] < '0' || s[0] > '9' {
		return 0, ErrInvalidID
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrInvalidID
	}
	return n, nil
}
