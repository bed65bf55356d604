package shared

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnauthenticated indicates that no actor identity is present.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates an identity without the required permission.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict indicates a duplicate record or grant.
	ErrConflict = errors.New("conflict")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input such as a non-numeric id.
	ErrValidation = errors.New("validation failed")
)

// ParseID parses a positive numeric identifier.
func ParseID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", ErrValidation, raw)
	}
	return id, nil
}
