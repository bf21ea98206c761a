package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidOwner = errors.New("invalid owner id")

// ParseOwner trims and validates an owner id. In strict mode the id must be a
// UUID and is returned in canonical lower-case form so lookups agree.
func ParseOwner(raw string, strict bool) (string, error) {
	owner := strings.TrimSpace(raw)
	if owner == "" {
		return "", ErrInvalidOwner
	}
	if !strict {
		return owner, nil
	}

	id, err := uuid.Parse(owner)
	if err != nil {
		return "", ErrInvalidOwner
	}
	return id.String(), nil
}

func IsOwnerID(raw string) bool {
	_, err := ParseOwner(raw, true)
	return err == nil
}

// CanonicalOwner returns the canonical form of raw when it is a UUID and the
// trimmed input otherwise.
func CanonicalOwner(raw string) string {
	if owner, err := ParseOwner(raw, true); err == nil {
		return owner
	}
	return strings.TrimSpace(raw)
}
