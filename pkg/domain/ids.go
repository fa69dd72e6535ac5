// Package domain holds the identifier types shared by the label model, the
// provenance log and the deletion cascade.
package domain

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	dErrors "shadowrt/pkg/domain-errors"
)

// maxIDLength bounds identifiers accepted at trust boundaries.
const maxIDLength = 256

// UserID identifies the data subject a value originated from.
type UserID string

// TagID identifies one labeling event. Domain records may use descriptive
// tags such as "purchase:42"; labels minted by a source use UUIDs.
type TagID string

// AllTags is the wildcard tag used by events that cover every tag of a user.
const AllTags TagID = "*"

// ParseUserID validates a user identifier arriving from outside the process.
func ParseUserID(s string) (UserID, error) {
	if err := validateID("user id", s); err != nil {
		return "", err
	}
	return UserID(s), nil
}

// ParseTagID validates a tag identifier arriving from outside the process.
func ParseTagID(s string) (TagID, error) {
	if err := validateID("tag id", s); err != nil {
		return "", err
	}
	return TagID(s), nil
}

// NewTagID returns a fresh random tag. Two calls never return the same value.
func NewTagID() TagID {
	return TagID(uuid.NewString())
}

func (u UserID) String() string { return string(u) }

func (u UserID) IsZero() bool { return u == "" }

func (t TagID) String() string { return string(t) }

func (t TagID) IsZero() bool { return t == "" }

// IsWildcard reports whether the tag stands for all of a user's tags.
func (t TagID) IsWildcard() bool { return t == AllTags }

func validateID(kind, s string) error {
	if strings.TrimSpace(s) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if s != strings.TrimSpace(s) {
		return dErrors.New(dErrors.CodeInvalidInput, kind+" has surrounding whitespace")
	}
	if len(s) > maxIDLength {
		return dErrors.New(dErrors.CodeInvalidInput, kind+" is too long")
	}
	for _, r := range s {
		if unicode.IsControl(r) || unicode.In(r, unicode.Cf) {
			return dErrors.New(dErrors.CodeInvalidInput, kind+" contains invalid characters")
		}
	}
	return nil
}
