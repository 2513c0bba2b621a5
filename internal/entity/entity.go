// Package entity defines the durable records of the pipeline (Feed, Entry,
// AIEnrichment, and Post) and the Store that persists them. Identity is
// content-derived: every record's row key is a hash of the content that names
// it, so re-ingesting the same material overwrites rather than duplicates.
// Large fields (entry bodies, embedding vectors) never live in the structured
// record; they are hashed, pushed to the blob store, and referenced by key.
package entity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/go-playground/validator/v10"
)

// Hash returns the 16-hex-char xxHash64 digest used for all content-derived
// keys. Identical input always yields an identical key.
func Hash(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}

// HashBytes is Hash for raw bytes.
func HashBytes(b []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

// PartitionToken derives a grouping key from a display name: lowercased,
// words joined by underscores ("My Tech Feed" -> "my_tech_feed"). It is a
// display-only grouping key, not a uniqueness guarantee.
func PartitionToken(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingSep = true
		}
	}
	return b.String()
}

// ValidationError reports a schema violation on a single field. These are
// programmer or data errors and are never retried.
type ValidationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid %s: %s", e.Entity, e.Field, e.Reason)
}

var keyTokenRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// partition keys must form valid blob paths
	v.RegisterValidation("keytoken", func(fl validator.FieldLevel) bool {
		return keyTokenRe.MatchString(fl.Field().String())
	})
	return v
}

// checkStruct validates v and converts the first field error into a
// ValidationError naming the offending field.
func checkStruct(entityName string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{
			Entity: entityName,
			Field:  fe.Field(),
			Reason: fmt.Sprintf("failed %q constraint", fe.Tag()),
		}
	}
	return &ValidationError{Entity: entityName, Field: "?", Reason: err.Error()}
}
