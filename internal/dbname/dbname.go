// Package dbname generates and validates the names of disposable test databases.
package dbname

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// DefaultPrefix namespaces every generated database so stale ones can be found and pruned.
	DefaultPrefix = "sss-v3-"

	// MaxLength is the longest identifier SQL Server accepts (sysname).
	MaxLength = 128
)

// Generate returns prefix followed by a random 128-bit identifier rendered as 32 hex characters.
func Generate(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Validate reports whether name can be used as a database name.
func Validate(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("database name must not be empty")
	}
	if n := utf8.RuneCountInString(name); n > MaxLength {
		return fmt.Errorf("database name must be at most %d characters: got %d", MaxLength, n)
	}
	if strings.ContainsRune(name, 0) {
		return errors.New("database name must not contain NUL")
	}
	return nil
}
