package persistence

import (
	"errors"
	"strings"

	"github.com/erp/syncengine/internal/domain/shared"
	"gorm.io/gorm"
)

// translateError maps driver errors onto domain errors
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return shared.ErrNotFound
	case isUniqueViolation(err):
		return shared.ErrAlreadyExists
	}
	return err
}

// isUniqueViolation detects unique constraint failures. Drivers opened without
// TranslateError still report them through their message.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
