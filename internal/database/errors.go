package database

import (
	"errors"

	"github.com/lib/pq"
)

var (
	ErrUniqueViolation     = errors.New("unique constraint violation")
	ErrForeignKeyViolation = errors.New("foreign key violation")

	errReadOnly = errors.New("write in read-only transaction")
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// IsUniqueViolation reports whether err was caused by a duplicate key.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return errors.Is(err, ErrUniqueViolation)
}

// IsForeignKeyViolation reports whether err was caused by a reference to
// a row that does not exist.
func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqForeignKeyViolation
	}
	return errors.Is(err, ErrForeignKeyViolation)
}
