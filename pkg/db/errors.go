package db

import (
	"strings"

	pkgerrors "github.com/angelmondragon/giftledger-backend/pkg/errors"
)

// IsUniqueViolation reports a unique-key conflict, optionally on one named
// constraint. SQLite has no SQLSTATE, so its driver message is matched.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if pg := pkgerrors.PG(err); pg != nil {
		return pg.Code == pkgerrors.PGUniqueViolation && (constraintName == "" || pg.Constraint == constraintName)
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") && !strings.Contains(msg, "duplicate key value") {
		return false
	}
	return constraintName == "" || strings.Contains(msg, constraintName)
}

// IsCheckViolation reports a CHECK constraint rejection, such as a
// non-negative accumulation guard.
func IsCheckViolation(err error) bool {
	if err == nil {
		return false
	}
	if pg := pkgerrors.PG(err); pg != nil {
		return pg.Code == pkgerrors.PGCheckViolation
	}
	return strings.Contains(err.Error(), "CHECK constraint failed")
}
