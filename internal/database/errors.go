package database

import (
	"errors"

	"github.com/lib/pq"
)

// Storage violations are mapped to these sentinels before they leave this
// package; callers never see raw driver errors for constraint failures.
var (
	ErrDuplicateKey            = errors.New("duplicate key")
	ErrAlreadyRequested        = errors.New("join already requested")
	ErrAlreadyMember           = errors.New("user is already a participant")
	ErrGroupFull               = errors.New("group is at maximum capacity")
	ErrGroupExpired            = errors.New("group has expired")
	ErrNotAParticipant         = errors.New("user is not a participant of the group")
	ErrNoJoinRequest           = errors.New("no pending join request")
	ErrNoAttachments           = errors.New("attachment message requires at least one attachment")
	ErrEmptyContent            = errors.New("text message requires content")
	ErrUnrecognizedEnumVariant = errors.New("unrecognized enum variant")
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// mapPqError converts driver-level constraint violations into the package
// error taxonomy. Unique violations on any of our keys (user_code,
// group_code, (user_id, group_id) pairs) become ErrDuplicateKey.
func mapPqError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return ErrDuplicateKey
	}

	return err
}
