package dberr

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Kind buckets storage errors by what the caller should do with them.
type Kind int

const (
	KindNone Kind = iota
	// KindIgnorable: the write already happened (duplicate schema object or
	// idempotent re-write); log and treat as success.
	KindIgnorable
	// KindRetryable: transient infrastructure failure; retry with backoff.
	KindRetryable
	// KindFatal: constraint violation, programmer error, missing row; surface
	// immediately.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindIgnorable:
		return "ignorable"
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps a storage error to a policy kind. The mapping switches on
// typed errors (SQLSTATE, net.Error, context), never on message substrings.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return KindFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindRetryable
	}
	if errors.Is(err, context.Canceled) {
		return KindFatal
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return KindRetryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindRetryable
		}
		return KindRetryable
	}

	return KindFatal
}

func classifySQLState(code string) Kind {
	switch code {
	// Duplicate schema objects: table, object, database already exist.
	case "42P07", "42710", "42P04":
		return KindIgnorable
	// Pool exhaustion, admin/crash shutdown, cannot-connect-now, query canceled.
	case "53300", "57P01", "57P02", "57P03", "57014":
		return KindRetryable
	// Serialization failure and deadlock resolve on retry.
	case "40001", "40P01":
		return KindRetryable
	}
	// Class 08: connection exceptions.
	if strings.HasPrefix(code, "08") {
		return KindRetryable
	}
	return KindFatal
}

// IsDuplicateKey reports a unique-constraint violation. Idempotent re-writes
// (same section index on resume) treat this as success.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
