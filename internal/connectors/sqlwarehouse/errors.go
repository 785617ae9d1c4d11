package sqlwarehouse

import (
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// translate maps a driver error onto the failure taxonomy using the
// SQLite primary result code.
func translate(source, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *domain.SourceError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, ErrInvalidCursor) {
		return domain.NewSourceError(domain.ErrParse, source, op, err)
	}

	var le *sqlite.Error
	if errors.As(err, &le) {
		switch le.Code() & 0xff {
		case sqlite3.SQLITE_AUTH, sqlite3.SQLITE_PERM:
			return domain.NewSourceError(domain.ErrAuth, source, op, err)
		case sqlite3.SQLITE_ERROR, sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_RANGE,
			sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_FORMAT:
			return domain.NewSourceError(domain.ErrParse, source, op, err)
		default:
			return domain.NewSourceError(domain.ErrConnection, source, op, err)
		}
	}
	return domain.Translate(source, op, err)
}
