package mongostore

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/roach88/recordsdb/internal/dberr"
)

// Server error codes of interest.
const (
	codeBadValue          = 2
	codeFailedToParse     = 9
	codeTypeMismatch      = 14
	codeConflictingUpdate = 40
	codeMaxTimeMSExpired  = 50
	codeDuplicateKey      = 11000
	codeDuplicateKeyOld   = 11001
	codeDuplicateKeyMongo = 12582
)

func isDuplicateCode(code int) bool {
	switch code {
	case codeDuplicateKey, codeDuplicateKeyOld, codeDuplicateKeyMongo:
		return true
	}
	return false
}

// IsDuplicateKeyError reports whether err is a duplicate-key write conflict:
// a single write error, any item of a bulk write, or either of those wrapped
// exactly one level deep. Deeper wrapping is not inspected.
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if isDuplicate(err) {
		return true
	}
	cause := errors.Unwrap(err)
	return cause != nil && isDuplicate(cause)
}

func isDuplicate(err error) bool {
	switch e := err.(type) {
	case mongo.WriteException:
		return writeErrorsDuplicate(e.WriteErrors)
	case *mongo.WriteException:
		return writeErrorsDuplicate(e.WriteErrors)
	case mongo.BulkWriteException:
		return bulkErrorsDuplicate(e.WriteErrors)
	case *mongo.BulkWriteException:
		return bulkErrorsDuplicate(e.WriteErrors)
	case mongo.CommandError:
		return isDuplicateCode(int(e.Code))
	case *mongo.CommandError:
		return isDuplicateCode(int(e.Code))
	}
	return false
}

func writeErrorsDuplicate(errs mongo.WriteErrors) bool {
	for _, we := range errs {
		if isDuplicateCode(we.Code) {
			return true
		}
	}
	return false
}

func bulkErrorsDuplicate(errs []mongo.BulkWriteError) bool {
	for _, be := range errs {
		if isDuplicateCode(be.Code) {
			return true
		}
	}
	return false
}

// serverCode returns the first server error code carried by err.
func serverCode(err error) (int, bool) {
	var we mongo.WriteException
	if errors.As(err, &we) && len(we.WriteErrors) > 0 {
		return we.WriteErrors[0].Code, true
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && len(bwe.WriteErrors) > 0 {
		return bwe.WriteErrors[0].Code, true
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return int(ce.Code), true
	}
	return 0, false
}

// Translate maps a driver error onto the error taxonomy. It is applied
// once, where the driver call returns.
func Translate(err error) error {
	if err == nil || dberr.CodeOf(err) != "" {
		return err
	}
	if IsDuplicateKeyError(err) {
		return dberr.DuplicateKey(err)
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, mongo.ErrClientDisconnected) {
		return dberr.Unavailable(err, "primary store unreachable")
	}
	if code, ok := serverCode(err); ok {
		switch code {
		case codeTypeMismatch:
			return dberr.Wrap(dberr.CodeTypeMismatch, err, "update applied to an incompatible value")
		case codeBadValue, codeFailedToParse, codeConflictingUpdate:
			return dberr.Wrap(dberr.CodeInvalidQuery, err, "rejected by primary store")
		case codeMaxTimeMSExpired:
			return dberr.Unavailable(err, "operation exceeded time limit")
		}
	}
	return dberr.Protocol(err, "primary store error")
}
