package batch

import (
	"context"
	"errors"

	"github.com/idelchi/chaoscrypt/internal/chaos"
	"github.com/idelchi/chaoscrypt/internal/encryption"
	"github.com/idelchi/chaoscrypt/internal/filter"
	"github.com/idelchi/chaoscrypt/internal/keys"
)

var (
	// ErrFileAccess wraps failures to read or write a file.
	ErrFileAccess = errors.New("file access")
	// ErrMalformedRecord is returned for records that cannot be parsed or do not describe a valid plaintext.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrInsufficientSpace is returned before any work when the destination lacks free space.
	ErrInsufficientSpace = errors.New("insufficient free space")
)

// Kind classifies why a file failed or was skipped.
type Kind string

// Error kinds recorded in results and summaries.
const (
	KindSeedValidation     Kind = "SeedValidationError"
	KindNumericInstability Kind = "NumericInstabilityError"
	KindAuthentication     Kind = "AuthenticationError"
	KindFileAccess         Kind = "FileAccessError"
	KindDiscovery          Kind = "DiscoveryError"
	KindFormat             Kind = "FormatError"
	KindCanceled           Kind = "Canceled"
)

// KindOf maps an error to its kind. Errors without a more specific cause are file access errors.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, chaos.ErrSeedValidation):
		return KindSeedValidation
	case errors.Is(err, chaos.ErrNumericInstability):
		return KindNumericInstability
	case errors.Is(err, encryption.ErrAuthentication),
		errors.Is(err, keys.ErrUnseal),
		errors.Is(err, keys.ErrPassphraseRequired):
		return KindAuthentication
	case errors.Is(err, filter.ErrUnsupported), errors.Is(err, filter.ErrUnreadable):
		return KindDiscovery
	case errors.Is(err, ErrMalformedRecord),
		errors.Is(err, keys.ErrMalformed),
		errors.Is(err, encryption.ErrHeader),
		errors.Is(err, encryption.ErrNonceSize),
		errors.Is(err, chaos.ErrParams):
		return KindFormat
	default:
		return KindFileAccess
	}
}
