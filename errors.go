package cardwallet

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies every failure the engine returns.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindCapability: wrong card type, firmware too old, missing preflight read.
	KindCapability
	// KindState: the card is not in the state the operation requires.
	KindState
	// KindValidation: the card contents violate the curve or backup policy.
	KindValidation
	// KindTransport: anything surfaced by command execution itself.
	KindTransport
)

func (kind ErrorKind) String() string {
	switch kind {
	case KindCapability:
		return "capability"
	case KindState:
		return "state"
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Sentinel errors - Capability
var (
	ErrWrongCardType        = errors.New("cardwallet: wrong card type")
	ErrFirmwareTooOld       = errors.New("cardwallet: firmware too old")
	ErrMissingPreflightRead = errors.New("cardwallet: missing preflight card read")
	ErrKeysImportNotAllowed = errors.New("cardwallet: keys import not allowed")
	ErrHDWalletNotAllowed   = errors.New("cardwallet: hd wallet not allowed")
	ErrBackupNotAllowed     = errors.New("cardwallet: backup not allowed")
)

// Sentinel errors - State
var (
	ErrWalletAlreadyCreated = errors.New("cardwallet: wallet already created")
	ErrWalletNotCreated     = errors.New("cardwallet: wallet not created")
	ErrWalletNotFound       = errors.New("cardwallet: wallet not found")
	ErrCardMismatch         = errors.New("cardwallet: unexpected card")
	ErrAccessCodeRequired   = errors.New("cardwallet: access code required")
	ErrBackupNotStarted     = errors.New("cardwallet: backup not started")
)

// Sentinel errors - Validation
var (
	ErrCurveMissing         = errors.New("cardwallet: curve missing")
	ErrCurveDuplicated      = errors.New("cardwallet: curve duplicated")
	ErrCurveSetMismatch     = errors.New("cardwallet: curve set mismatch")
	ErrBackupStatusMismatch = errors.New("cardwallet: backup status mismatch")
	ErrUnsupportedPurpose   = errors.New("cardwallet: unsupported derivation purpose")
	ErrInvalidAccessCode    = errors.New("cardwallet: invalid access code")
	ErrCounterfeitCard      = errors.New("cardwallet: counterfeit card")
)

// Sentinel errors - Transport
var (
	ErrUnexpectedResponse = errors.New("cardwallet: unexpected response")
)

var sentinelKinds = map[error]ErrorKind{
	ErrWrongCardType:        KindCapability,
	ErrFirmwareTooOld:       KindCapability,
	ErrMissingPreflightRead: KindCapability,
	ErrKeysImportNotAllowed: KindCapability,
	ErrHDWalletNotAllowed:   KindCapability,
	ErrBackupNotAllowed:     KindCapability,
	ErrWalletAlreadyCreated: KindState,
	ErrWalletNotCreated:     KindState,
	ErrWalletNotFound:       KindState,
	ErrCardMismatch:         KindState,
	ErrAccessCodeRequired:   KindState,
	ErrBackupNotStarted:     KindState,
	ErrCurveMissing:         KindValidation,
	ErrCurveDuplicated:      KindValidation,
	ErrCurveSetMismatch:     KindValidation,
	ErrBackupStatusMismatch: KindValidation,
	ErrUnsupportedPurpose:   KindValidation,
	ErrInvalidAccessCode:    KindValidation,
	ErrCounterfeitCard:      KindValidation,
	ErrUnexpectedResponse:   KindTransport,
}

// ProvisioningError is the typed error every flow returns.
type ProvisioningError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *ProvisioningError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// CardError is an error payload returned by the card itself.
type CardError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *CardError) Error() string {
	return fmt.Sprintf("card error %d: %s", e.Code, e.Message)
}

// wrapError classifies err and attaches the operation that failed. Returns nil
// if err is nil; an error that is already a ProvisioningError is kept as is.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var provisioningErr *ProvisioningError
	if errors.As(err, &provisioningErr) {
		return err
	}

	return &ProvisioningError{Kind: KindOf(err), Op: op, Err: err}
}

// KindOf reports the kind of err. Errors the engine does not recognise are
// treated as transport failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var provisioningErr *ProvisioningError
	if errors.As(err, &provisioningErr) {
		return provisioningErr.Kind
	}

	for sentinel, kind := range sentinelKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}

	return KindTransport
}
