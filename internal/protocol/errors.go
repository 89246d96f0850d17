package protocol

import "errors"

// Sentinel errors for the precondition/codec error taxonomy. Handlers
// wrap these with fmt.Errorf("...: %w", ...) when more detail is useful;
// callers compare with errors.Is.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrWindowNotFound  = errors.New("window not found")
	ErrPaneNotFound    = errors.New("pane not found")
	ErrDuplicateName   = errors.New("duplicate name")
	ErrInvalidRatio    = errors.New("invalid ratio")
	ErrMessageTooLarge = errors.New("message too large")
	ErrMalformed       = errors.New("codec: malformed frame")
	ErrPaneClosed      = errors.New("pane closed")
)

// ErrCode is the stable string sent to clients in an Error message, since
// sentinel errors themselves aren't part of the wire format.
type ErrCode string

const (
	CodeSessionNotFound     ErrCode = "SessionNotFound"
	CodeWindowNotFound      ErrCode = "WindowNotFound"
	CodePaneNotFound        ErrCode = "PaneNotFound"
	CodeDuplicateName       ErrCode = "DuplicateName"
	CodeInvalidRatio        ErrCode = "InvalidRatio"
	CodeMessageTooLarge     ErrCode = "MessageTooLarge"
	CodeMalformed           ErrCode = "CodecError.Malformed"
	CodePaneClosed          ErrCode = "PaneClosed"
	CodeUserPriorityActive  ErrCode = "UserPriorityActive"
	CodePersistenceUnavail  ErrCode = "PersistenceUnavailable"
	CodeInternal            ErrCode = "Internal"
)

// ErrorDetail is the payload of a server→client Error message.
type ErrorDetail struct {
	Code    ErrCode `cbor:"1,keyasint"`
	Message string  `cbor:"2,keyasint"`
	// RemainingBlockSecs is set only for CodeUserPriorityActive, giving the
	// caller a concrete retry-after duration instead of a bare rejection.
	RemainingBlockSecs int `cbor:"3,keyasint,omitempty"`
}

func (e *ErrorDetail) Error() string { return string(e.Code) + ": " + e.Message }

// CodeFor maps a sentinel error to its wire code, falling back to Internal.
func CodeFor(err error) ErrCode {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, ErrWindowNotFound):
		return CodeWindowNotFound
	case errors.Is(err, ErrPaneNotFound):
		return CodePaneNotFound
	case errors.Is(err, ErrDuplicateName):
		return CodeDuplicateName
	case errors.Is(err, ErrInvalidRatio):
		return CodeInvalidRatio
	case errors.Is(err, ErrMessageTooLarge):
		return CodeMessageTooLarge
	case errors.Is(err, ErrMalformed):
		return CodeMalformed
	case errors.Is(err, ErrPaneClosed):
		return CodePaneClosed
	default:
		return CodeInternal
	}
}
