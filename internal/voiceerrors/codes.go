package voiceerrors

// Relay error codes referenced directly by the call core.
const (
	CodeUnknown               = 31000
	CodeConnectionTimeout     = 31003
	CodeConnectionError       = 31005
	CodeCallCancelled         = 31008
	CodeTransportError        = 31009
	CodeSignalingDisconnected = 31010

	CodeBadRequest             = 31400
	CodeNotFound               = 31404
	CodeRequestTimeout         = 31408
	CodeTemporarilyUnavailable = 31480
	CodeTransactionNotFound    = 31481
	CodeBusyHere               = 31486
	CodeRequestTerminated      = 31487

	CodeInternalServerError = 31500
	CodeBadGateway          = 31502
	CodeServiceUnavailable  = 31503
	CodeGatewayTimeout      = 31504

	CodeBusyEverywhere       = 31600
	CodeDecline              = 31603
	CodeDoesNotExistAnywhere = 31604

	CodeMediaConnectionFailed = 53405
)

// descriptor is one entry of the error-code table. Precise entries exist
// only when improved error precision is enabled; older relay deployments
// report the generic class code instead.
type descriptor struct {
	description string
	media       bool
	precise     bool
}

var codeTable = map[int]descriptor{
	CodeUnknown:               {description: "unknown error"},
	CodeConnectionTimeout:     {description: "connection timeout"},
	CodeConnectionError:       {description: "connection error"},
	CodeCallCancelled:         {description: "call cancelled", precise: true},
	CodeTransportError:        {description: "transport error"},
	CodeSignalingDisconnected: {description: "signaling connection disconnected"},

	CodeBadRequest:             {description: "bad request", precise: true},
	CodeNotFound:               {description: "not found", precise: true},
	CodeRequestTimeout:         {description: "request timeout", precise: true},
	CodeTemporarilyUnavailable: {description: "temporarily unavailable", precise: true},
	CodeTransactionNotFound:    {description: "call transaction does not exist", precise: true},
	CodeBusyHere:               {description: "busy here", precise: true},
	CodeRequestTerminated:      {description: "request terminated", precise: true},

	CodeInternalServerError: {description: "internal server error", precise: true},
	CodeBadGateway:          {description: "bad gateway", precise: true},
	CodeServiceUnavailable:  {description: "service unavailable", precise: true},
	CodeGatewayTimeout:      {description: "gateway timeout", precise: true},

	CodeBusyEverywhere:       {description: "busy everywhere", precise: true},
	CodeDecline:              {description: "call declined", precise: true},
	CodeDoesNotExistAnywhere: {description: "does not exist anywhere", precise: true},

	CodeMediaConnectionFailed: {description: "media connection failed", media: true},
}

// FromCode resolves a relay error code to a typed error. Precise-only
// entries resolve only when the precision flag is set. The second return
// is false when the table has no usable entry; callers fall back to a
// generic error in that case.
func FromCode(code int, precision bool) (error, bool) {
	d, ok := codeTable[code]
	if !ok || (d.precise && !precision) {
		return nil, false
	}
	if d.media {
		return &MediaError{Code: code, Description: d.description}, true
	}
	return &SignalingError{Code: code, Description: d.description}, true
}

// SignalingFromCode resolves code like FromCode but never fails: unknown
// or precision-gated codes fall back to the generic connection error.
func SignalingFromCode(code int, precision bool) error {
	if err, ok := FromCode(code, precision); ok {
		return err
	}
	return NewConnectionError(nil)
}

// NewConnectionError returns the generic signaling connection error.
func NewConnectionError(cause error) *SignalingError {
	return &SignalingError{
		Code:        CodeConnectionError,
		Description: "connection error",
		Cause:       cause,
	}
}

// NewSignalingDisconnected returns the error attached to reconnecting
// events caused by signaling transport loss.
func NewSignalingDisconnected() *SignalingError {
	return &SignalingError{
		Code:        CodeSignalingDisconnected,
		Description: "signaling connection disconnected",
	}
}

// NewMediaConnectionFailed returns the terminal media failure error used
// when ICE recovery is abandoned.
func NewMediaConnectionFailed(cause error) *MediaError {
	return &MediaError{
		Code:        CodeMediaConnectionFailed,
		Description: "media connection failed",
		Cause:       cause,
	}
}
