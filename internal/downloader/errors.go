package downloader

import (
	"errors"
	"fmt"
)

// Reason 拒绝或失败原因
type Reason string

const (
	ReasonChatNotMonitored       Reason = "ChatNotMonitored"
	ReasonExtensionFiltered      Reason = "ExtensionFiltered"
	ReasonTooLarge               Reason = "TooLarge"
	ReasonAlreadyInFlight        Reason = "AlreadyInFlight"
	ReasonAlreadyDownloaded      Reason = "AlreadyDownloaded"
	ReasonLinkResolutionFailed   Reason = "LinkResolutionFailed"
	ReasonIncompleteTransfer     Reason = "IncompleteTransfer"
	ReasonTransferInterrupted    Reason = "TransferInterrupted"
	ReasonOrganizerTriggerFailed Reason = "OrganizerTriggerFailed"
)

// Silent reports whether a rejection with this reason is a control-flow outcome
// that must not produce a user-visible notification.
func (r Reason) Silent() bool {
	switch r {
	case ReasonChatNotMonitored, ReasonExtensionFiltered, ReasonAlreadyInFlight, ReasonAlreadyDownloaded:
		return true
	default:
		return false
	}
}

var (
	ErrInvalidTransition = errors.New("invalid request state transition")
	ErrEngineStopped     = errors.New("download engine stopped")
)

// Error 携带原因的错误
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError 以指定原因包装错误
func NewError(reason Reason, err error) *Error {
	return &Error{Reason: reason, Err: err}
}

// ReasonOf 提取错误中的原因；未分类的错误视为传输中断
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var reasonErr *Error
	if errors.As(err, &reasonErr) {
		return reasonErr.Reason
	}
	return ReasonTransferInterrupted
}
