package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an engine error by how callers should react to it.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindConcurrency
	KindDelivery
	KindStreamState
	KindPermission
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConcurrency:
		return "concurrency"
	case KindDelivery:
		return "delivery"
	case KindStreamState:
		return "stream_state"
	case KindPermission:
		return "permission"
	default:
		return "unknown"
	}
}

// Stable error codes surfaced to clients.
const (
	CodeInvalidArgument       = "InvalidArgument"
	CodeNotFound              = "NotFound"
	CodeLockTimeout           = "LockTimeout"
	CodeMessageDeliveryFailed = "MessageDeliveryFailed"
	CodeStreamNotFound        = "StreamNotFound"
	CodePermissionDenied      = "PermissionDenied"
)

// Sentinels for errors.Is checks against a Kind.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrConcurrency = &Error{Kind: KindConcurrency}
	ErrDelivery    = &Error{Kind: KindDelivery}
	ErrStreamState = &Error{Kind: KindStreamState}
	ErrPermission  = &Error{Kind: KindPermission}
)

// Error carries the ids needed to correlate a failure across Seq rows.
type Error struct {
	Kind    Kind
	Code    string
	Message string

	SeqID               int64
	MessageID           string
	DelightfulMessageID string
	ConversationID      string
	AppMessageID        string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Code != "" {
		b.WriteString(e.Code)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	var ids []string
	if e.SeqID != 0 {
		ids = append(ids, fmt.Sprintf("seq_id=%d", e.SeqID))
	}
	if e.MessageID != "" {
		ids = append(ids, "message_id="+e.MessageID)
	}
	if e.DelightfulMessageID != "" {
		ids = append(ids, "delightful_message_id="+e.DelightfulMessageID)
	}
	if e.ConversationID != "" {
		ids = append(ids, "conversation_id="+e.ConversationID)
	}
	if e.AppMessageID != "" {
		ids = append(ids, "app_message_id="+e.AppMessageID)
	}
	if len(ids) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(ids, " "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrNotFound) works
// regardless of the ids attached.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithSeq returns a copy annotated with the Seq identity.
func (e *Error) WithSeq(seqID int64, messageID string) *Error {
	c := *e
	c.SeqID = seqID
	c.MessageID = messageID
	return &c
}

// WithMessage returns a copy annotated with the logical message id.
func (e *Error) WithMessage(delightfulMessageID string) *Error {
	c := *e
	c.DelightfulMessageID = delightfulMessageID
	return &c
}

// WithConversation returns a copy annotated with the conversation id.
func (e *Error) WithConversation(conversationID string) *Error {
	c := *e
	c.ConversationID = conversationID
	return &c
}

// WithApp returns a copy annotated with the client idempotency key.
func (e *Error) WithApp(appMessageID string) *Error {
	c := *e
	c.AppMessageID = appMessageID
	return &c
}

func newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func InvalidArgument(format string, args ...any) *Error {
	return newf(KindValidation, CodeInvalidArgument, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, CodeNotFound, format, args...)
}

func PermissionDenied(format string, args ...any) *Error {
	return newf(KindPermission, CodePermissionDenied, format, args...)
}

func StreamNotFound(appMessageID string) *Error {
	return &Error{
		Kind:         KindStreamState,
		Code:         CodeStreamNotFound,
		Message:      "stream cache entry missing",
		AppMessageID: appMessageID,
	}
}

// LockTimeout reports a lock that could not be acquired within its wait budget.
func LockTimeout(key string, err error) *Error {
	return &Error{
		Kind:    KindConcurrency,
		Code:    CodeLockTimeout,
		Message: "lock not acquired: " + key,
		Err:     err,
	}
}

// DeliveryFailed reports a queue publish that did not succeed.
func DeliveryFailed(conversationID string, err error) *Error {
	return &Error{
		Kind:           KindDelivery,
		Code:           CodeMessageDeliveryFailed,
		Message:        "queue publish failed",
		ConversationID: conversationID,
		Err:            err,
	}
}

// Retryable reports whether the caller may safely re-run the operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrency)
}

// KindOf extracts the Kind of an engine error, or 0 for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
