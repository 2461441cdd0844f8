package vm

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorKind enumerates the structured error taxonomy of §7. Every error the
// dispatcher or validator produces carries one of these kinds so recovery
// and reporting code can switch on it instead of parsing messages.
type ErrorKind string

const (
	// KindValidation indicates a plan failed static validation (§4.7).
	KindValidation ErrorKind = "validation_error"
	// KindUnresolvedVariable indicates a reference to an absent variable in
	// arithmetic or sole-token context (§4.1).
	KindUnresolvedVariable ErrorKind = "unresolved_variable"
	// KindArithmetic indicates division/modulo by zero or another arithmetic
	// evaluation fault while reducing an assign expression (§4.1). Handled
	// the same way as KindUnresolvedVariable: fatal for the instruction,
	// triggers recovery.
	KindArithmetic ErrorKind = "arithmetic_error"
	// KindToolNotFound indicates a calling instruction names an unregistered tool.
	KindToolNotFound ErrorKind = "tool_not_found"
	// KindToolNotAllowed indicates a tool is registered but outside the task's namespace.
	KindToolNotAllowed ErrorKind = "tool_not_allowed"
	// KindToolFailed indicates a tool handler returned an error.
	KindToolFailed ErrorKind = "tool_failed"
	// KindLLMParseError indicates an LLM reply could not be parsed to the expected shape.
	KindLLMParseError ErrorKind = "llm_parse_error"
	// KindTimeout indicates a per-call deadline was exceeded.
	KindTimeout ErrorKind = "timeout"
	// KindCancelled indicates external cancellation of the run.
	KindCancelled ErrorKind = "cancelled"
	// KindInternal indicates an invariant violation; terminal and unrecoverable.
	KindInternal ErrorKind = "internal_error"
)

// Error is the structured error type produced by the dispatcher, validator,
// and engine. It carries enough context (kind, originating instruction,
// message, arbitrary details) for recovery and reporting without parsing
// free-form strings, and chains via Cause the way toolerrors.ToolError does
// so errors.Is/As keep working across retries.
type Error struct {
	Kind    ErrorKind
	Message string
	// SeqNo identifies the instruction that produced the error, when applicable.
	// Nil for errors not tied to a specific instruction (e.g. plan validation
	// failures that spans the whole plan).
	SeqNo *int
	// Details carries arbitrary structured context (tool name, missing variable
	// name, parse snippet, etc.).
	Details map[string]any
	// Cause links to a wrapped error, preserving errors.Is/As chains.
	Cause error
}

// New constructs an Error of the given kind with a plain message.
func New(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error of the given kind with a formatted message.
func Newf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithSeqNo returns a copy of e with SeqNo set, for attaching the failing
// instruction once it is known.
func (e *Error) WithSeqNo(seqNo int) *Error {
	cp := *e
	cp.SeqNo = &seqNo
	return &cp
}

// WithDetail returns a copy of e with one additional detail key set.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// WithCause returns a copy of e wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.SeqNo != nil {
		return fmt.Sprintf("%s (seq_no=%d): %s", e.Kind, *e.SeqNo, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is/errors.As across the Cause chain.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, vm.New(vm.KindTimeout, "")) style checks. Only Kind is
// compared; Message/Details are informational.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// AsError converts an arbitrary error into a *Error, classifying unknown
// errors as KindInternal. Errors already of type *Error pass through unchanged.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: err.Error(), Cause: err}
}

// Retryable reports whether the error kind is one the engine may retry
// before falling back to recovery. The engine re-runs the failed
// instruction once, unchanged, after a fixed backoff; for LLMParseError no
// stricter prompt is added to the retry.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindToolFailed, KindTimeout, KindLLMParseError:
		return true
	default:
		return false
	}
}

// errorWire is the JSON shape of an Error: {kind, message, seq_no?, details}
// per §7, with Cause flattened to its message so the record stays
// self-contained in a commit's vm_state_snapshot.
type errorWire struct {
	Kind    ErrorKind      `json:"kind"`
	Message string         `json:"message"`
	SeqNo   *int           `json:"seq_no,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   string         `json:"cause,omitempty"`
}

// MarshalJSON renders the {kind, message, seq_no?, details} shape of §7.
func (e *Error) MarshalJSON() ([]byte, error) {
	w := errorWire{Kind: e.Kind, Message: e.Message, SeqNo: e.SeqNo, Details: e.Details}
	if e.Cause != nil {
		w.Cause = e.Cause.Error()
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the {kind, message, seq_no?, details} shape of §7.
func (e *Error) UnmarshalJSON(data []byte) error {
	var w errorWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Kind = w.Kind
	e.Message = w.Message
	e.SeqNo = w.SeqNo
	e.Details = w.Details
	if w.Cause != "" {
		e.Cause = errors.New(w.Cause)
	}
	return nil
}

// Terminal reports whether the error kind can never be recovered by forking
// a patched plan (§7: Cancelled and InternalError are terminal).
func (e *Error) Terminal() bool {
	switch e.Kind {
	case KindCancelled, KindInternal:
		return true
	default:
		return false
	}
}
