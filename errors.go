// Package docket is an embedded, schemaless document database: a
// single-process, file-backed store with a MongoDB-style query API, no
// network server, no multi-process access. See SPEC_FULL.md for the
// full component map.
package docket

import (
	"errors"
	"fmt"

	"github.com/jpl-au/docket/record"
)

// Code classifies a docket error the way EJDB's ecode() does: one
// numeric family per spec.md §7 (usage, state, I/O, format, fatal).
type Code int

const (
	_ Code = iota

	// Usage errors.
	CodeInvalid
	CodeKeepErr
	CodeNoRec
	CodeInvalidBSON
	CodeInvalidOID
	CodeInvalidCollName
	CodeMaxCollections
	CodeInvalidQueryControl
	CodeQueryOpNotArray
	CodeQueryInvalidRegex
	CodeQueryIncExcl
	CodeQueryActionKey
	CodeOneElemMatchOnly

	// State errors.
	CodeTran
	CodeMetaInvalid

	// I/O errors.
	CodeOpen
	CodeClose
	CodeRead
	CodeWrite
	CodeSeek
	CodeTrunc
	CodeMmap
	CodeLock
	CodeSync
	CodeStat
	CodeUnlink
	CodeRename
	CodeMkdir
	CodeRmdir
	CodeNoFile
	CodeNoPerm

	// Format errors.
	CodeRHeadErr
	CodeMeta
	CodeICompress
)

var codeText = map[Code]string{
	CodeInvalid:             "invalid handle, mode, or operation",
	CodeKeepErr:             "put-keep over an existing key",
	CodeNoRec:               "no such record",
	CodeInvalidBSON:         "invalid BSON document",
	CodeInvalidOID:          "invalid object id",
	CodeInvalidCollName:     "invalid collection name",
	CodeMaxCollections:      "maximum collection count reached",
	CodeInvalidQueryControl: "invalid query control key",
	CodeQueryOpNotArray:     "query operator expects an array operand",
	CodeQueryInvalidRegex:   "invalid regular expression in query",
	CodeQueryIncExcl:        "cannot mix inclusion and exclusion in $fields",
	CodeQueryActionKey:      "invalid update action key",
	CodeOneElemMatchOnly:    "only one $elemMatch per path is permitted",
	CodeTran:                "transaction misuse",
	CodeMetaInvalid:         "corrupt metadata collection",
	CodeOpen:                "open failed",
	CodeClose:               "close failed",
	CodeRead:                "read failed",
	CodeWrite:               "write failed",
	CodeSeek:                "seek failed",
	CodeTrunc:               "truncate failed",
	CodeMmap:                "mmap failed",
	CodeLock:                "lock failed",
	CodeSync:                "sync failed",
	CodeStat:                "stat failed",
	CodeUnlink:              "unlink failed",
	CodeRename:              "rename failed",
	CodeMkdir:               "mkdir failed",
	CodeRmdir:               "rmdir failed",
	CodeNoFile:              "no such file",
	CodeNoPerm:              "permission denied",
	CodeRHeadErr:            "record header magic mismatch",
	CodeMeta:                "metadata header mismatch on open",
	CodeICompress:           "missing or mismatched compression codec",
}

// String renders a stable human message for code, safe to call anytime
// (it never touches a handle), matching spec.md §6's errmsg(code).
func (c Code) String() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return fmt.Sprintf("docket: unknown error code %d", int(c))
}

// Error is the concrete error type every docket API returns. It always
// carries a Code and, where available, the underlying cause.
type Error struct {
	Code  Code
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("docket: %s: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("docket: %s", e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets callers write errors.Is(err, docket.ErrNotFound) against a
// bare Code the way the teacher's sentinel errors are checked.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// newErr wraps cause (which may be nil) with a Code.
func newErr(code Code, cause error) *Error {
	return &Error{Code: code, Cause: cause}
}

// newOpenErr wraps an error from the storage layer's Open path, upgrading
// a defaultCode to CodeLock when cause is (or wraps) record.ErrLocked or
// record.ErrLockUpgrade — spec.md §5: "a failure to acquire (on a
// configured non-blocking open) reports LOCK and leaves no state changed."
func newOpenErr(defaultCode Code, cause error) *Error {
	if errors.Is(cause, record.ErrLocked) || errors.Is(cause, record.ErrLockUpgrade) {
		return &Error{Code: CodeLock, Cause: cause}
	}
	return &Error{Code: defaultCode, Cause: cause}
}

// Sentinel errors for the common cases callers branch on directly,
// mirroring the teacher's errors.go sentinel style.
var (
	ErrNotFound    = &Error{Code: CodeNoRec}
	ErrClosed      = &Error{Code: CodeInvalid}
	ErrKeep        = &Error{Code: CodeKeepErr}
	ErrInvalidOID  = &Error{Code: CodeInvalidOID}
	ErrInvalidName = &Error{Code: CodeInvalidCollName}
	ErrTran        = &Error{Code: CodeTran}
)

// ecode extracts the Code from err if it is (or wraps) a *Error, and
// CodeInvalid otherwise. This is docket's single source of truth for
// "last error" — see DESIGN.md's decision against the teacher's
// thread-local/handle-wide split.
func ecode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInvalid
}

// Ecode is the exported form of ecode, mirroring EJDB's ejdbecode(jb).
func Ecode(err error) Code { return ecode(err) }

// Errmsg mirrors EJDB's errmsg(code): safe to call anytime, never fails.
func Errmsg(code Code) string { return code.String() }
