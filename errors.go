package idx

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies the class of error returned by the cache engine, so
// callers can branch on failure mode without string matching.
type Kind int

const (
	// KindFileOpen means a .idx{i} or .dat2 file could not be opened or
	// read, or the requested index id is not open in the Cache.
	KindFileOpen Kind = iota
	// KindOversizeContainer means a declared size exceeded its cap.
	KindOversizeContainer
	// KindEmptyArchive means the archive's first_sector was <= 0, or a
	// requested archive or file is not present in the directory.
	KindEmptyArchive
	// KindTruncatedChain means next_sector hit zero before size was read.
	KindTruncatedChain
	// KindSectorMetadataMismatch means a sector header didn't match
	// the archive/part/index being read.
	KindSectorMetadataMismatch
	// KindUnknownProtocol means the directory protocol wasn't 5 or 6.
	KindUnknownProtocol
	// KindSizeMismatch means a decompressor's output length didn't
	// match the declared decompressed size.
	KindSizeMismatch
	// KindDecodeError wraps a codec (bzip2/deflate) failure.
	KindDecodeError
	// KindUnknownCodec means the compression byte was neither 0, 1 nor 2.
	KindUnknownCodec
)

func (k Kind) String() string {
	switch k {
	case KindFileOpen:
		return "FileOpenError"
	case KindOversizeContainer:
		return "OversizeContainer"
	case KindEmptyArchive:
		return "EmptyArchive"
	case KindTruncatedChain:
		return "TruncatedChain"
	case KindSectorMetadataMismatch:
		return "SectorMetadataMismatch"
	case KindUnknownProtocol:
		return "UnknownProtocol"
	case KindSizeMismatch:
		return "SizeMismatch"
	case KindDecodeError:
		return "DecodeError"
	case KindUnknownCodec:
		return "UnknownCodec"
	default:
		return "UnknownError"
	}
}

// Error is the error type returned by every exported operation in this
// package. Use errors.As to recover one; errors.Is, errors.As and
// errors.Unwrap see through it to the underlying cause, if any, via
// Unwrap. Error has no Cause method, so errors.Cause (from
// github.com/pkg/errors) stops at the Error itself.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("idx: %s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("idx: %s: %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is/errors.As see through to the cause.
func (e *Error) Unwrap() error {
	return e.cause
}

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapErr(cause error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}
