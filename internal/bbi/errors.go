// Package bbi implements the on-disk container shared by the BigWig and
// BigBed genome track formats: the fixed header, the B+-tree chromosome
// dictionary, the R+-tree block index, the zoom pyramid, and the streaming
// writer pipeline that produces them. Format-specific block encoding lives
// in the bigbed and bigwig packages; this package only knows about bytes,
// offsets and intervals.
package bbi

import (
	"errors"

	"golang.org/x/xerrors"
)

// Kind discriminates the error categories surfaced to callers. Test an error's
// category with IsKind (or errors.As to *Error and read its Kind).
type Kind int

const (
	// KindIO covers failures of the underlying storage.
	KindIO Kind = iota
	// KindFormat covers wrong magics, invalid versions, truncated blocks and
	// other structural inconsistencies in the file itself.
	KindFormat
	// KindNotSupported covers AutoSQL, extra indices, and WIG section types
	// the writer cannot produce.
	KindNotSupported
	// KindInvariant covers caller errors: unsorted input, invalid scores,
	// numBins exceeding interval length, and similar.
	KindInvariant
	// KindNotFound covers an absent chromosome.
	KindNotFound
	// KindCancelled covers a writer cancellation predicate firing.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindFormat:
		return "format"
	case KindNotSupported:
		return "not supported"
	case KindInvariant:
		return "invariant"
	case KindNotFound:
		return "not found"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a BBI-specific error carrying a Kind alongside the usual message
// chain. Use errors.As to recover it and inspect Kind; Unwrap descends into
// whatever cause was chained in with %w, so errors.Is/errors.As reach past
// this type to the underlying I/O or decoding failure.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string { return e.err.Error() }

func (e *Error) Unwrap() error { return e.err }

// newErrf builds an *Error of the given Kind, formatting format/args through
// xerrors so a %w verb genuinely chains its operand as this error's cause.
func newErrf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, err: xerrors.Errorf(format, args...)}
}

func ioErrf(format string, args ...interface{}) error {
	return newErrf(KindIO, format, args...)
}

func formatErrf(format string, args ...interface{}) error {
	return newErrf(KindFormat, format, args...)
}

func notSupportedErrf(format string, args ...interface{}) error {
	return newErrf(KindNotSupported, format, args...)
}

func invariantErrf(format string, args ...interface{}) error {
	return newErrf(KindInvariant, format, args...)
}

// InvariantErrorf builds a KindInvariant error for use by the format
// packages (bed, wig, bigbed, bigwig), which validate caller input this
// package never sees directly (scores, strands, block-list lengths, sort
// order).
func InvariantErrorf(format string, args ...interface{}) error {
	return invariantErrf(format, args...)
}

// FormatErrorf builds a KindFormat error for use by the format packages.
func FormatErrorf(format string, args ...interface{}) error {
	return formatErrf(format, args...)
}

// NotSupportedErrorf builds a KindNotSupported error for use by the format
// packages.
func NotSupportedErrorf(format string, args ...interface{}) error {
	return notSupportedErrf(format, args...)
}

// ErrNotFound is returned by operations that must fail (rather than return
// an empty result) when a chromosome is absent, e.g. Summarize.
var ErrNotFound = newErrf(KindNotFound, "chromosome not found")

// Cancelled wraps the error returned by a caller-supplied cancellation
// predicate so it is distinguishable from an ordinary I/O failure. The
// predicate's error remains reachable via errors.Unwrap.
func Cancelled(cause error) error {
	return newErrf(KindCancelled, "writer cancelled: %w", cause)
}

// IsKind reports whether err (or something it wraps) is a *Error of the
// given Kind.
func IsKind(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}
