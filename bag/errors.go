package bag

import (
	"github.com/openrover/baglog/bagio"
	"github.com/openrover/baglog/record"
	"github.com/pkg/errors"
)

// Error kinds surfaced by the engine. Match with errors.Is; call sites
// attach context by wrapping.
var (
	// ErrBadVersion reports a missing or unsupported version line.
	ErrBadVersion = errors.New("unsupported bag version")

	// ErrBadFormat reports a malformed record or field.
	ErrBadFormat = record.ErrBadFormat

	// ErrTruncatedTrailer reports a file whose header carries the
	// index-position sentinel 0, or whose trailer lies past EOF: the
	// writer never finished.
	ErrTruncatedTrailer = errors.New("bag trailer missing or truncated")

	// ErrUnknownCompression reports an unrecognized chunk compression
	// string.
	ErrUnknownCompression = bagio.ErrUnknownCompression

	// ErrInvariant reports a broken runtime invariant, e.g. a message
	// record whose topic disagrees with the index that located it.
	ErrInvariant = errors.New("bag invariant violation")

	// ErrNotOpen reports an operation on a bag that is closed or not open
	// in a mode that allows it, e.g. Write on a bag opened for Read.
	ErrNotOpen = errors.New("bag not open")
)
