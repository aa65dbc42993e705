package pkg

import "errors"

// Transfer errors.
var (
	// ErrInvalid indicates a bad configuration; the caller must fix it and resubmit.
	ErrInvalid = errors.New("invalid transfer configuration")

	// ErrZeroFrames indicates an isochronous transfer configured with zero frames.
	ErrZeroFrames = errors.New("zero frames")

	// ErrZeroMaxPacket indicates the endpoint resolved to a zero max packet size.
	ErrZeroMaxPacket = errors.New("zero max packet size")

	// ErrNoPipe indicates no matching hardware endpoint.
	ErrNoPipe = errors.New("no matching endpoint")

	// ErrCancelled indicates a transfer stopped on purpose.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrTimeout indicates no completion within the configured window.
	ErrTimeout = errors.New("transfer timeout")

	// ErrShortTransfer indicates fewer bytes moved than requested.
	ErrShortTransfer = errors.New("short transfer")

	// ErrStalled indicates a protocol-level endpoint halt.
	ErrStalled = errors.New("endpoint stalled")

	// ErrNoMemory indicates resource exhaustion during setup.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrIO indicates a bus driver reported hardware failure.
	ErrIO = errors.New("bus I/O error")

	// ErrBusy indicates the resource is still referenced.
	ErrBusy = errors.New("resource busy")

	// ErrUnknown is returned for codes outside the taxonomy.
	ErrUnknown = errors.New("unknown transfer error")
)

// Code is the outcome recorded on a transfer. The zero value means normal
// completion.
type Code uint8

// Transfer outcome codes.
const (
	CodeNone          Code = iota // Normal completion
	CodeInvalid                   // Bad configuration
	CodeZeroFrames                // Isochronous transfer with zero frames
	CodeZeroMaxPacket             // Zero packet size after filtering
	CodeNoPipe                    // No matching endpoint
	CodeCancelled                 // Stopped on purpose
	CodeTimeout                   // Timed out
	CodeShortTransfer             // Fewer bytes than requested
	CodeStalled                   // Endpoint halted
	CodeNoMemory                  // Setup resources exhausted
	CodeIOError                   // Hardware failure reported by the bus driver
)

// String returns a string representation of the code.
func (c Code) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeInvalid:
		return "invalid"
	case CodeZeroFrames:
		return "zero-frames"
	case CodeZeroMaxPacket:
		return "zero-max-packet"
	case CodeNoPipe:
		return "no-pipe"
	case CodeCancelled:
		return "cancelled"
	case CodeTimeout:
		return "timeout"
	case CodeShortTransfer:
		return "short-transfer"
	case CodeStalled:
		return "stalled"
	case CodeNoMemory:
		return "no-memory"
	case CodeIOError:
		return "io-error"
	default:
		return "unknown"
	}
}

// Err returns the sentinel error for the code, or nil for CodeNone.
func (c Code) Err() error {
	switch c {
	case CodeNone:
		return nil
	case CodeInvalid:
		return ErrInvalid
	case CodeZeroFrames:
		return ErrZeroFrames
	case CodeZeroMaxPacket:
		return ErrZeroMaxPacket
	case CodeNoPipe:
		return ErrNoPipe
	case CodeCancelled:
		return ErrCancelled
	case CodeTimeout:
		return ErrTimeout
	case CodeShortTransfer:
		return ErrShortTransfer
	case CodeStalled:
		return ErrStalled
	case CodeNoMemory:
		return ErrNoMemory
	case CodeIOError:
		return ErrIO
	default:
		return ErrUnknown
	}
}

// Fatal reports whether the code is a configuration error that aborts setup.
func (c Code) Fatal() bool {
	switch c {
	case CodeInvalid, CodeZeroFrames, CodeZeroMaxPacket, CodeNoMemory:
		return true
	}
	return false
}

// Terminal reports whether the code ends a transfer without a retry by the
// engine itself.
func (c Code) Terminal() bool {
	switch c {
	case CodeCancelled, CodeTimeout, CodeShortTransfer, CodeStalled:
		return true
	}
	return false
}

var codeErrors = []Code{
	CodeInvalid, CodeZeroFrames, CodeZeroMaxPacket, CodeNoPipe, CodeCancelled,
	CodeTimeout, CodeShortTransfer, CodeStalled, CodeNoMemory, CodeIOError,
}

// CodeOf returns the code whose sentinel err wraps. A nil error maps to
// CodeNone; an error outside the taxonomy maps to CodeIOError.
func CodeOf(err error) Code {
	if err == nil {
		return CodeNone
	}
	for _, c := range codeErrors {
		if errors.Is(err, c.Err()) {
			return c
		}
	}
	return CodeIOError
}
