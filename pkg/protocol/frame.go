package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

const (
	// frameHeaderSize is the size of a frame header: a 32-bit tag followed by
	// a 32-bit payload length.
	frameHeaderSize = 8

	// DefaultMaximumPayloadSize is the default maximum payload size accepted by
	// decoders. It is large enough for dynamic modules delivered by SendFile.
	DefaultMaximumPayloadSize = 256 * 1024 * 1024
)

// ErrIncomplete indicates that a buffer does not yet contain a complete frame.
// It is distinct from MalformedError: more bytes may make the frame decodable.
var ErrIncomplete = errors.New("incomplete frame")

// MalformedError indicates that a frame can never be decoded, no matter how
// many more bytes arrive.
type MalformedError struct {
	// Tag is the tag of the offending frame.
	Tag int32
	// Reason describes the problem.
	Reason string
}

// Error implements error.Error.
func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed frame (tag %d): %s", e.Tag, e.Reason)
}

// IsMalformed indicates whether or not an error (or its cause) is a
// MalformedError.
func IsMalformed(err error) bool {
	var malformed *MalformedError
	return errors.As(err, &malformed)
}

// AppendFrame appends a frame with the specified tag and payload to dst.
func AppendFrame(dst []byte, tag int32, payload []byte) []byte {
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:4], uint32(tag))
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	dst = append(dst, header[:]...)
	return append(dst, payload...)
}

// ParseFrame parses a single frame from the beginning of data. It returns the
// frame's tag, its payload (aliasing data), and the number of bytes consumed.
// It returns ErrIncomplete if data holds only part of a frame and a
// MalformedError if the declared payload length exceeds maximum.
func ParseFrame(data []byte, maximum uint32) (int32, []byte, int, error) {
	// Parse the header.
	if len(data) < frameHeaderSize {
		return 0, nil, 0, ErrIncomplete
	}
	tag := int32(binary.BigEndian.Uint32(data[:4]))
	length := binary.BigEndian.Uint32(data[4:frameHeaderSize])

	// Validate the payload length.
	if length > maximum {
		return tag, nil, 0, &MalformedError{
			Tag:    tag,
			Reason: fmt.Sprintf("payload length %d exceeds maximum %d", length, maximum),
		}
	}

	// Ensure that the payload is present.
	total := frameHeaderSize + int(length)
	if len(data) < total {
		return tag, nil, 0, ErrIncomplete
	}

	// Done.
	return tag, data[frameHeaderSize:total], total, nil
}

// ReadFrame reads a complete frame from a stream. The payload is read into
// buffer if its capacity suffices, otherwise a new slice is allocated. It
// returns io.EOF if the stream ends cleanly before the frame, io.ErrUnexpectedEOF
// if it ends mid-frame, and a MalformedError if the declared payload length
// exceeds maximum.
func ReadFrame(reader io.Reader, buffer []byte, maximum uint32) (int32, []byte, error) {
	// Read the header.
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(reader, header[:]); err != nil {
		return 0, nil, err
	}
	tag := int32(binary.BigEndian.Uint32(header[:4]))
	length := binary.BigEndian.Uint32(header[4:])

	// Validate the payload length.
	if length > maximum {
		return 0, nil, &MalformedError{
			Tag:    tag,
			Reason: fmt.Sprintf("payload length %d exceeds maximum %d", length, maximum),
		}
	}

	// Read the payload.
	if uint64(cap(buffer)) < uint64(length) {
		buffer = make([]byte, length)
	}
	payload := buffer[:length]
	if _, err := io.ReadFull(reader, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return tag, payload, nil
}
