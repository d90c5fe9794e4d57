package protocol

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

const (
	// decoderReaderBufferSize is the size of the buffered reader used by
	// Decoder.
	decoderReaderBufferSize = 32 * 1024
	// maximumPersistentBufferSize is the maximum buffer size that encoders and
	// decoders keep allocated between frames.
	maximumPersistentBufferSize = 1024 * 1024
)

// ErrNotInEpoch indicates an attempt to encode a value that the negotiated
// epoch does not include.
var ErrNotInEpoch = errors.New("value not supported by negotiated protocol epoch")

// ErrPayloadTooLarge indicates an attempt to encode a value whose payload
// exceeds the encoder's maximum. Nothing is written in that case.
var ErrPayloadTooLarge = errors.New("payload too large")

// Encoder writes frames to a stream, restricted to the values of an epoch. It
// is not safe for concurrent use.
type Encoder struct {
	// writer is the underlying writer.
	writer io.Writer
	// epoch is the negotiated epoch.
	epoch *Epoch
	// maximum is the maximum payload size.
	maximum uint32
	// buffer is a reusable encoding buffer.
	buffer []byte
}

// NewEncoder creates a new encoder for the specified epoch.
func NewEncoder(writer io.Writer, epoch *Epoch) *Encoder {
	return &Encoder{
		writer:  writer,
		epoch:   epoch,
		maximum: DefaultMaximumPayloadSize,
	}
}

// SetMaximumPayloadSize sets the maximum payload size that will be encoded.
func (e *Encoder) SetMaximumPayloadSize(maximum uint32) {
	e.maximum = maximum
}

// flush writes the buffered frame and resets the buffer.
func (e *Encoder) flush() error {
	if uint64(len(e.buffer)-frameHeaderSize) > uint64(e.maximum) {
		e.buffer = e.buffer[:0]
		return errors.Wrapf(ErrPayloadTooLarge, "maximum is %d bytes", e.maximum)
	}
	_, err := e.writer.Write(e.buffer)
	if cap(e.buffer) > maximumPersistentBufferSize {
		e.buffer = nil
	} else {
		e.buffer = e.buffer[:0]
	}
	return err
}

// EncodeCommand writes a command frame. Unrecognized commands are written
// verbatim.
func (e *Encoder) EncodeCommand(command Command) error {
	if _, ok := command.(UnrecognizedCommand); !ok && !e.epoch.SupportsCommand(command.Tag()) {
		return errors.Wrapf(ErrNotInEpoch, "%s in epoch %d", command.Tag(), e.epoch.Version)
	}
	e.buffer = AppendCommand(e.buffer[:0], command)
	return e.flush()
}

// EncodeResponse writes a response frame. Unrecognized responses are written
// verbatim.
func (e *Encoder) EncodeResponse(response Response) error {
	if _, ok := response.(UnrecognizedResponse); !ok && !e.epoch.SupportsResponse(response.Tag()) {
		return errors.Wrapf(ErrNotInEpoch, "%s in epoch %d", response.Tag(), e.epoch.Version)
	}
	e.buffer = AppendResponse(e.buffer[:0], response)
	return e.flush()
}

// Decoder reads frames from a stream, interpreting only the values of an
// epoch. It is not safe for concurrent use.
type Decoder struct {
	// reader is the underlying buffered reader.
	reader *bufio.Reader
	// epoch is the negotiated epoch.
	epoch *Epoch
	// maximum is the maximum accepted payload size.
	maximum uint32
	// buffer is a reusable frame buffer.
	buffer []byte
}

// NewDecoder creates a new decoder for the specified epoch.
func NewDecoder(reader io.Reader, epoch *Epoch) *Decoder {
	return &Decoder{
		reader:  bufio.NewReaderSize(reader, decoderReaderBufferSize),
		epoch:   epoch,
		maximum: DefaultMaximumPayloadSize,
	}
}

// SetMaximumPayloadSize sets the maximum payload size that will be accepted.
func (d *Decoder) SetMaximumPayloadSize(maximum uint32) {
	d.maximum = maximum
}

// readFrame reads a complete frame into the decoder's buffer.
func (d *Decoder) readFrame() (int32, []byte, error) {
	tag, payload, err := ReadFrame(d.reader, d.buffer, d.maximum)
	if err != nil {
		return 0, nil, err
	}
	d.buffer = payload
	return tag, payload, nil
}

// release drops an oversized frame buffer.
func (d *Decoder) release() {
	if cap(d.buffer) > maximumPersistentBufferSize {
		d.buffer = nil
	}
}

// DecodeCommand reads the next command. Tags outside the epoch yield an
// UnrecognizedCommand.
func (d *Decoder) DecodeCommand() (Command, error) {
	rawTag, payload, err := d.readFrame()
	if err != nil {
		return nil, err
	}
	defer d.release()
	return parseCommand(rawTag, payload, d.epoch.SupportsCommand)
}

// DecodeResponse reads the next response. Tags outside the epoch yield an
// UnrecognizedResponse.
func (d *Decoder) DecodeResponse() (Response, error) {
	rawTag, payload, err := d.readFrame()
	if err != nil {
		return nil, err
	}
	defer d.release()
	return parseResponse(rawTag, payload, d.epoch.SupportsResponse)
}
