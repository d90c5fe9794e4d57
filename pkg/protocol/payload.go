package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// errFieldOverrun indicates that a payload field extends past the end of its
// frame.
var errFieldOverrun = errors.New("field overruns payload")

// AppendUint32 appends a big endian 32-bit unsigned integer field.
func AppendUint32(dst []byte, value uint32) []byte {
	var data [4]byte
	binary.BigEndian.PutUint32(data[:], value)
	return append(dst, data[:]...)
}

// AppendUint64 appends a big endian 64-bit unsigned integer field.
func AppendUint64(dst []byte, value uint64) []byte {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], value)
	return append(dst, data[:]...)
}

// AppendBytes appends a length-prefixed byte field.
func AppendBytes(dst []byte, value []byte) []byte {
	dst = AppendUint32(dst, uint32(len(value)))
	return append(dst, value...)
}

// AppendString appends a length-prefixed string field.
func AppendString(dst []byte, value string) []byte {
	dst = AppendUint32(dst, uint32(len(value)))
	return append(dst, value...)
}

// AppendList appends a counted list of strings.
func AppendList(dst []byte, values []string) []byte {
	dst = AppendUint32(dst, uint32(len(values)))
	for _, value := range values {
		dst = AppendString(dst, value)
	}
	return dst
}

// PayloadReader reads fields sequentially from a frame payload. Any bytes left
// after the last field read are ignored, so later protocol revisions may
// append fields without breaking older readers.
type PayloadReader struct {
	// data is the remaining payload.
	data []byte
}

// NewPayloadReader creates a new payload reader.
func NewPayloadReader(payload []byte) *PayloadReader {
	return &PayloadReader{data: payload}
}

// Remaining returns the number of unread payload bytes.
func (r *PayloadReader) Remaining() int {
	return len(r.data)
}

// Uint32 reads a 32-bit unsigned integer field.
func (r *PayloadReader) Uint32() (uint32, error) {
	if len(r.data) < 4 {
		return 0, errFieldOverrun
	}
	value := binary.BigEndian.Uint32(r.data[:4])
	r.data = r.data[4:]
	return value, nil
}

// Uint64 reads a 64-bit unsigned integer field.
func (r *PayloadReader) Uint64() (uint64, error) {
	if len(r.data) < 8 {
		return 0, errFieldOverrun
	}
	value := binary.BigEndian.Uint64(r.data[:8])
	r.data = r.data[8:]
	return value, nil
}

// Bytes reads a length-prefixed byte field. The result is a copy and is nil
// for an empty field.
func (r *PayloadReader) Bytes() ([]byte, error) {
	length, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if uint64(length) > uint64(len(r.data)) {
		return nil, errFieldOverrun
	}
	var value []byte
	if length > 0 {
		value = make([]byte, length)
		copy(value, r.data[:length])
	}
	r.data = r.data[length:]
	return value, nil
}

// String reads a length-prefixed string field.
func (r *PayloadReader) String() (string, error) {
	length, err := r.Uint32()
	if err != nil {
		return "", err
	}
	if uint64(length) > uint64(len(r.data)) {
		return "", errFieldOverrun
	}
	value := string(r.data[:length])
	r.data = r.data[length:]
	return value, nil
}

// List reads a counted list of strings. The result is nil for an empty list.
func (r *PayloadReader) List() ([]string, error) {
	count, err := r.Uint32()
	if err != nil {
		return nil, err
	}

	// Each element needs at least its length prefix, which bounds the count
	// before we allocate anything.
	if uint64(count)*4 > uint64(len(r.data)) {
		return nil, errFieldOverrun
	}
	var values []string
	if count > 0 {
		values = make([]string, 0, count)
	}
	for i := uint32(0); i < count; i++ {
		value, err := r.String()
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}
