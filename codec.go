package msgsocket

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// HeaderSize is the length of the frame header: a big-endian uint32 payload length.
const HeaderSize = 4

// DefaultMaxFrameSize bounds the payload length accepted from the wire (16MB).
const DefaultMaxFrameSize = 16 * 1024 * 1024

// maxFrameLimit keeps declared lengths inside the signed 32-bit range.
const maxFrameLimit = math.MaxInt32

// Encode prepends the 4-byte big-endian length header to payload.
// The result is always len(payload)+HeaderSize bytes long.
func Encode(payload []byte) []byte {
	envelope := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(envelope[:HeaderSize], uint32(len(payload)))
	copy(envelope[HeaderSize:], payload)
	return envelope
}

// DecodeHeader parses a 4-byte header into the payload length it declares.
func DecodeHeader(header []byte) (uint32, error) {
	if len(header) != HeaderSize {
		return 0, errors.Errorf("invalid header length %d", len(header))
	}
	return binary.BigEndian.Uint32(header), nil
}

// checkFrameLength validates a declared payload length against maxFrameSize.
func checkFrameLength(length uint64, maxFrameSize int) error {
	if length > maxFrameLimit || length > uint64(maxFrameSize) {
		return errors.Wrapf(ErrFrameTooLarge, "length %d exceeds limit %d", length, maxFrameSize)
	}
	return nil
}

// WriteFrame encodes payload and writes the whole envelope to w,
// continuing after short writes. It returns the number of bytes written.
func WriteFrame(w io.Writer, payload []byte, maxFrameSize int) (int, error) {
	if err := checkFrameLength(uint64(len(payload)), maxFrameSize); err != nil {
		return 0, err
	}

	envelope := Encode(payload)
	written := 0
	for written < len(envelope) {
		n, err := w.Write(envelope[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// ReadFrame reads one complete frame from r and returns its payload.
// Frames declaring more than maxFrameSize bytes are rejected before allocation.
func ReadFrame(r io.Reader, maxFrameSize int) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length, _ := DecodeHeader(header[:])
	if err := checkFrameLength(uint64(length), maxFrameSize); err != nil {
		return nil, err
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "read frame payload")
	}
	return payload, nil
}
