package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"lan-chat/errors"
)

const (
	frameHeaderSize = 4
	// DefaultMaxFrameSize bounds the allocation driven by a remote length prefix.
	DefaultMaxFrameSize = 1 << 20
)

// WriteFrame writes [uint32 little-endian length][payload] in a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads exactly one frame. A short read of the header or the payload
// surfaces as io.EOF or io.ErrUnexpectedEOF: the peer closed the stream.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(header[:])
	if maxSize > 0 && length > uint32(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", errors.ErrFrameTooLarge, length, maxSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}
