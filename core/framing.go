// SPDX-License-Identifier: Apache-2.0
package core

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameBytes bounds a single wire frame at 16 MiB, rejecting anything
// larger before it is fully read into memory (spec.md §4.4).
const MaxFrameBytes = 16 * 1024 * 1024

// frameLengthPrefixBytes is the size of the big-endian length prefix that
// precedes every frame's payload.
const frameLengthPrefixBytes = 4

// WriteFrame writes a single [4-byte BE length][payload] frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameBytes {
		return NewError(ErrOversizeFrame, fmt.Sprintf("frame of %d bytes exceeds max %d", len(payload), MaxFrameBytes))
	}
	var prefix [frameLengthPrefixBytes]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return WrapErr(ErrConnectionFailed, err, "write frame length")
	}
	if _, err := w.Write(payload); err != nil {
		return WrapErr(ErrConnectionFailed, err, "write frame payload")
	}
	return nil
}

// ReadFrame reads a single length-prefixed frame from r, rejecting frames
// that declare a length exceeding MaxFrameBytes without reading the
// payload (so an adversarial peer cannot force unbounded allocation).
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [frameLengthPrefixBytes]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, WrapErr(ErrConnectionFailed, err, "read frame length")
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxFrameBytes {
		return nil, NewError(ErrOversizeFrame, fmt.Sprintf("declared frame length %d exceeds max %d", n, MaxFrameBytes))
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, WrapErr(ErrConnectionFailed, err, "read frame payload")
	}
	return payload, nil
}
