// SPDX-License-Identifier: Apache-2.0
package core

import "encoding/binary"

// maxVarintBytes bounds LEB128 varint decoding to 10 bytes, enough for a
// full 64-bit value plus the continuation bit on the final byte.
const maxVarintBytes = 10

// Writer accumulates a binary-encoded message using the little-endian,
// length-prefixed conventions described in spec.md §2.1. The zero value is
// usable; NewWriter only pre-sizes the buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with the given initial capacity hint.
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

// Bytes returns the accumulated buffer. The returned slice aliases the
// Writer's internal storage and must not be mutated by the caller.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) WriteU8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteU16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteU64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteI64(v int64) {
	w.WriteU64(uint64(v))
}

// WriteU256 writes a U256 as 32 big-endian bytes, matching the account
// balance and trie key encodings in spec.md §2.2.
func (w *Writer) WriteU256(v U256) {
	var tmp [32]byte
	v.PutBigEndian(tmp[:])
	w.buf = append(w.buf, tmp[:]...)
}

// WriteVarInt writes v as an unsigned LEB128 varint: seven bits per byte,
// low bits first, continuation bit set on every byte but the last.
func (w *Writer) WriteVarInt(v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			w.buf = append(w.buf, b|0x80)
			continue
		}
		w.buf = append(w.buf, b)
		return
	}
}

// WriteBytes writes a varint length prefix followed by b's contents.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteVarInt(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteFixed appends b verbatim with no length prefix, for fields whose
// size is fixed by the wire format (hashes, addresses, keys, signatures).
func (w *Writer) WriteFixed(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *Writer) WriteHash(h Hash)                     { w.WriteFixed(h[:]) }
func (w *Writer) WriteAddress(a Address)                { w.WriteFixed(a[:]) }
func (w *Writer) WriteEd25519PublicKey(k Ed25519PublicKey) { w.WriteFixed(k[:]) }
func (w *Writer) WriteEd25519Signature(s Ed25519Signature) { w.WriteFixed(s[:]) }
func (w *Writer) WriteBlsPublicKey(k BlsPublicKey)      { w.WriteFixed(k[:]) }
func (w *Writer) WriteBlsSignature(s BlsSignature)      { w.WriteFixed(s[:]) }

// Reader decodes a binary-encoded message produced by Writer. All methods
// return UnexpectedEof (wrapped as a *Error with code ErrInvalidFrame) when
// the underlying buffer is exhausted.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps b for sequential decoding. b is not copied; callers must
// not mutate it while the Reader is in use.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return NewError(ErrInvalidFrame, "unexpected end of buffer")
	}
	return nil
}

func (r *Reader) ReadU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) ReadU16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) ReadU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

func (r *Reader) ReadU256() (U256, error) {
	if err := r.need(32); err != nil {
		return U256{}, err
	}
	v := U256FromBigEndian(r.buf[r.pos : r.pos+32])
	r.pos += 32
	return v, nil
}

// ReadVarInt decodes an unsigned LEB128 varint, rejecting encodings longer
// than maxVarintBytes as InvalidVarInt.
func (r *Reader) ReadVarInt() (uint64, error) {
	var result uint64
	var shift uint
	for i := 0; i < maxVarintBytes; i++ {
		b, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, NewError(ErrInvalidFrame, "varint too long")
}

// ReadBytes reads a varint length prefix then that many bytes. The
// returned slice aliases the Reader's backing buffer.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

// ReadFixed reads exactly n bytes verbatim.
func (r *Reader) ReadFixed(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadHash() (Hash, error) {
	var h Hash
	b, err := r.ReadFixed(HashSize)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

func (r *Reader) ReadAddress() (Address, error) {
	var a Address
	b, err := r.ReadFixed(AddressSize)
	if err != nil {
		return a, err
	}
	copy(a[:], b)
	return a, nil
}

func (r *Reader) ReadEd25519PublicKey() (Ed25519PublicKey, error) {
	var k Ed25519PublicKey
	b, err := r.ReadFixed(Ed25519PublicKeySize)
	if err != nil {
		return k, err
	}
	copy(k[:], b)
	return k, nil
}

func (r *Reader) ReadEd25519Signature() (Ed25519Signature, error) {
	var s Ed25519Signature
	b, err := r.ReadFixed(Ed25519SignatureSize)
	if err != nil {
		return s, err
	}
	copy(s[:], b)
	return s, nil
}

func (r *Reader) ReadBlsPublicKey() (BlsPublicKey, error) {
	var k BlsPublicKey
	b, err := r.ReadFixed(BlsPublicKeySize)
	if err != nil {
		return k, err
	}
	copy(k[:], b)
	return k, nil
}

func (r *Reader) ReadBlsSignature() (BlsSignature, error) {
	var s BlsSignature
	b, err := r.ReadFixed(BlsSignatureSize)
	if err != nil {
		return s, err
	}
	copy(s[:], b)
	return s, nil
}
