// SPDX-License-Identifier: Apache-2.0
package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	var h Hash
	h[0], h[31] = 0x11, 0x22
	var addr Address
	addr[0] = 0xaa

	w := NewWriter(0)
	w.WriteU8(7)
	w.WriteU16(1000)
	w.WriteU32(70000)
	w.WriteU64(1 << 40)
	w.WriteI64(-5)
	w.WriteU256(U256FromUint64(123456789))
	w.WriteVarInt(300)
	w.WriteBytes([]byte("hello basalt"))
	w.WriteHash(h)
	w.WriteAddress(addr)

	r := NewReader(w.Bytes())
	u8, err := r.ReadU8()
	require.NoError(t, err)
	require.EqualValues(t, 7, u8)

	u16, err := r.ReadU16()
	require.NoError(t, err)
	require.EqualValues(t, 1000, u16)

	u32, err := r.ReadU32()
	require.NoError(t, err)
	require.EqualValues(t, 70000, u32)

	u64, err := r.ReadU64()
	require.NoError(t, err)
	require.EqualValues(t, 1<<40, u64)

	i64, err := r.ReadI64()
	require.NoError(t, err)
	require.EqualValues(t, -5, i64)

	u256, err := r.ReadU256()
	require.NoError(t, err)
	require.True(t, u256.Cmp(U256FromUint64(123456789)) == 0)

	vi, err := r.ReadVarInt()
	require.NoError(t, err)
	require.EqualValues(t, 300, vi)

	b, err := r.ReadBytes()
	require.NoError(t, err)
	require.Equal(t, "hello basalt", string(b))

	gotHash, err := r.ReadHash()
	require.NoError(t, err)
	require.Equal(t, h, gotHash)

	gotAddr, err := r.ReadAddress()
	require.NoError(t, err)
	require.Equal(t, addr, gotAddr)

	require.Zero(t, r.Remaining())
}

func TestReaderTruncatedBufferReturnsInvalidFrame(t *testing.T) {
	r := NewReader([]byte{1, 2})
	_, err := r.ReadU64()
	require.Error(t, err)
	coreErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrInvalidFrame, coreErr.Code)
}

func TestVarIntLongerThanMaxBytesRejected(t *testing.T) {
	overlong := make([]byte, 11)
	for i := range overlong {
		overlong[i] = 0x80
	}
	r := NewReader(overlong)
	_, err := r.ReadVarInt()
	require.Error(t, err)
}

func TestVarIntRoundTripsAcrossByteBoundaries(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 16383, 16384, 1 << 35, ^uint64(0)}
	for _, v := range values {
		w := NewWriter(0)
		w.WriteVarInt(v)
		r := NewReader(w.Bytes())
		got, err := r.ReadVarInt()
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}
