package frame

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    byte
	}{
		{"empty", nil, 0x00},
		{"single", []byte{0x5A}, 0x5A},
		{"cancel", []byte{0x33, 0x33}, 0x00},
		{"rgb block", []byte{0x02, 0xCC, 0x00, 0x00}, 0x02 ^ 0xCC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Checksum(tt.payload))
		})
	}
}

func TestEncodeLayout(t *testing.T) {
	payload := []byte{0x02, 0x10, 0x20, 0x30, 0x01, 0x32, 0x32}
	got := Encode(payload)

	require.Len(t, got, len(payload)+Overhead)
	assert.Equal(t, byte(Start), got[0])
	assert.Equal(t, byte(len(got)-4), got[1])
	assert.Equal(t, Checksum(payload), got[2])
	assert.Equal(t, payload, got[HeaderSize:len(got)-1])
	assert.Equal(t, byte(End), got[len(got)-1])
}

func TestEncodeTruncatesLongPayload(t *testing.T) {
	got := Encode(make([]byte, 300))
	assert.Len(t, got, MaxPayload+Overhead)
	assert.Equal(t, byte(MaxPayload), got[1])
}

func TestUnwrapFramed(t *testing.T) {
	payload := []byte{0x81, 0x00, 0x96}
	got, framed, err := Unwrap(Encode(payload))
	require.NoError(t, err)
	assert.True(t, framed)
	assert.Equal(t, payload, got)
}

func TestUnwrapBare(t *testing.T) {
	got, framed, err := Unwrap([]byte{Start, 0x81, 0x00, 0x96})
	require.NoError(t, err)
	assert.False(t, framed)
	assert.Equal(t, []byte{0x81, 0x00, 0x96}, got)

	got, _, err = Unwrap([]byte{Start, 0x82, 0x01, End})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x82, 0x01}, got)
}

func TestUnwrapErrors(t *testing.T) {
	_, _, err := Unwrap(nil)
	assert.ErrorIs(t, err, ErrEmpty)

	_, _, err = Unwrap([]byte{0x00, 0x81, 0x00, 0x96})
	assert.ErrorIs(t, err, ErrBadStart)

	bad := Encode([]byte{0x81, 0x00, 0x96})
	bad[2] ^= 0xFF
	_, _, err = Unwrap(bad)
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestBuilderAndReader(t *testing.T) {
	b := NewBuilder().Block(0x02, 1, 2, 3).U8(0x02).I16(-90).I8(-5).U16(0x1234)
	assert.Equal(t, []byte{0x02, 1, 2, 3, 0x02, 0xFF, 0xA6, 0xFB, 0x12, 0x34}, b.Bytes())

	r := NewReader(b.Bytes()[4:])
	id, err := r.U8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0x02), id)
	angle, err := r.I16()
	require.NoError(t, err)
	assert.Equal(t, int16(-90), angle)
	speed, err := r.I8()
	require.NoError(t, err)
	assert.Equal(t, int8(-5), speed)
	v, err := r.U16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), v)
	assert.Zero(t, r.Remaining())

	_, err = r.U8()
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestSplitFunc(t *testing.T) {
	f1 := Encode([]byte{0x81, 0x00, 0x10})
	f2 := Encode([]byte{0x82, 0x03})
	corrupt := Encode([]byte{0x85, 0x00, 0x01})
	corrupt[2] ^= 0x01

	var stream []byte
	stream = append(stream, 0x00, 0x13, 0x37)
	stream = append(stream, f1...)
	stream = append(stream, corrupt...)
	stream = append(stream, 0x42)
	stream = append(stream, f2...)

	sc := bufio.NewScanner(bytes.NewReader(stream))
	sc.Split(SplitFunc)
	var got [][]byte
	for sc.Scan() {
		got = append(got, append([]byte(nil), sc.Bytes()...))
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, [][]byte{f1, f2}, got)
}
