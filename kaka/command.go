package kaka

import (
	"errors"
	"fmt"
)

var (
	ErrBadValue = errors.New("kaka: malformed input value")
	// ErrTooLong means a pin or value list does not fit its one-byte count.
	ErrTooLong = errors.New("kaka: list longer than 255 entries")
)

// GenerateOutputCommand builds
//
//	[type][id][action][len(pins)][pins...][len(values)][values...]
func GenerateOutputCommand(t DeviceType, id uint8, action Action, pins, values []uint8) ([]byte, error) {
	if len(pins) > 0xFF {
		return nil, fmt.Errorf("%w: %d pins", ErrTooLong, len(pins))
	}
	if len(values) > 0xFF {
		return nil, fmt.Errorf("%w: %d values", ErrTooLong, len(values))
	}
	out := make([]byte, 0, 6+len(pins)+len(values))
	out = append(out, byte(t), id, byte(action), byte(len(pins)))
	out = append(out, pins...)
	out = append(out, byte(len(values)))
	return append(out, values...), nil
}

// GenerateInputCommand builds
//
//	[type][id][action][len(pins)][pins...]
func GenerateInputCommand(t DeviceType, id uint8, action Action, pins []uint8) ([]byte, error) {
	if len(pins) > 0xFF {
		return nil, fmt.Errorf("%w: %d pins", ErrTooLong, len(pins))
	}
	out := make([]byte, 0, 4+len(pins))
	out = append(out, byte(t), id, byte(action), byte(len(pins)))
	return append(out, pins...), nil
}

// ChangeNameCommand builds the ATTACHED_IO rename request.
func ChangeNameCommand(name string) []byte {
	b := []byte(name)
	if len(b) > 0xFF {
		b = b[:0xFF]
	}
	out := make([]byte, 0, 2+len(b))
	out = append(out, DeviceActionChangeName, byte(len(b)))
	return append(out, b...)
}

// ParseInputValue splits an INPUT_VALUES payload [id][len][value...].
func ParseInputValue(buf []byte) (id uint8, value []byte, err error) {
	if len(buf) < 2 {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrBadValue, len(buf))
	}
	n := int(buf[1])
	if len(buf) < 2+n {
		return 0, nil, fmt.Errorf("%w: length %d, have %d", ErrBadValue, n, len(buf)-2)
	}
	return buf[0], buf[2 : 2+n], nil
}

// DecodeValue turns a one or two byte reading into an integer. Two byte
// readings are big-endian.
func DecodeValue(v []byte) (int, error) {
	switch len(v) {
	case 1:
		return int(v[0]), nil
	case 2:
		return int(v[0])<<8 | int(v[1]), nil
	}
	return 0, fmt.Errorf("%w: value length %d", ErrBadValue, len(v))
}

func u16(v int) []uint8 {
	return []uint8{uint8(v >> 8), uint8(v)}
}
