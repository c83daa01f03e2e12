package coremqtt

import (
	"encoding/binary"
	"errors"
	"unicode/utf8"
)

// Encoding errors.
var (
	errStringTooLong      = errors.New("string exceeds maximum length of 65535 bytes")
	errBinaryTooLong      = errors.New("binary data exceeds maximum length of 65535 bytes")
	errInvalidUTF8        = errors.New("invalid UTF-8 string")
	errStringContainsNull = errors.New("string contains null character")
	errVarintTooLarge     = errors.New("variable byte integer exceeds maximum value")
	errVarintMalformed    = errors.New("malformed variable byte integer")
	errTruncated          = errors.New("data truncated")
)

const (
	maxUint16 = 65535

	// MaxRemainingLength is the largest remaining length a fixed header can encode.
	MaxRemainingLength = 268435455

	varintContinueBit = 0x80
	varintValueMask   = 0x7F
	maxVarintBytes    = 4
)

// validateString checks s against the UTF-8 encoded string rules.
// MQTT v3.1.1 spec: Section 1.5.3
func validateString(s string) error {
	if len(s) > maxUint16 {
		return errStringTooLong
	}

	if !utf8.ValidString(s) {
		return errInvalidUTF8
	}

	for i := range len(s) {
		if s[i] == 0 {
			return errStringContainsNull
		}
	}

	return nil
}

// encodeString writes s with its 2-byte length prefix into buf.
// buf must have room for len(s)+2 bytes. Returns the number of bytes written.
func encodeString(buf []byte, s string) int {
	binary.BigEndian.PutUint16(buf, uint16(len(s)))
	return 2 + copy(buf[2:], s)
}

// encodeBinary writes data with its 2-byte length prefix into buf.
func encodeBinary(buf []byte, data []byte) int {
	binary.BigEndian.PutUint16(buf, uint16(len(data)))
	return 2 + copy(buf[2:], data)
}

// decodeString reads a length prefixed string from the front of data.
// Returns the string and the number of bytes consumed.
func decodeString(data []byte) (string, int, error) {
	if len(data) < 2 {
		return "", 0, errTruncated
	}

	length := int(binary.BigEndian.Uint16(data))
	if len(data) < 2+length {
		return "", 0, errTruncated
	}

	s := data[2 : 2+length]
	if !utf8.Valid(s) {
		return "", 0, errInvalidUTF8
	}

	return string(s), 2 + length, nil
}

// encodeRemainingLength writes length as a variable byte integer into buf.
// Returns the number of bytes written.
func encodeRemainingLength(buf []byte, length int) int {
	value := uint32(length)
	n := 0

	for {
		encodedByte := byte(value & varintValueMask)
		value >>= 7

		if value > 0 {
			encodedByte |= varintContinueBit
		}

		buf[n] = encodedByte
		n++

		if value == 0 {
			break
		}
	}

	return n
}

// remainingLengthSize returns the number of bytes needed to encode length.
func remainingLengthSize(length int) int {
	switch {
	case length < 128:
		return 1
	case length < 16384:
		return 2
	case length < 2097152:
		return 3
	default:
		return 4
	}
}

// decodeRemainingLength reads a variable byte integer one byte at a time.
// MQTT v3.1.1 spec: Section 2.2.3
func decodeRemainingLength(readByte func() (byte, error)) (int, error) {
	var value uint32
	var multiplier uint32 = 1

	for i := 0; ; i++ {
		if i == maxVarintBytes {
			return 0, errVarintMalformed
		}

		encodedByte, err := readByte()
		if err != nil {
			return 0, err
		}

		value += uint32(encodedByte&varintValueMask) * multiplier

		if value > MaxRemainingLength {
			return 0, errVarintTooLarge
		}

		if encodedByte&varintContinueBit == 0 {
			// Overlong encodings such as 0x80 0x00 are rejected.
			if i > 0 && encodedByte == 0 {
				return 0, errVarintMalformed
			}
			break
		}

		multiplier *= 128
	}

	return int(value), nil
}
