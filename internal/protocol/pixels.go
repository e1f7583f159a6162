package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrBadPixelString is returned when a pixel string holds characters that are not bytes.
var ErrBadPixelString = errors.New("pixel string holds a non-byte character")

// EncodePixelString returns a string whose character codes equal the given bytes.
// Bytes >= 0x80 take two bytes of UTF-8 so the result survives any text-only boundary.
func EncodePixelString(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) + len(b)/2)
	for _, c := range b {
		if c < utf8.RuneSelf {
			sb.WriteByte(c)
			continue
		}
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// DecodePixelString writes the bytes carried by s into dst and returns how many
// were written. dst must be large enough for every character of s.
func DecodePixelString(s string, dst []byte) (int, error) {
	n := 0
	for i := 0; i < len(s); {
		if n >= len(dst) {
			return n, fmt.Errorf("%w: more than %d characters", ErrBadPixelString, len(dst))
		}
		c := s[i]
		if c < utf8.RuneSelf {
			dst[n] = c
			n++
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if (r == utf8.RuneError && size == 1) || r > 0xFF {
			return n, fmt.Errorf("%w: %U at byte %d", ErrBadPixelString, r, i)
		}
		dst[n] = byte(r)
		n++
		i += size
	}
	return n, nil
}

// PixelStringLen returns the number of bytes s decodes to.
func PixelStringLen(s string) int {
	return utf8.RuneCountInString(s)
}
