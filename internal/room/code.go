package room

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// CodeLength is the number of characters in a room code.
const CodeLength = 6

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// largest multiple of len(codeAlphabet) that fits in a byte; bytes at or
// above it are rejected so every symbol is equally likely.
const codeRejectAbove = 252

// NewCode returns a random, human-typable room code such as "AB12CD".
func NewCode() (string, error) {
	var out strings.Builder
	out.Grow(CodeLength)
	buf := make([]byte, CodeLength*2)
	for out.Len() < CodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if b >= codeRejectAbove {
				continue
			}
			out.WriteByte(codeAlphabet[int(b)%len(codeAlphabet)])
			if out.Len() == CodeLength {
				break
			}
		}
	}
	return out.String(), nil
}

// NormalizeCode trims and upper-cases a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code has the shape NewCode produces.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(codeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
