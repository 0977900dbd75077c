package ledger

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	codePrefix   = "KEY-"
	codeLength   = 8
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateCode produces a fresh activation code: the fixed prefix followed
// by codeLength characters drawn from codeAlphabet via crypto/rand.
func GenerateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate activation code: %w", err)
	}
	var b strings.Builder
	b.WriteString(codePrefix)
	for _, c := range buf {
		b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
	}
	return b.String(), nil
}

// IsCode reports whether the text looks like an activation code. Any message
// carrying the prefix is treated as a redemption attempt rather than a
// prompt; whether the code actually exists is decided at redemption time.
func IsCode(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), codePrefix)
}
