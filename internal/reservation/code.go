package reservation

import (
	"crypto/rand"
	"math/big"
	"strings"
	"unicode"
)

// codeAlphabet omits 0/O, 1/I and lowercase so a code read over the phone
// or typed on a kiosk keypad cannot be ambiguous.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func randomCode(length int) string {
	b := make([]byte, length)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("pickup code entropy source failed: " + err.Error())
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b)
}

// NormalizeCode uppercases a pickup code and strips all whitespace, so
// "abc 123" and "ABC123" validate the same.
func NormalizeCode(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, raw)
}
