package trial

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// codeCharset leaves out 0/O and 1/I so codes survive being read aloud.
const codeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func GenerateCode(length int) (string, error) {
	code := make([]byte, length)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[num.Int64()]
	}
	return string(code), nil
}

// NormalizeCode makes user-typed codes comparable: case, surrounding space
// and separators are ignored.
func NormalizeCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if r == ' ' || r == '-' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
