package grants

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// MaxCodeAttempts bounds how many random codes are tried before giving up.
const MaxCodeAttempts = 10

const (
	codeDigits  = "0123456789"
	codeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// codeLayout is DDDD-LLLD-LDDD: 'D' is a digit, 'L' a letter.
const codeLayout = "DDDD-LLLD-LDDD"

var codePattern = regexp.MustCompile(`^[0-9]{4}-[A-Z]{3}[0-9]-[A-Z][0-9]{3}$`)

// NormalizeCode trims and upper-cases a user-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code matches DDDD-LLLD-LDDD. The code must
// already be normalized.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// GenerateCode returns a random code in the DDDD-LLLD-LDDD layout.
func GenerateCode() (string, error) {
	var b strings.Builder
	b.Grow(len(codeLayout))
	for _, slot := range codeLayout {
		var alphabet string
		switch slot {
		case 'D':
			alphabet = codeDigits
		case 'L':
			alphabet = codeLetters
		default:
			b.WriteRune(slot)
			continue
		}
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", fmt.Errorf("generate random index: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// CodeChecker reports whether a code is already assigned.
type CodeChecker interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// GenerateUniqueCode generates codes until one is not yet assigned.
func GenerateUniqueCode(ctx context.Context, checker CodeChecker) (string, error) {
	for attempt := 0; attempt < MaxCodeAttempts; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			return "", err
		}
		exists, err := checker.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check code uniqueness: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("no unique code after %d attempts: %w", MaxCodeAttempts, ErrCodeTaken)
}
