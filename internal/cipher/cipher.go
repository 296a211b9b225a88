// Package cipher is the placeholder homomorphic-encryption adapter. It turns
// a numeric value into an opaque tagged ciphertext and back. Nothing else in
// the module depends on how the ciphertext is built, only on the pair of
// functions below.
package cipher

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ksred/fhenergy-api/internal/types"
)

// Tag prefixes every ciphertext produced by EncryptNumber.
const Tag = "FHE-"

var ErrOutOfDomain = errors.New("value must be finite and non-negative")

// EncryptNumber encodes v as a tagged ciphertext.
func EncryptNumber(v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return "", fmt.Errorf("%w: %v", ErrOutOfDomain, v)
	}
	plain := strconv.FormatFloat(v, 'f', -1, 64)
	return Tag + base64.StdEncoding.EncodeToString([]byte(plain)), nil
}

// DecryptNumber reverses EncryptNumber. Untagged input is rejected rather
// than being read as plaintext.
func DecryptNumber(ciphertext string) (float64, error) {
	if !strings.HasPrefix(ciphertext, Tag) {
		return 0, fmt.Errorf("%w: ciphertext is missing the %q tag", types.ErrMalformedData, Tag)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, Tag))
	if err != nil {
		return 0, fmt.Errorf("%w: ciphertext payload: %v", types.ErrMalformedData, err)
	}
	if !decimal(raw) {
		return 0, fmt.Errorf("%w: ciphertext value %q is not a plain decimal", types.ErrMalformedData, raw)
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: ciphertext value: %v", types.ErrMalformedData, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("%w: %v", types.ErrMalformedData, ErrOutOfDomain)
	}
	return v, nil
}

// decimal reports whether raw has the shape EncryptNumber writes: digits
// with at most one decimal point.
func decimal(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	points := 0
	for _, b := range raw {
		switch {
		case b >= '0' && b <= '9':
		case b == '.':
			points++
		default:
			return false
		}
	}
	return points <= 1 && len(raw) > points
}
