// Package codec renders record ids as short public names over a fixed alphabet.
package codec

import (
	"errors"
	"fmt"
	"math/big"
)

// DefaultAlphabet is the character set used for public names. Its order is
// part of the persistent URL contract and must not change once links exist.
const DefaultAlphabet = "DEQhd2uFteibPwq0SWBInTpA_jcZL5GKz3YCR14Ulk87Jors9vNHgfaOmMXy6Vx-"

var (
	ErrEmpty       = errors.New("codec: empty input")
	ErrInvalidChar = errors.New("codec: character not in alphabet")
	ErrNegative    = errors.New("codec: negative value")
	ErrBadAlphabet = errors.New("codec: alphabet must have at least two distinct characters")
)

// Codec converts non-negative integers to and from base-N strings.
type Codec struct {
	alphabet []rune
	index    map[rune]int64
	base     *big.Int
	minLen   int
}

// New builds a Codec. minLen pads encoded output with the first alphabet character.
func New(alphabet string, minLen int) (*Codec, error) {
	runes := []rune(alphabet)
	if len(runes) < 2 {
		return nil, ErrBadAlphabet
	}
	idx := make(map[rune]int64, len(runes))
	for i, r := range runes {
		if _, dup := idx[r]; dup {
			return nil, fmt.Errorf("%w: duplicate %q", ErrBadAlphabet, r)
		}
		idx[r] = int64(i)
	}
	if minLen < 1 {
		minLen = 1
	}
	return &Codec{
		alphabet: runes,
		index:    idx,
		base:     big.NewInt(int64(len(runes))),
		minLen:   minLen,
	}, nil
}

// MustNew is New for package-level defaults; it panics on a bad alphabet.
func MustNew(alphabet string, minLen int) *Codec {
	c, err := New(alphabet, minLen)
	if err != nil {
		panic(err)
	}
	return c
}

// Encode returns the most-significant-digit-first representation of n.
func (c *Codec) Encode(n *big.Int) (string, error) {
	if n.Sign() < 0 {
		return "", ErrNegative
	}
	var digits []rune
	q := new(big.Int).Set(n)
	r := new(big.Int)
	for q.Sign() > 0 {
		q.QuoRem(q, c.base, r)
		digits = append(digits, c.alphabet[r.Int64()])
	}
	for len(digits) < c.minLen {
		digits = append(digits, c.alphabet[0])
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits), nil
}

// EncodeUint64 is Encode for record ids.
func (c *Codec) EncodeUint64(n uint64) string {
	s, _ := c.Encode(new(big.Int).SetUint64(n))
	return s
}

// Decode parses s back into an integer. Leading padding characters are zero digits.
func (c *Codec) Decode(s string) (*big.Int, error) {
	if s == "" {
		return nil, ErrEmpty
	}
	n := new(big.Int)
	for _, ch := range s {
		d, ok := c.index[ch]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidChar, ch)
		}
		n.Mul(n, c.base)
		n.Add(n, big.NewInt(d))
	}
	return n, nil
}

// DecodeUint64 decodes s and requires the result to fit a record id.
func (c *Codec) DecodeUint64(s string) (uint64, error) {
	n, err := c.Decode(s)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("codec: %q out of range", s)
	}
	return n.Uint64(), nil
}
