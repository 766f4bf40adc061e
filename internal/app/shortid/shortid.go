// Package shortid produces the opaque, URL-safe identifiers that address
// short-link records.
package shortid

import "crypto/rand"

// alphabet is the URL-safe set used for identifiers. 64 characters, so a
// random byte mod len(alphabet) is unbiased.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// Length is the number of characters in a generated identifier. 64^5 is
// roughly a billion combinations; collisions are possible and are handled
// by the store's uniqueness constraint, not by pre-checking.
const Length = 5

// Generator issues random short identifiers.
type Generator interface {
	Generate() string
}

type generator struct {
	length int
}

// NewGenerator returns a Generator producing identifiers of the default length.
func NewGenerator() Generator {
	return &generator{length: Length}
}

func (g *generator) Generate() string {
	buf := make([]byte, g.length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(err)
	}
	for i, b := range buf {
		buf[i] = alphabet[b%byte(len(alphabet))]
	}
	return string(buf)
}

// Valid reports whether s has identifier syntax: 4 to 15 characters, all
// drawn from the URL-safe alphabet. Used when resolving analytics queries
// that may carry either an identifier or a full URL.
func Valid(s string) bool {
	if len(s) < 4 || len(s) > 15 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

var _ Generator = (*generator)(nil)
