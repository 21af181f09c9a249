// Package randstring produces random strings for OAuth2 state
// parameters and generated secrets.
package randstring

import (
	"crypto/rand"
	"math/big"
)

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var max = big.NewInt(int64(len(letters)))

// RandString produces a cryptographically random string of length n
// drawn from letters and digits. It panics if the system random source
// fails, since no safe fallback exists.
func RandString(n int) string {
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("randstring: random source failed: " + err.Error())
		}
		b[i] = letters[idx.Int64()]
	}
	return string(b)
}
