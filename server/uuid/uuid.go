package uuid

import (
	"math/big"

	"github.com/google/uuid"
)

const alphabetBase62 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// New returns a random UUID encoded as base62. Used for sub-connection
// proposal ids and filter instance ids.
func New() string {
	value := uuid.New()

	return encodeBase62(value[:])
}

func encodeBase62(b []byte) string {
	var (
		num  big.Int
		rem  big.Int
		base = big.NewInt(int64(len(alphabetBase62)))
	)

	num.SetBytes(b)

	// A 128-bit value needs at most 22 base62 digits.
	out := make([]byte, 0, 22)

	for num.Sign() > 0 {
		num.DivMod(&num, base, &rem)
		out = append(out, alphabetBase62[rem.Int64()])
	}

	if len(out) == 0 {
		out = append(out, alphabetBase62[0])
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return string(out)
}
