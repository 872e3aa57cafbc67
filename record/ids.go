package record

import (
	"crypto/rand"
	"math/big"
	"strconv"
)

const (
	TokenIDNumber = "id.number"
	TokenIDString = "id.string"

	idMin = int64(100_000_000_000)
	idMax = int64(1_000_000_000_000)
)

// IDSource produces the random numeric ids behind the id.* tokens.
type IDSource interface {
	NewID() (int64, error)
}

// RandomIDs draws uniformly distributed 12-digit ids.
type RandomIDs struct{}

func (RandomIDs) NewID() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(idMax-idMin))
	if err != nil {
		return 0, err
	}
	return idMin + n.Int64(), nil
}

// EncodeID renders the numeric id as the opaque string form used by id.string.
func EncodeID(n int64) string {
	return strconv.FormatInt(n, 36)
}
