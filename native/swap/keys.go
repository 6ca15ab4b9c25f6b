package swap

import "github.com/ethereum/go-ethereum/common"

var (
	poolPrefix   = []byte("swap/pool/")
	poolIndexKey = []byte("swap/pool/index")
)

// poolKey orders the pair so (a, b) and (b, a) address the same pool.
func poolKey(a, b common.Address) []byte {
	lo, hi := sortPair(a, b)
	buf := make([]byte, 0, len(poolPrefix)+2*common.AddressLength)
	buf = append(buf, poolPrefix...)
	buf = append(buf, lo.Bytes()...)
	return append(buf, hi.Bytes()...)
}
