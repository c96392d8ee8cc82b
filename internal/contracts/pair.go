package contracts

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SortTokens orders a token pair the way the DEX factory does, lowest
// address first.
func SortTokens(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) < 0 {
		return a, b
	}
	return b, a
}

// DerivePairAddress computes the CREATE2 pair address for a factory with a
// known init code hash. Used to cross-check PairCreated logs; a mismatch
// means the log came from a look-alike factory.
func DerivePairAddress(factory, tokenA, tokenB common.Address, initCodeHash common.Hash) common.Address {
	t0, t1 := SortTokens(tokenA, tokenB)
	salt := crypto.Keccak256(append(t0.Bytes(), t1.Bytes()...))

	buf := make([]byte, 0, 1+20+32+32)
	buf = append(buf, 0xff)
	buf = append(buf, factory.Bytes()...)
	buf = append(buf, salt...)
	buf = append(buf, initCodeHash.Bytes()...)
	return common.BytesToAddress(crypto.Keccak256(buf)[12:])
}
