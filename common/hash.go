package common

import (
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// ComputeHash computes the BLAKE2b hash of the given data
func ComputeHash(data []byte) []byte {
	hash := blake2b.Sum256(data)
	return hash[:]
}

func Blake2Hash(data []byte) Hash {
	return BytesToHash(ComputeHash(data))
}

func Keccak256(data ...[]byte) Hash {
	hash := sha3.NewLegacyKeccak256()
	for _, d := range data {
		hash.Write(d)
	}
	return BytesToHash(hash.Sum(nil))
}

// CeilWords returns the number of 32-byte words needed to hold size bytes.
func CeilWords(size uint64) uint64 {
	return (size + 31) / 32
}
