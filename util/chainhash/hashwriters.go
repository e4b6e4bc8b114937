package chainhash

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// HashWriter is used to incrementally hash data without concatenating all of
// the data to a single buffer. It exposes an io.Writer api and a Finalize
// function to get the resulting hash.
// HashWriter.Write(slice).Finalize == HashH(slice)
type HashWriter struct {
	inner hash.Hash
}

// DoubleHashWriter is used to incrementally double hash data without
// concatenating all of the data to a single buffer.
// DoubleHashWriter.Write(slice).Finalize == DoubleHashH(slice)
type DoubleHashWriter struct {
	inner hash.Hash
}

// TxHashWriter incrementally computes the secondary transaction digest.
type TxHashWriter struct {
	inner hash.Hash
}

// NewHashWriter returns a new HashWriter.
func NewHashWriter() *HashWriter {
	return &HashWriter{sha256.New()}
}

// Write will always return (len(p), nil).
func (h *HashWriter) Write(p []byte) (n int, err error) {
	return h.inner.Write(p)
}

// Finalize returns the resulting hash.
func (h *HashWriter) Finalize() Hash {
	res := Hash{}
	// Can never happen, sha256's Sum is 32 bytes.
	err := res.SetBytes(h.inner.Sum(nil))
	if err != nil {
		panic(fmt.Sprintf("Should never fail, sha256.Sum is 32 bytes and so is chainhash.Hash: '%+v'", err))
	}
	return res
}

// NewDoubleHashWriter returns a new DoubleHashWriter.
func NewDoubleHashWriter() *DoubleHashWriter {
	return &DoubleHashWriter{sha256.New()}
}

// Write will always return (len(p), nil).
func (h *DoubleHashWriter) Write(p []byte) (n int, err error) {
	return h.inner.Write(p)
}

// Finalize returns the resulting double hash.
func (h *DoubleHashWriter) Finalize() Hash {
	firstHashInTheSum := h.inner.Sum(nil)
	return sha256.Sum256(firstHashInTheSum)
}

// NewTxHashWriter returns a new TxHashWriter.
func NewTxHashWriter() *TxHashWriter {
	inner, err := blake2b.New256(nil)
	if err != nil {
		panic(fmt.Sprintf("Should never fail, unkeyed blake2b cannot error: '%+v'", err))
	}
	return &TxHashWriter{inner}
}

// Write will always return (len(p), nil).
func (h *TxHashWriter) Write(p []byte) (n int, err error) {
	return h.inner.Write(p)
}

// Finalize returns the resulting secondary transaction digest.
func (h *TxHashWriter) Finalize() TxHash {
	res := TxHash{}
	copy(res[:], h.inner.Sum(nil))
	return res
}

// HashH calculates the hash of the supplied bytes.
func HashH(b []byte) Hash {
	return sha256.Sum256(b)
}

// DoubleHashH calculates hash(hash(b)) and returns the resulting bytes as a
// Hash.
func DoubleHashH(b []byte) Hash {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

// TxHashH calculates the secondary transaction digest of the supplied bytes.
func TxHashH(b []byte) TxHash {
	return TxHash(blake2b.Sum256(b))
}
