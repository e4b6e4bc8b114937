// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"github.com/orbisnet/orbisd/util/chainhash"
	"github.com/orbisnet/orbisd/wire"
)

// nextPowerOfTwo returns the next highest power of two from a given number
// if it is not already a power of two. This is a helper function used during
// the calculation of a merkle tree.
func nextPowerOfTwo(n int) int {
	// Return the number if it's already a power of 2.
	if n&(n-1) == 0 {
		return n
	}

	// Figure out and return the next power of two.
	exponent := uint(0)
	for n != 0 {
		n >>= 1
		exponent++
	}
	return 1 << exponent
}

// hashMerkleBranches takes two hashes, treated as the left and right tree
// nodes, and returns the hash of their concatenation. This is a helper
// function used to aid in the generation of a merkle tree.
func hashMerkleBranches(left, right *chainhash.Hash) *chainhash.Hash {
	// Concatenate the left and right nodes.
	var hash [chainhash.HashSize * 2]byte
	copy(hash[:chainhash.HashSize], left[:])
	copy(hash[chainhash.HashSize:], right[:])

	newHash := chainhash.DoubleHashH(hash[:])
	return &newHash
}

// buildMerkleTreeStore creates a merkle tree from a sequence of processed
// transactions, stores it using a linear array, and returns a slice of the
// backing array. The transaction digests commit to the operation results, so
// two blocks carrying the same transactions with different results have
// different roots.
//
// The root is the final entry; an empty transaction sequence yields a single
// zero-hash entry.
func buildMerkleTreeStore(transactions []*wire.ProcessedTransaction) []*chainhash.Hash {
	if len(transactions) == 0 {
		return []*chainhash.Hash{&chainhash.ZeroHash}
	}

	nextPoT := nextPowerOfTwo(len(transactions))
	arraySize := nextPoT*2 - 1
	merkles := make([]*chainhash.Hash, arraySize)

	for i, tx := range transactions {
		writer := chainhash.NewDoubleHashWriter()
		// Hash writers never error.
		_ = tx.Serialize(writer)
		digest := writer.Finalize()
		merkles[i] = &digest
	}

	offset := nextPoT
	for i := 0; i < arraySize-1; i += 2 {
		switch {
		// When there is no left child node, the parent is nil too.
		case merkles[i] == nil:
			merkles[offset] = nil

		// When there is no right child, the parent is generated by
		// hashing the concatenation of the left child with itself.
		case merkles[i+1] == nil:
			newHash := hashMerkleBranches(merkles[i], merkles[i])
			merkles[offset] = newHash

		// The normal case sets the parent node to the hash of the
		// concatenation of the left and right children.
		default:
			newHash := hashMerkleBranches(merkles[i], merkles[i+1])
			merkles[offset] = newHash
		}
		offset++
	}

	return merkles
}

// calcMerkleRoot computes the transaction merkle root committed to by a
// block header.
func calcMerkleRoot(transactions []*wire.ProcessedTransaction) chainhash.Hash {
	merkles := buildMerkleTreeStore(transactions)
	return *merkles[len(merkles)-1]
}
