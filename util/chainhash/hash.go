// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainhash

import (
	"encoding/hex"

	"github.com/pkg/errors"
)

// HashSize is the length in bytes of a Hash.
const HashSize = 32

// MaxHashStringSize is the maximum length of a Hash hash string.
const MaxHashStringSize = HashSize * 2

// ErrHashStrSize describes an error that indicates the caller specified a hash
// string that has too many characters.
var ErrHashStrSize = errors.Errorf("max hash string length is %d bytes", MaxHashStringSize)

// Hash is used in several of the chain messages and common structures. It
// typically represents the double sha256 of data.
type Hash [HashSize]byte

// TxHash is the secondary transaction digest (blake2b-256 over the full
// signed transaction). It indexes the same records as the transaction id but
// must never be conflated with it.
type TxHash [HashSize]byte

// ZeroHash is the Hash value of all zero bytes, used as the previous id of a
// genesis block.
var ZeroHash Hash

// String returns the Hash as the hexadecimal string of the hash.
func (hash Hash) String() string {
	return hex.EncodeToString(hash[:])
}

// String returns the TxHash as the hexadecimal string of the hash.
func (hash TxHash) String() string {
	return hex.EncodeToString(hash[:])
}

// CloneBytes returns a copy of the bytes which represent the hash as a byte
// slice.
func (hash *Hash) CloneBytes() []byte {
	newHash := make([]byte, HashSize)
	copy(newHash, hash[:])
	return newHash
}

// SetBytes sets the bytes which represent the hash. An error is returned if
// the number of bytes passed in is not HashSize.
func (hash *Hash) SetBytes(newHash []byte) error {
	nhlen := len(newHash)
	if nhlen != HashSize {
		return errors.Errorf("invalid hash length of %d, want %d", nhlen, HashSize)
	}
	copy(hash[:], newHash)
	return nil
}

// IsEqual returns true if target is the same as hash.
func (hash *Hash) IsEqual(target *Hash) bool {
	if hash == nil && target == nil {
		return true
	}
	if hash == nil || target == nil {
		return false
	}
	return *hash == *target
}

// IsZero returns true if the hash consists only of zero bytes.
func (hash *Hash) IsZero() bool {
	return *hash == ZeroHash
}

// NewHashFromStr creates a Hash from a hash string. The string may not have
// more characters than twice the HashSize.
func NewHashFromStr(src string) (*Hash, error) {
	if len(src) > MaxHashStringSize {
		return nil, ErrHashStrSize
	}
	if len(src)%2 != 0 {
		src = "0" + src
	}
	decoded, err := hex.DecodeString(src)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode hash string %s", src)
	}
	hash := &Hash{}
	copy(hash[HashSize-len(decoded):], decoded)
	return hash, nil
}
