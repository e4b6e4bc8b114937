package wire

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"time"

	"github.com/orbisnet/orbisd/util/chainhash"
	"github.com/pkg/errors"
)

// BlockID identifies a block. It is the double sha256 of the header without
// the witness signature, with the first four bytes overwritten by the
// big-endian block number so that the number can be recovered from the id
// alone.
type BlockID chainhash.Hash

// ZeroBlockID is the id used as the previous id of a genesis block.
var ZeroBlockID BlockID

// String returns the BlockID as a hexadecimal string.
func (id BlockID) String() string {
	return hex.EncodeToString(id[:])
}

// BlockNum returns the block number embedded in the id.
func (id BlockID) BlockNum() uint32 {
	return binary.BigEndian.Uint32(id[:4])
}

// TaPoSPrefix returns the little-endian uint32 at bytes [4:8) of the id.
// Transactions reference it to prove they were built on this fork.
func (id BlockID) TaPoSPrefix() uint32 {
	return binary.LittleEndian.Uint32(id[4:8])
}

// IsZero returns true if the id consists only of zero bytes.
func (id *BlockID) IsZero() bool {
	return *id == ZeroBlockID
}

// BlockHeader holds the witness-signed metadata of a block.
type BlockHeader struct {
	// Previous is the id of the block this one extends. Its embedded
	// number determines this block's number.
	Previous BlockID

	// Timestamp is the slot time the block was produced at, at second
	// granularity.
	Timestamp time.Time

	// Witness is the witness scheduled for the block's slot.
	Witness WitnessID

	// TransactionMerkleRoot commits to the block's transactions and their
	// results.
	TransactionMerkleRoot chainhash.Hash

	// WitnessSignature is the producing witness's schnorr signature over
	// the header digest.
	WitnessSignature []byte

	// Extensions carries opaque strings. The genesis block records its
	// initial state digest here.
	Extensions []string
}

// BlockNum returns the number of the block carrying this header, one more
// than the previous block's number.
func (h *BlockHeader) BlockNum() uint32 {
	return h.Previous.BlockNum() + 1
}

// serialize writes the header. The witness signature is only written when
// includeSignature is set so that the same routine serves both the signing
// digest and the full wire form.
func (h *BlockHeader) serialize(w io.Writer, includeSignature bool) error {
	_, err := w.Write(h.Previous[:])
	if err != nil {
		return errors.WithStack(err)
	}
	err = writeTimestamp(w, h.Timestamp)
	if err != nil {
		return err
	}
	err = writeUint64(w, uint64(h.Witness))
	if err != nil {
		return err
	}
	_, err = w.Write(h.TransactionMerkleRoot[:])
	if err != nil {
		return errors.WithStack(err)
	}
	err = writeUint64(w, uint64(len(h.Extensions)))
	if err != nil {
		return err
	}
	for _, ext := range h.Extensions {
		err = writeVarString(w, ext)
		if err != nil {
			return err
		}
	}
	if !includeSignature {
		return nil
	}
	return writeVarBytes(w, h.WitnessSignature)
}

// Serialize writes the full header including the witness signature.
func (h *BlockHeader) Serialize(w io.Writer) error {
	return h.serialize(w, true)
}

// SigningDigest computes the digest the witness signature commits to: the
// double sha256 of the header without the signature.
func (h *BlockHeader) SigningDigest() chainhash.Hash {
	writer := chainhash.NewDoubleHashWriter()
	// Hash writers never error.
	_ = h.serialize(writer, false)
	return writer.Finalize()
}

// BlockID computes the block's id from the header.
func (h *BlockHeader) BlockID() BlockID {
	digest := h.SigningDigest()
	id := BlockID(digest)
	binary.BigEndian.PutUint32(id[:4], h.BlockNum())
	return id
}

// Deserialize reads a full header from r.
func (h *BlockHeader) Deserialize(r io.Reader) error {
	_, err := io.ReadFull(r, h.Previous[:])
	if err != nil {
		return errors.WithStack(err)
	}
	h.Timestamp, err = readTimestamp(r)
	if err != nil {
		return err
	}
	witness, err := readUint64(r)
	if err != nil {
		return err
	}
	h.Witness = WitnessID(witness)
	_, err = io.ReadFull(r, h.TransactionMerkleRoot[:])
	if err != nil {
		return errors.WithStack(err)
	}
	extCount, err := readUint64(r)
	if err != nil {
		return err
	}
	if extCount > maxVarBytesLength {
		return errors.Errorf("too many header extensions [count %d]", extCount)
	}
	h.Extensions = make([]string, extCount)
	for i := range h.Extensions {
		h.Extensions[i], err = readVarString(r)
		if err != nil {
			return err
		}
	}
	h.WitnessSignature, err = readVarBytes(r)
	return err
}
