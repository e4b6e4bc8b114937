package wire

import (
	"io"

	"github.com/pkg/errors"
)

// maxBlockTransactions is a sanity bound on the number of transactions read
// from a serialized block.
const maxBlockTransactions = 1 << 20

// SignedBlock is a witness-signed block: a header plus the processed
// transactions it carries.
type SignedBlock struct {
	Header BlockHeader

	Transactions []*ProcessedTransaction
}

// BlockNum returns the block's number.
func (b *SignedBlock) BlockNum() uint32 {
	return b.Header.BlockNum()
}

// BlockID returns the block's id, computed from the header.
func (b *SignedBlock) BlockID() BlockID {
	return b.Header.BlockID()
}

// Serialize writes the full block.
func (b *SignedBlock) Serialize(w io.Writer) error {
	err := b.Header.Serialize(w)
	if err != nil {
		return err
	}
	err = writeUint64(w, uint64(len(b.Transactions)))
	if err != nil {
		return err
	}
	for _, tx := range b.Transactions {
		err = tx.Serialize(w)
		if err != nil {
			return err
		}
	}
	return nil
}

// SerializeSize returns the number of bytes Serialize would write.
func (b *SignedBlock) SerializeSize() int {
	cw := &countingWriter{}
	// countingWriter never errors.
	_ = b.Serialize(cw)
	return cw.n
}

// Deserialize reads a full block from r.
func (b *SignedBlock) Deserialize(r io.Reader) error {
	err := b.Header.Deserialize(r)
	if err != nil {
		return err
	}
	txCount, err := readUint64(r)
	if err != nil {
		return err
	}
	if txCount > maxBlockTransactions {
		return errors.Errorf("too many transactions in block [count %d, max %d]",
			txCount, maxBlockTransactions)
	}
	b.Transactions = make([]*ProcessedTransaction, txCount)
	for i := range b.Transactions {
		tx := &ProcessedTransaction{}
		err = tx.Deserialize(r)
		if err != nil {
			return err
		}
		b.Transactions[i] = tx
	}
	return nil
}
