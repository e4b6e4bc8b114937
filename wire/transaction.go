package wire

import (
	"io"
	"time"

	"github.com/orbisnet/orbisd/util/chainhash"
	"github.com/pkg/errors"
)

// maxTxSignatures is a sanity bound on the number of signatures carried by a
// single transaction.
const maxTxSignatures = 1 << 10

// AgreedTaskKind identifies the source of an agreed task transaction.
type AgreedTaskKind uint8

// The agreed task kinds.
const (
	// AgreedTaskProposal marks a transaction generated from an approved
	// proposal.
	AgreedTaskProposal AgreedTaskKind = iota

	// AgreedTaskCrontab marks a transaction generated from a due crontab.
	AgreedTaskCrontab
)

// AgreedTask links a transaction back to the on-chain object that scheduled
// it. Agreed task transactions skip TaPoS, expiration, signature and
// duplicate checks because the chain itself produced them.
type AgreedTask struct {
	Kind     AgreedTaskKind
	Instance uint64
}

// Signature is a single schnorr signature over the transaction signing
// digest, together with the serialized public key that produced it.
type Signature struct {
	PublicKey []byte
	Signature []byte
}

// SignedTransaction is a transaction together with the signatures that
// authorize it.
type SignedTransaction struct {
	// RefBlockNum is the low 16 bits of the referenced block number, used
	// with RefBlockPrefix for TaPoS validation.
	RefBlockNum uint16

	// RefBlockPrefix is the little-endian uint32 read from bytes [4:8) of
	// the referenced block id.
	RefBlockPrefix uint32

	// Expiration is the time after which the transaction may no longer be
	// included in a block.
	Expiration time.Time

	Operations []Operation
	Signatures []Signature

	// AgreedTask is non-nil for transactions the chain generated itself
	// from an approved proposal or a due crontab.
	AgreedTask *AgreedTask
}

// ProcessedTransaction is a transaction together with the per-operation
// results produced when it was applied.
type ProcessedTransaction struct {
	SignedTransaction

	OperationResults []OperationResult
}

// serialize writes the transaction. Signatures are only written when
// includeSignatures is set so that the same routine serves both the identity
// digest and the full wire form.
func (tx *SignedTransaction) serialize(w io.Writer, includeSignatures bool) error {
	err := writeUint16(w, tx.RefBlockNum)
	if err != nil {
		return err
	}
	err = writeUint32(w, tx.RefBlockPrefix)
	if err != nil {
		return err
	}
	err = writeTimestamp(w, tx.Expiration)
	if err != nil {
		return err
	}
	err = writeOperations(w, tx.Operations)
	if err != nil {
		return err
	}
	if tx.AgreedTask != nil {
		err = writeUint8(w, 1)
		if err != nil {
			return err
		}
		err = writeUint8(w, uint8(tx.AgreedTask.Kind))
		if err != nil {
			return err
		}
		err = writeUint64(w, tx.AgreedTask.Instance)
		if err != nil {
			return err
		}
	} else {
		err = writeUint8(w, 0)
		if err != nil {
			return err
		}
	}
	if !includeSignatures {
		return nil
	}
	err = writeUint64(w, uint64(len(tx.Signatures)))
	if err != nil {
		return err
	}
	for _, sig := range tx.Signatures {
		err = writeVarBytes(w, sig.PublicKey)
		if err != nil {
			return err
		}
		err = writeVarBytes(w, sig.Signature)
		if err != nil {
			return err
		}
	}
	return nil
}

// Serialize writes the full transaction including its signatures.
func (tx *SignedTransaction) Serialize(w io.Writer) error {
	return tx.serialize(w, true)
}

// SerializeUnsigned writes the transaction without its signatures. This is
// the form the transaction id and the signing digest are computed over.
func (tx *SignedTransaction) SerializeUnsigned(w io.Writer) error {
	return tx.serialize(w, false)
}

// SerializeSize returns the number of bytes Serialize would write.
func (tx *SignedTransaction) SerializeSize() int {
	cw := &countingWriter{}
	// countingWriter never errors.
	_ = tx.Serialize(cw)
	return cw.n
}

// ID computes the transaction id, the double sha256 of the transaction
// serialized without signatures. Two transactions with the same operations
// but different signatures share an id.
func (tx *SignedTransaction) ID() chainhash.Hash {
	writer := chainhash.NewDoubleHashWriter()
	// Hash writers never error.
	_ = tx.SerializeUnsigned(writer)
	return writer.Finalize()
}

// Hash computes the secondary transaction digest over the full signed
// transaction. Unlike the id, it changes when the signature set changes.
func (tx *SignedTransaction) Hash() chainhash.TxHash {
	writer := chainhash.NewTxHashWriter()
	_ = tx.Serialize(writer)
	return writer.Finalize()
}

// SigningDigest computes the digest signatures commit to: the double sha256
// of the chain id followed by the transaction serialized without signatures.
// Folding the chain id in prevents signatures from being replayed across
// chains.
func (tx *SignedTransaction) SigningDigest(chainID chainhash.Hash) chainhash.Hash {
	writer := chainhash.NewDoubleHashWriter()
	_, _ = writer.Write(chainID[:])
	_ = tx.SerializeUnsigned(writer)
	return writer.Finalize()
}

// Deserialize reads a full signed transaction from r.
func (tx *SignedTransaction) Deserialize(r io.Reader) error {
	var err error
	tx.RefBlockNum, err = readUint16(r)
	if err != nil {
		return err
	}
	tx.RefBlockPrefix, err = readUint32(r)
	if err != nil {
		return err
	}
	tx.Expiration, err = readTimestamp(r)
	if err != nil {
		return err
	}
	tx.Operations, err = readOperations(r)
	if err != nil {
		return err
	}
	hasTask, err := readUint8(r)
	if err != nil {
		return err
	}
	switch hasTask {
	case 0:
		tx.AgreedTask = nil
	case 1:
		task := &AgreedTask{}
		kind, err := readUint8(r)
		if err != nil {
			return err
		}
		task.Kind = AgreedTaskKind(kind)
		task.Instance, err = readUint64(r)
		if err != nil {
			return err
		}
		tx.AgreedTask = task
	default:
		return errors.Errorf("invalid agreed task marker %d", hasTask)
	}
	sigCount, err := readUint64(r)
	if err != nil {
		return err
	}
	if sigCount > maxTxSignatures {
		return errors.Errorf("too many signatures [count %d, max %d]",
			sigCount, maxTxSignatures)
	}
	tx.Signatures = make([]Signature, sigCount)
	for i := range tx.Signatures {
		tx.Signatures[i].PublicKey, err = readVarBytes(r)
		if err != nil {
			return err
		}
		tx.Signatures[i].Signature, err = readVarBytes(r)
		if err != nil {
			return err
		}
	}
	return nil
}

// Serialize writes the processed transaction: the signed transaction followed
// by its operation results.
func (tx *ProcessedTransaction) Serialize(w io.Writer) error {
	err := tx.SignedTransaction.Serialize(w)
	if err != nil {
		return err
	}
	return writeOperationResults(w, tx.OperationResults)
}

// SerializeSize returns the number of bytes Serialize would write.
func (tx *ProcessedTransaction) SerializeSize() int {
	cw := &countingWriter{}
	_ = tx.Serialize(cw)
	return cw.n
}

// Deserialize reads a processed transaction from r.
func (tx *ProcessedTransaction) Deserialize(r io.Reader) error {
	err := tx.SignedTransaction.Deserialize(r)
	if err != nil {
		return err
	}
	tx.OperationResults, err = readOperationResults(r)
	return err
}
