package chain

import (
	"fmt"
	"time"

	"github.com/kaspanet/go-secp256k1"
	"github.com/orbisnet/orbisd/wire"
	"github.com/pkg/errors"
)

// blockHeaderAllowance is the block size reserved for the header and the
// witness signature when packing transactions.
const blockHeaderAllowance = 512

// GenerateBlock assembles and signs a new block from the pending queue. The
// given time must fall into a slot scheduled for the given witness, and the
// signing key must match the witness's registered key. The returned block is
// not applied; the caller is expected to push it.
func (c *Chain) GenerateBlock(when time.Time, witnessID wire.WitnessID,
	signingKey *secp256k1.SchnorrKeyPair, flags BehaviorFlags) (*wire.SignedBlock, error) {

	slot := c.GetSlotAtTime(when)
	if slot == 0 {
		return nil, ruleError(ErrNotScheduled,
			"generation time precedes the first open slot")
	}
	if flags&BFSkipWitnessScheduleCheck == 0 {
		if scheduled := c.schedule.ScheduledWitness(c.store, slot); scheduled != witnessID {
			return nil, ruleError(ErrNotScheduled,
				fmt.Sprintf("slot at %s belongs to witness %d, not %d",
					when, scheduled, witnessID))
		}
	}
	witness, ok := c.store.Witness(witnessID)
	if !ok {
		return nil, ruleError(ErrWrongWitness,
			fmt.Sprintf("witness %d does not exist", witnessID))
	}
	if flags&BFSkipWitnessSignature == 0 {
		err := c.checkSigningKey(witness, signingKey)
		if err != nil {
			return nil, err
		}
	}

	genFlags := flags
	if !c.cfg.DeduceInVerificationMode {
		// Authority was already verified when the transactions entered
		// the pending queue.
		genFlags |= BFSkipAuthorityCheck
	}

	// The speculative pending state is rebuilt from scratch so that the
	// block's results come from a clean application against the head.
	if c.pendingSession != nil {
		c.pendingSession.Undo()
	}
	c.pendingSession = c.undo.StartSession()

	maxBlockSize := int(c.store.GlobalProperty().Parameters.MaximumBlockSize)
	totalSize := blockHeaderAllowance
	var blockTxs []*wire.ProcessedTransaction
	postponed, invalid := 0, 0

	for _, tx := range c.pending {
		if totalSize+tx.SerializeSize() >= maxBlockSize {
			postponed++
			continue
		}
		session := c.undo.StartSession()
		applied, _, err := c.applyTransaction(&tx.SignedTransaction, genFlags,
			ApplyModeProductionBlock)
		if err != nil {
			session.Undo()
			log.Debugf("Leaving transaction %s out of the block: %s", tx.ID(), err)
			invalid++
			continue
		}
		session.Merge()
		blockTxs = append(blockTxs, applied)
		totalSize += applied.SerializeSize()
	}
	if postponed > 0 {
		log.Infof("Postponed %d pending transactions past the block size limit",
			postponed)
	}
	if invalid > 0 {
		log.Debugf("Excluded %d invalid pending transactions", invalid)
	}

	// The block's state is rebuilt by the push below; the speculative
	// application above only produced the recorded results.
	c.pendingSession.Undo()
	c.pendingSession = nil

	header := wire.BlockHeader{
		Previous:              c.HeadBlockID(),
		Timestamp:             when,
		Witness:               witnessID,
		TransactionMerkleRoot: calcMerkleRoot(blockTxs),
	}
	if c.genesisPending {
		// The first block commits to the digest of the seeded state.
		header.Extensions = []string{c.store.Fingerprint().String()}
	}
	if flags&BFSkipWitnessSignature == 0 {
		err := signBlockHeader(&header, signingKey)
		if err != nil {
			return nil, err
		}
	}

	return &wire.SignedBlock{Header: header, Transactions: blockTxs}, nil
}

// checkSigningKey verifies that the key pair produces the witness's
// registered signing key.
func (c *Chain) checkSigningKey(witness *Witness, signingKey *secp256k1.SchnorrKeyPair) error {
	if signingKey == nil {
		return ruleError(ErrBadSigningKey, "no signing key provided")
	}
	pubKey, err := signingKey.SchnorrPublicKey()
	if err != nil {
		return errors.Wrap(err, "deriving the block signing public key")
	}
	serialized, err := pubKey.Serialize()
	if err != nil {
		return errors.Wrap(err, "serializing the block signing public key")
	}
	if string(serialized[:]) != string(witness.SigningKey) {
		return ruleError(ErrBadSigningKey,
			fmt.Sprintf("signing key does not match the registered key of "+
				"witness %d", witness.ID))
	}
	return nil
}

// signBlockHeader signs the header digest and installs the signature.
func signBlockHeader(header *wire.BlockHeader, signingKey *secp256k1.SchnorrKeyPair) error {
	digest := secp256k1.Hash(header.SigningDigest())
	sig, err := signingKey.SchnorrSign(&digest)
	if err != nil {
		return errors.Wrap(err, "signing the block header")
	}
	serialized := sig.Serialize()
	header.WitnessSignature = serialized[:]
	return nil
}
