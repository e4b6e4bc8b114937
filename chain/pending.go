package chain

import (
	"github.com/orbisnet/orbisd/wire"
	"github.com/pkg/errors"
)

// PushTransaction validates the transaction against the pending state and
// queues it for inclusion in the next produced block. The returned processed
// transaction carries the operation results of the speculative application.
func (c *Chain) PushTransaction(tx *wire.SignedTransaction, flags BehaviorFlags,
	state PushState) (*wire.ProcessedTransaction, error) {

	limit := int(c.cfg.MessageCacheSizeLimit)
	if state == PushFromMe && limit != 0 && len(c.pending) >= limit {
		return nil, ruleError(ErrPendingQueueFull,
			"pending transaction queue is at its cap")
	}

	// The pending session accumulates the speculative state of every
	// queued transaction. It stays open until a block is pushed or
	// produced.
	if c.pendingSession == nil {
		c.pendingSession = c.undo.StartSession()
	}

	session := c.undo.StartSession()

	mode := ApplyModePush
	var processed *wire.ProcessedTransaction
	if state == PushRePush {
		// A re-pushed transaction already ran on the branch it came
		// from. Its recorded results are kept as-is; only the chain
		// linkage checks are repeated against the new head.
		mode = ApplyModeRePush
		skip := flags
		if leadsWithShareFee(tx) {
			skip = BFSkipTransactionSignatures | BFSkipTaPoSCheck
		}
		if c.HeadBlockNum() > 0 {
			if skip&BFSkipTaPoSCheck == 0 && tx.AgreedTask == nil {
				err := c.checkTaPoS(tx)
				if err != nil {
					session.Undo()
					return nil, err
				}
			}
			err := c.checkExpiration(tx)
			if err != nil {
				session.Undo()
				return nil, err
			}
		}
		processed = &wire.ProcessedTransaction{SignedTransaction: *tx}
	} else {
		var err error
		processed, mode, err = c.applyTransaction(tx, flags, mode)
		if err != nil {
			session.Undo()
			return nil, err
		}
	}

	if state == PushRePush || mode == ApplyModeInvoke {
		// The speculative mutations of a re-push or a contract invoke
		// are discarded; only the dedup record survives into the
		// pending state.
		session.Undo()
		err := c.store.Create(&Transaction{
			Instance:   c.store.NewInstance(ObjectTypeTransaction),
			TrxID:      tx.ID(),
			TrxHash:    tx.Hash(),
			Expiration: tx.Expiration,
			Trx:        processed,
		})
		if err != nil {
			return nil, err
		}
	} else {
		session.Merge()
	}

	c.pending = append(c.pending, processed)
	c.pendingSize += tx.SerializeSize()
	if c.cfg.OnPendingTransaction != nil {
		c.cfg.OnPendingTransaction(processed)
	}
	return processed, nil
}

// PendingTransactions returns the current pending queue. The returned slice
// is shared; callers must not mutate it.
func (c *Chain) PendingTransactions() []*wire.ProcessedTransaction {
	return c.pending
}

// ClearPending drops every queued transaction and reverts the speculative
// state they built up.
func (c *Chain) ClearPending() {
	c.pending = nil
	c.pendingSize = 0
	if c.pendingSession != nil {
		c.pendingSession.Undo()
		c.pendingSession = nil
	}
}

// withoutPendingTransactions reverts the speculative pending state and
// returns a function that re-pushes the set-aside transactions, preceded by
// any transactions popped off the chain in the meantime. Re-pushes are best
// effort: transactions the new head state rejects are dropped.
func (c *Chain) withoutPendingTransactions() func() {
	pending := c.pending
	c.pending = nil
	c.pendingSize = 0
	if c.pendingSession != nil {
		c.pendingSession.Undo()
		c.pendingSession = nil
	}
	return func() {
		c.repushTransactions(pending)
	}
}

func (c *Chain) repushTransactions(pending []*wire.ProcessedTransaction) {
	popped := c.poppedTx
	c.poppedTx = nil
	for _, tx := range popped {
		if c.IsKnownTransaction(tx.ID()) {
			// The transaction made it into the new branch.
			continue
		}
		_, err := c.PushTransaction(&tx.SignedTransaction, BFNone, PushRePush)
		if err != nil {
			log.Debugf("Dropping popped transaction %s: %s", tx.ID(), err)
		}
	}
	for _, tx := range pending {
		if c.IsKnownTransaction(tx.ID()) {
			continue
		}
		_, err := c.PushTransaction(&tx.SignedTransaction, BFNone, PushRePush)
		if err != nil {
			log.Debugf("Dropping pending transaction %s: %s", tx.ID(), err)
		}
	}
}

// ValidateTransaction applies the transaction against the current pending
// state and reverts every mutation, returning the results it would produce.
func (c *Chain) ValidateTransaction(tx *wire.SignedTransaction) (*wire.ProcessedTransaction, error) {
	session := c.undo.StartSession()
	defer session.Rollback()

	processed, _, err := c.applyTransaction(tx, BFNone, ApplyModeValidate)
	return processed, err
}

// TryTransaction is a speculative run used by query surfaces: the
// transaction executes with signature checks relaxed and every mutation is
// reverted.
func (c *Chain) TryTransaction(tx *wire.SignedTransaction) (*wire.ProcessedTransaction, error) {
	session := c.undo.StartSession()
	defer session.Rollback()

	processed, _, err := c.applyTransaction(tx,
		BFSkipTransactionSignatures|BFSkipTaPoSCheck, ApplyModeJustTry)
	return processed, err
}

// PushProposal executes the operations of a fully approved proposal in place
// and removes it. It must run inside the undo session of the operation that
// granted the final approval; the proposal's mutations merge into it.
func (c *Chain) PushProposal(proposal *Proposal) (*wire.ProcessedTransaction, error) {
	processed := &wire.ProcessedTransaction{}
	processed.Operations = proposal.ProposedOps
	es := &EvalState{
		Chain: c,
		Store: c.store,
		Mode:  ApplyModePush,
		Trx:   &processed.SignedTransaction,
	}

	historyMark := len(c.appliedOps)
	session := c.undo.StartSession()
	defer session.Rollback()

	for i, op := range proposal.ProposedOps {
		c.currentOpInTrx = uint32(i)
		index := c.pushAppliedOperation(op)
		result, err := c.dispatchOperation(es, op)
		if err != nil {
			c.appliedOps = c.appliedOps[:historyMark]
			return nil, errors.Wrapf(err, "proposed operation %d", i)
		}
		c.setAppliedOperationResult(index, result)
		processed.OperationResults = append(processed.OperationResults, result)
	}

	err := c.store.Remove(proposal.ObjectID())
	if err != nil {
		c.appliedOps = c.appliedOps[:historyMark]
		return nil, err
	}
	session.Merge()
	return processed, nil
}
