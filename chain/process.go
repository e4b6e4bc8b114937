package chain

import (
	"github.com/orbisnet/orbisd/wire"
	"github.com/pkg/errors"
)

// PushBlock processes a new block arriving from the network or from the
// local producer. It returns true when the block caused a fork switch, that
// is, when the chain head no longer extends the head it had on entry.
//
// Pending transactions are set aside for the duration of the push and
// re-applied afterwards on a best effort basis: any pending transaction the
// new head made invalid is dropped.
func (c *Chain) PushBlock(block *wire.SignedBlock, flags BehaviorFlags) (bool, error) {
	restorePending := c.withoutPendingTransactions()
	defer restorePending()

	return c.pushBlock(block, flags)
}

func (c *Chain) pushBlock(block *wire.SignedBlock, flags BehaviorFlags) (bool, error) {
	if flags&BFSkipForkDB != 0 {
		// Replay path. The block is trusted to extend the head and is
		// applied without being tracked by the fork database.
		return false, c.applyLinear(block, flags)
	}

	previousHeadID := c.HeadBlockID()
	newHead, err := c.forkDB.PushBlock(block)
	if err != nil {
		return false, err
	}

	if newHead.ID == previousHeadID {
		// The block landed on a shorter fork, or was already the head.
		// Nothing to apply.
		return false, nil
	}

	if newHead.Block.Header.Previous == previousHeadID {
		// The new head extends the current head.
		err := c.applyLinear(newHead.Block, flags)
		if err != nil {
			// The block is invalid and must not stay in the fork
			// window, where it would attract descendants.
			c.forkDB.Remove(newHead.ID)
			if item, ok := c.forkDB.FetchBlock(previousHeadID); ok {
				c.forkDB.SetHead(item)
			}
			return false, err
		}
		return false, nil
	}

	if newHead.Num > c.HeadBlockNum() {
		// The block tipped a longer fork. Switch to it. A failed switch
		// is fully reverted, so the head did not move.
		err := c.switchForks(newHead, flags)
		if err != nil {
			return false, err
		}
		return true, nil
	}

	return false, nil
}

// applyLinear applies a block that extends the current head, stores it in
// the block log and seals its state on the undo stack.
func (c *Chain) applyLinear(block *wire.SignedBlock, flags BehaviorFlags) error {
	session := c.undo.StartSession()
	defer session.Rollback()

	err := c.applyBlock(block, flags)
	if err != nil {
		return err
	}
	err = c.blockLog.Store(block.BlockID(), block)
	if err != nil {
		return errors.Wrapf(err, "storing block %d", block.BlockNum())
	}
	session.Commit()
	return nil
}

// switchForks reorganizes the chain onto the fork tipped by newHead. When a
// block of the new branch turns out invalid, every block of the new branch
// is evicted from the fork window and the old branch is restored; the error
// of the offending block is returned.
func (c *Chain) switchForks(newHead *ForkItem, flags BehaviorFlags) error {
	log.Infof("Switching to fork %s at height %d", newHead.ID, newHead.Num)

	newBranch, oldBranch, err := c.forkDB.FetchBranchFrom(newHead.ID, c.HeadBlockID())
	if err != nil {
		return err
	}

	// Pop the old branch back to the common ancestor. The popped
	// transactions are queued for re-push once the switch settles.
	for range oldBranch {
		err := c.popApplied()
		if err != nil {
			return err
		}
	}
	c.forkDB.SetHead(c.ancestorItem(newBranch, oldBranch))

	// Both branches are ordered tip first. Apply the new branch from the
	// oldest block up.
	for i := len(newBranch) - 1; i >= 0; i-- {
		item := newBranch[i]
		err := c.applyLinear(item.Block, flags)
		if err == nil {
			c.forkDB.SetHead(item)
			continue
		}

		log.Warnf("Block %s on fork is invalid, reverting the switch: %s",
			item.ID, err)

		// Unwind whatever part of the new branch was applied, then evict
		// the whole branch from the fork window so none of its blocks can
		// attract descendants or win a later head comparison.
		for applied := len(newBranch) - 1; applied > i; applied-- {
			popErr := c.popApplied()
			if popErr != nil {
				return popErr
			}
		}
		for j := len(newBranch) - 1; j >= 0; j-- {
			c.forkDB.Remove(newBranch[j].ID)
		}
		c.forkDB.SetHead(c.ancestorItem(nil, oldBranch))

		// Restore the old branch with the caller's flags so the rebuilt
		// state matches the state popped above exactly.
		for j := len(oldBranch) - 1; j >= 0; j-- {
			restoreErr := c.applyLinear(oldBranch[j].Block, flags)
			if restoreErr != nil {
				return errors.Wrap(restoreErr, "restoring the original fork failed")
			}
			c.forkDB.SetHead(oldBranch[j])
		}
		return err
	}
	return nil
}

// ancestorItem returns the fork item of the common ancestor of the two
// branches, nil when the ancestor already left the fork window.
func (c *Chain) ancestorItem(newBranch, oldBranch []*ForkItem) *ForkItem {
	var ancestorID wire.BlockID
	switch {
	case len(oldBranch) > 0:
		ancestorID = oldBranch[len(oldBranch)-1].Previous()
	case len(newBranch) > 0:
		ancestorID = newBranch[len(newBranch)-1].Previous()
	default:
		ancestorID = c.HeadBlockID()
	}
	item, _ := c.forkDB.FetchBlock(ancestorID)
	return item
}

// popApplied reverts the state of the current head block without touching
// the fork database head and queues the block's transactions for re-push.
// The caller is responsible for repositioning the fork database.
func (c *Chain) popApplied() error {
	headID := c.HeadBlockID()
	item, ok := c.forkDB.FetchBlock(headID)
	if !ok {
		return ruleError(ErrPreviousBlockUnknown,
			"head block "+headID.String()+" left the fork window")
	}
	c.poppedTx = append(c.poppedTx, item.Block.Transactions...)
	c.undo.PopCommit()
	return nil
}

// PopBlock removes the head block, reverting its state changes and queueing
// its transactions for re-push. Popping is bounded by the fork window.
func (c *Chain) PopBlock() error {
	if c.HeadBlockNum() == 0 {
		return ruleError(ErrEmptyChain, "no blocks to pop")
	}
	headID := c.HeadBlockID()
	item, ok := c.forkDB.FetchBlock(headID)
	if !ok {
		return ruleError(ErrPreviousBlockUnknown,
			"head block "+headID.String()+" left the fork window")
	}
	err := c.forkDB.PopBlock()
	if err != nil {
		return err
	}
	c.poppedTx = append(c.poppedTx, item.Block.Transactions...)
	c.undo.PopCommit()
	return nil
}
