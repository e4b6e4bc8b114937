package chain

import (
	"fmt"
	"sort"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/orbisnet/orbisd/infrastructure/logger"
	"github.com/orbisnet/orbisd/wire"
	"github.com/pkg/errors"
)

// irreversibleThresholdPercent is the share of active witnesses that must
// have confirmed a block number before it is considered irreversible.
const irreversibleThresholdPercent = 70

// applyBlock connects the block to the current head under the caller's open
// undo session. A returned error leaves captured mutations for the caller
// to revert.
func (c *Chain) applyBlock(block *wire.SignedBlock, flags BehaviorFlags) error {
	blockNum := block.BlockNum()

	// At or beneath the highest checkpoint history is known good; replay with
	// every check skipped.
	if blockNum <= c.lastCheckpoint {
		flags = BFAll
	}
	if want, ok := c.checkpoints[blockNum]; ok {
		if got := block.BlockID(); got != want {
			return ruleError(ErrCheckpointMismatch,
				fmt.Sprintf("block %d has id %s, checkpoint requires %s",
					blockNum, got, want))
		}
	}

	if flags&BFSkipMerkleCheck == 0 {
		root := calcMerkleRoot(block.Transactions)
		if root != block.Header.TransactionMerkleRoot {
			return ruleError(ErrBadMerkleRoot,
				fmt.Sprintf("block merkle root %s does not match computed %s",
					block.Header.TransactionMerkleRoot, root))
		}
	}

	err := c.validateBlockHeader(block, flags)
	if err != nil {
		return err
	}

	dgp := c.store.DynamicGlobalProperty()
	maintenanceNeeded := !dgp.NextMaintenanceTime.After(block.Header.Timestamp)

	// The head slot advances once the dynamic properties are updated, so
	// the block's absolute slot is computed up front.
	slot := c.GetSlotAtTime(block.Header.Timestamp)

	c.clearAppliedOperations()
	c.currentBlockNum = blockNum

	for i, processed := range block.Transactions {
		if len(processed.OperationResults) == 0 {
			return ruleError(ErrEmptyOperationResults,
				fmt.Sprintf("transaction %d carries no operation results", i))
		}
		c.currentTrxInBlock = uint32(i)
		applied, _, err := c.applyTransaction(&processed.SignedTransaction,
			flags|BFSkipAuthorityCheck, ApplyModeApplyBlock)
		if err != nil {
			return errors.Wrapf(err, "transaction %d of block %d", i, blockNum)
		}
		if processed.AgreedTask != nil &&
			!wire.OperationResultsEqual(applied.OperationResults, processed.OperationResults) {
			log.Tracef("agreed task result mismatch in block %d: recorded %s, produced %s",
				blockNum, spew.Sdump(processed.OperationResults),
				spew.Sdump(applied.OperationResults))
			return ruleError(ErrResultMismatch,
				fmt.Sprintf("transaction %d agreed task results do not match "+
					"the recorded results", i))
		}
	}

	err = c.updateGlobalDynamicData(block, slot)
	if err != nil {
		return err
	}
	err = c.updateSigningWitness(block)
	if err != nil {
		return err
	}
	err = c.updateLastIrreversibleBlock()
	if err != nil {
		return err
	}
	if maintenanceNeeded {
		err = c.performChainMaintenance(block)
		if err != nil {
			return err
		}
	}
	err = c.createBlockSummary(block)
	if err != nil {
		return err
	}
	err = c.clearExpired(block.Header.Timestamp)
	if err != nil {
		return err
	}
	err = c.updateMaintenanceFlag(maintenanceNeeded)
	if err != nil {
		return err
	}
	err = c.schedule.UpdateSchedule(c.store, block)
	if err != nil {
		return errors.Wrap(err, "witness schedule update failed")
	}

	c.genesisPending = false

	if c.cfg.AppliedBlock != nil {
		c.cfg.AppliedBlock(block)
	}
	c.clearAppliedOperations()
	c.notifyChangedObjects()
	return nil
}

// validateBlockHeader checks the header against the current head and the
// witness schedule.
func (c *Chain) validateBlockHeader(block *wire.SignedBlock, flags BehaviorFlags) error {
	header := &block.Header

	if header.Previous != c.HeadBlockID() {
		return ruleError(ErrWrongPrevious,
			fmt.Sprintf("block extends %s, head is %s", header.Previous,
				c.HeadBlockID()))
	}
	if !header.Timestamp.After(c.HeadBlockTime()) {
		return ruleError(ErrTimestampRegression,
			fmt.Sprintf("block timestamp %s does not advance past the head "+
				"time %s", header.Timestamp, c.HeadBlockTime()))
	}

	witness, ok := c.store.Witness(header.Witness)
	if !ok {
		return ruleError(ErrWrongWitness,
			fmt.Sprintf("block names unknown witness %d", header.Witness))
	}
	if flags&BFSkipWitnessSignature == 0 {
		err := verifySchnorrSignature(witness.SigningKey,
			header.WitnessSignature, header.SigningDigest())
		if err != nil {
			return ruleError(ErrBadWitnessSignature,
				fmt.Sprintf("witness %d signature rejected: %s",
					header.Witness, err))
		}
	}
	if flags&BFSkipWitnessScheduleCheck == 0 {
		slot := c.GetSlotAtTime(header.Timestamp)
		if slot == 0 {
			return ruleError(ErrNotScheduled,
				"block timestamp precedes the first open slot")
		}
		if scheduled := c.schedule.ScheduledWitness(c.store, slot); scheduled != header.Witness {
			return ruleError(ErrNotScheduled,
				fmt.Sprintf("slot belongs to witness %d, block was produced "+
					"by %d", scheduled, header.Witness))
		}
	}
	return nil
}

// updateGlobalDynamicData advances the dynamic global properties to the new
// head and charges witnesses whose slots passed without a block.
func (c *Chain) updateGlobalDynamicData(block *wire.SignedBlock, slot uint64) error {
	for missed := uint64(1); missed < slot; missed++ {
		witnessID := c.schedule.ScheduledWitness(c.store, missed)
		if witnessID == block.Header.Witness {
			continue
		}
		witness, ok := c.store.Witness(witnessID)
		if !ok {
			continue
		}
		err := c.store.Modify(witness.ObjectID(), func(obj Object) {
			obj.(*Witness).TotalMissed++
		})
		if err != nil {
			return err
		}
	}
	return c.store.Modify(c.store.DynamicGlobalProperty().ObjectID(), func(obj Object) {
		dgp := obj.(*DynamicGlobalProperty)
		dgp.HeadBlockNumber = block.BlockNum()
		dgp.HeadBlockID = block.BlockID()
		dgp.Time = block.Header.Timestamp
		dgp.CurrentWitness = block.Header.Witness
		dgp.CurrentASlot += slot
	})
}

// updateSigningWitness records the block on its producer.
func (c *Chain) updateSigningWitness(block *wire.SignedBlock) error {
	witness, ok := c.store.Witness(block.Header.Witness)
	if !ok {
		return errors.Errorf("signing witness %d disappeared during block "+
			"application", block.Header.Witness)
	}
	return c.store.Modify(witness.ObjectID(), func(obj Object) {
		obj.(*Witness).LastConfirmedBlockNum = block.BlockNum()
	})
}

// updateLastIrreversibleBlock raises the irreversibility mark to the block
// number confirmed by the witness supermajority.
func (c *Chain) updateLastIrreversibleBlock() error {
	active := c.store.GlobalProperty().ActiveWitnesses
	if len(active) == 0 {
		return nil
	}
	confirmed := make([]uint32, 0, len(active))
	for _, id := range active {
		witness, ok := c.store.Witness(id)
		if !ok {
			continue
		}
		confirmed = append(confirmed, witness.LastConfirmedBlockNum)
	}
	if len(confirmed) == 0 {
		return nil
	}
	sort.Slice(confirmed, func(i, j int) bool { return confirmed[i] < confirmed[j] })
	offset := (len(confirmed) * (100 - irreversibleThresholdPercent)) / 100
	irreversible := confirmed[offset]

	dgp := c.store.DynamicGlobalProperty()
	if irreversible <= dgp.LastIrreversibleBlockNum {
		return nil
	}
	return c.store.Modify(dgp.ObjectID(), func(obj Object) {
		obj.(*DynamicGlobalProperty).LastIrreversibleBlockNum = irreversible
	})
}

// performChainMaintenance runs the configured maintenance hook and advances
// the next maintenance time past the block.
func (c *Chain) performChainMaintenance(block *wire.SignedBlock) error {
	defer logger.LogAndMeasureExecutionTime(log, "performChainMaintenance")()
	if c.cfg.MaintenanceHook != nil {
		err := c.cfg.MaintenanceHook(c.store, block)
		if err != nil {
			return errors.Wrap(err, "chain maintenance failed")
		}
	}
	interval := c.store.GlobalProperty().Parameters.MaintenanceInterval
	return c.store.Modify(c.store.DynamicGlobalProperty().ObjectID(), func(obj Object) {
		dgp := obj.(*DynamicGlobalProperty)
		for !dgp.NextMaintenanceTime.After(block.Header.Timestamp) {
			dgp.NextMaintenanceTime = dgp.NextMaintenanceTime.Add(interval)
		}
	})
}

// createBlockSummary stores the block id in the TaPoS reference ring.
func (c *Chain) createBlockSummary(block *wire.SignedBlock) error {
	ringSlot := uint64(block.BlockNum() & 0xFFFF)
	return c.store.Modify(ObjectID{Type: ObjectTypeBlockSummary, Instance: ringSlot},
		func(obj Object) {
			obj.(*BlockSummary).BlockID = block.BlockID()
		})
}

// clearExpired sweeps objects whose lifetime ended at or before the given
// block time.
func (c *Chain) clearExpired(now time.Time) error {
	var expired []ObjectID

	c.store.ForEach(ObjectTypeTransaction, func(obj Object) bool {
		record := obj.(*Transaction)
		if !record.Expiration.After(now) {
			expired = append(expired, record.ObjectID())
		}
		return true
	})
	c.store.ForEach(ObjectTypeProposal, func(obj Object) bool {
		proposal := obj.(*Proposal)
		if !proposal.ExpirationTime.After(now) {
			expired = append(expired, proposal.ObjectID())
		}
		return true
	})
	c.store.ForEach(ObjectTypeCrontab, func(obj Object) bool {
		crontab := obj.(*Crontab)
		exhausted := crontab.AlreadyExecuteTimes >= crontab.ScheduledExecuteTimes
		lapsed := !crontab.ExpirationTime.IsZero() && !crontab.ExpirationTime.After(now)
		if exhausted || lapsed {
			expired = append(expired, crontab.ObjectID())
		}
		return true
	})
	c.store.ForEach(ObjectTypeTemporaryAuthority, func(obj Object) bool {
		grant := obj.(*TemporaryAuthority)
		if !grant.ExpirationTime.After(now) {
			expired = append(expired, grant.ObjectID())
		}
		return true
	})

	for _, id := range expired {
		err := c.store.Remove(id)
		if err != nil {
			return err
		}
	}
	return nil
}

// updateMaintenanceFlag records whether this block crossed a maintenance
// boundary.
func (c *Chain) updateMaintenanceFlag(maintenanceNeeded bool) error {
	return c.store.Modify(c.store.DynamicGlobalProperty().ObjectID(), func(obj Object) {
		obj.(*DynamicGlobalProperty).MaintenanceFlag = maintenanceNeeded
	})
}
