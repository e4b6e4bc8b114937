package chain

import (
	"github.com/orbisnet/orbisd/wire"
)

// OperationHistory records one applied operation and where in the current
// block it ran. Virtual operations synthesized by the applier share the
// buffer with explicit ones.
type OperationHistory struct {
	Op     wire.Operation
	Result wire.OperationResult

	BlockNum   uint32
	TrxInBlock uint32
	OpInTrx    uint32
	VirtualOp  uint32
}

// appliedOperations is the per-block buffer of operation history records.
// It grows while a block is applied and is cleared at block boundaries.
type appliedOperations []*OperationHistory

// pushAppliedOperation appends a history record for the operation at the
// current application position and returns its index. The result is filled
// in later, once the evaluator has run.
func (c *Chain) pushAppliedOperation(op wire.Operation) int {
	record := &OperationHistory{
		Op:         op,
		BlockNum:   c.currentBlockNum,
		TrxInBlock: c.currentTrxInBlock,
		OpInTrx:    c.currentOpInTrx,
		VirtualOp:  c.currentVirtualOp,
	}
	c.currentVirtualOp++
	c.appliedOps = append(c.appliedOps, record)
	return len(c.appliedOps) - 1
}

// setAppliedOperationResult fills the result of a previously pushed record.
func (c *Chain) setAppliedOperationResult(index int, result wire.OperationResult) {
	if index < 0 || index >= len(c.appliedOps) {
		log.Warnf("applied operation index %d out of range (%d records)",
			index, len(c.appliedOps))
		return
	}
	c.appliedOps[index].Result = result
}

// AppliedOperations returns the history records accumulated since the last
// block boundary. The returned slice is shared; callers must not mutate it.
func (c *Chain) AppliedOperations() []*OperationHistory {
	return c.appliedOps
}

// clearAppliedOperations resets the buffer and the per-block application
// position counters.
func (c *Chain) clearAppliedOperations() {
	c.appliedOps = c.appliedOps[:0]
	c.currentTrxInBlock = 0
	c.currentOpInTrx = 0
	c.currentVirtualOp = 0
}
