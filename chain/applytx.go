package chain

import (
	"fmt"
	"time"

	"github.com/orbisnet/orbisd/util/chainhash"
	"github.com/orbisnet/orbisd/wire"
	"github.com/pkg/errors"
)

// maxTimePoint is the largest second-granularity timestamp the wire format
// can carry. Suspended crontabs park their next execution there.
var maxTimePoint = time.Unix(1<<32-1, 0)

// leadsWithShareFee reports whether the transaction's first operation is the
// system-internal contract fee share. Such transactions skip signature and
// TaPoS checks and are exempt from duplicate detection.
func leadsWithShareFee(tx *wire.SignedTransaction) bool {
	return len(tx.Operations) > 0 && tx.Operations[0].Tag() == wire.OpContractShareFee
}

// checkTaPoS verifies that the transaction references a block this chain
// actually contains.
func (c *Chain) checkTaPoS(tx *wire.SignedTransaction) error {
	summary, ok := c.store.BlockSummary(uint64(tx.RefBlockNum))
	if !ok {
		return ruleError(ErrTaPoSMismatch,
			fmt.Sprintf("no block summary at ring slot %d", tx.RefBlockNum))
	}
	if summary.BlockID.TaPoSPrefix() != tx.RefBlockPrefix {
		return ruleError(ErrTaPoSMismatch,
			fmt.Sprintf("transaction references prefix %08x but block summary "+
				"%d carries %08x", tx.RefBlockPrefix, tx.RefBlockNum,
				summary.BlockID.TaPoSPrefix()))
	}
	return nil
}

// checkExpiration verifies the transaction's expiration window against the
// current head time.
func (c *Chain) checkExpiration(tx *wire.SignedTransaction) error {
	now := c.HeadBlockTime()
	maximum := c.store.GlobalProperty().Parameters.MaximumTimeUntilExpiration
	if tx.Expiration.After(now.Add(maximum)) {
		return ruleError(ErrExpirationTooFar,
			fmt.Sprintf("transaction expiration %s is more than %s past the "+
				"head time %s", tx.Expiration, maximum, now))
	}
	if now.After(tx.Expiration) {
		return ruleError(ErrTransactionExpired,
			fmt.Sprintf("transaction expired at %s, head time is %s",
				tx.Expiration, now))
	}
	return nil
}

// fetchAgreedTask asserts that the transaction is the recorded executor of
// its referenced task and that the task is currently executable, then
// performs the task's scheduling bookkeeping. It returns the crontab id for
// the post-pass, or nil for proposals.
func (c *Chain) fetchAgreedTask(tx *wire.SignedTransaction, trxHash chainhash.TxHash) (*ObjectID, error) {
	now := c.HeadBlockTime()
	task := tx.AgreedTask

	switch task.Kind {
	case wire.AgreedTaskProposal:
		proposal, ok := c.store.Proposal(task.Instance)
		if !ok {
			return nil, ruleError(ErrAgreedTaskNotExecutable,
				fmt.Sprintf("proposal %d does not exist", task.Instance))
		}
		if proposal.TaskHash != trxHash {
			return nil, ruleError(ErrAgreedTaskMismatch,
				fmt.Sprintf("transaction is not the recorded executor of "+
					"proposal %d", task.Instance))
		}
		if !proposal.AllowExecution {
			return nil, ruleError(ErrAgreedTaskNotExecutable,
				fmt.Sprintf("proposal %d is not approved for execution",
					task.Instance))
		}
		if now.After(proposal.ExpirationTime) {
			return nil, ruleError(ErrAgreedTaskNotExecutable,
				fmt.Sprintf("proposal %d expired at %s", task.Instance,
					proposal.ExpirationTime))
		}
		err := c.store.Modify(proposal.ObjectID(), func(obj Object) {
			obj.(*Proposal).AllowExecution = false
		})
		return nil, err

	case wire.AgreedTaskCrontab:
		crontab, ok := c.store.Crontab(task.Instance)
		if !ok {
			return nil, ruleError(ErrAgreedTaskNotExecutable,
				fmt.Sprintf("crontab %d does not exist", task.Instance))
		}
		if crontab.TaskHash != trxHash {
			return nil, ruleError(ErrAgreedTaskMismatch,
				fmt.Sprintf("transaction is not the recorded executor of "+
					"crontab %d", task.Instance))
		}
		switch {
		case !crontab.AllowExecution:
			return nil, ruleError(ErrAgreedTaskNotExecutable,
				fmt.Sprintf("crontab %d is not approved for execution",
					task.Instance))
		case crontab.IsSuspended:
			return nil, ruleError(ErrAgreedTaskNotExecutable,
				fmt.Sprintf("crontab %d is suspended", task.Instance))
		case crontab.NextExecteTime.After(now):
			return nil, ruleError(ErrAgreedTaskNotExecutable,
				fmt.Sprintf("crontab %d is not due until %s", task.Instance,
					crontab.NextExecteTime))
		case crontab.AlreadyExecuteTimes >= crontab.ScheduledExecuteTimes:
			return nil, ruleError(ErrAgreedTaskNotExecutable,
				fmt.Sprintf("crontab %d already ran its %d scheduled times",
					task.Instance, crontab.ScheduledExecuteTimes))
		}
		id := crontab.ObjectID()
		lifeCycle := c.store.GlobalProperty().Parameters.AssignedTaskLifeCycle
		err := c.store.Modify(id, func(obj Object) {
			due := obj.(*Crontab)
			due.LastExecuteTime = now
			due.NextExecteTime = due.NextExecteTime.Add(
				time.Duration(due.ExecuteInterval) * time.Second)
			due.AlreadyExecuteTimes++
			due.ExpirationTime = now.Add(lifeCycle)
		})
		if err != nil {
			return nil, err
		}
		return &id, nil
	}
	return nil, ruleError(ErrAgreedTaskMismatch,
		fmt.Sprintf("unknown agreed task kind %d", task.Kind))
}

// applyTransaction runs the transaction against the store under the
// caller's open undo session and returns the processed transaction carrying
// the operation results. The returned mode reflects any mid-transaction
// switch to invoke mode. Callers own the enclosing session; a returned
// error leaves tx-level mutations captured there for the caller to revert.
func (c *Chain) applyTransaction(tx *wire.SignedTransaction, flags BehaviorFlags,
	mode ApplyMode) (*wire.ProcessedTransaction, ApplyMode, error) {

	shareFee := leadsWithShareFee(tx)
	if shareFee {
		flags |= BFSkipTransactionSignatures | BFSkipTaPoSCheck
	}

	if flags&BFSkipBlockSizeCheck == 0 {
		maxBlockSize := c.store.GlobalProperty().Parameters.MaximumBlockSize
		limit := uint64(maxBlockSize) * uint64(c.cfg.OpMaxsizeProportionPercent) / 100
		if size := uint64(tx.SerializeSize()); size >= limit {
			return nil, mode, ruleError(ErrTransactionOversize,
				fmt.Sprintf("transaction size %d exceeds the per-transaction "+
					"limit %d", size, limit))
		}
	}

	if flags&BFSkipValidate == 0 {
		if len(tx.Operations) == 0 {
			return nil, mode, ruleError(ErrInvalidOperation,
				"transaction carries no operations")
		}
		for i, op := range tx.Operations {
			err := op.Validate()
			if err != nil {
				return nil, mode, ruleError(ErrInvalidOperation,
					fmt.Sprintf("operation %d: %s", i, err))
			}
			if depth := operationDepth(op); depth > maxOperationNesting {
				return nil, mode, ruleError(ErrInvalidOperation,
					fmt.Sprintf("operation %d nests %d levels deep, limit is %d",
						i, depth, maxOperationNesting))
			}
		}
	}

	trxID := tx.ID()
	trxHash := tx.Hash()

	if flags&BFSkipTransactionDupeCheck == 0 && !shareFee {
		if _, exists := c.store.TransactionByID(trxID); exists {
			return nil, mode, ruleError(ErrDuplicateTransaction,
				"transaction "+trxID.String()+" was already applied")
		}
	}

	isAgreedTask := tx.AgreedTask != nil
	var crontabID *ObjectID
	if isAgreedTask {
		var err error
		crontabID, err = c.fetchAgreedTask(tx, trxHash)
		if err != nil {
			return nil, mode, err
		}
	} else if flags&(BFSkipTransactionSignatures|BFSkipAuthorityCheck) == 0 {
		err := c.verifyAuthority(tx)
		if err != nil {
			return nil, mode, err
		}
	}

	if c.HeadBlockNum() > 0 && !isAgreedTask {
		if flags&BFSkipTaPoSCheck == 0 {
			err := c.checkTaPoS(tx)
			if err != nil {
				return nil, mode, err
			}
		}
		err := c.checkExpiration(tx)
		if err != nil {
			return nil, mode, err
		}
	}

	processed := &wire.ProcessedTransaction{SignedTransaction: *tx}

	if mode == ApplyModeApplyBlock || mode == ApplyModeProductionBlock {
		// A crontab re-runs the identical transaction, so an existing
		// in-block record moves to the transaction's latest position.
		var err error
		if tib, ok := c.store.TransactionInBlock(trxHash); ok {
			err = c.store.Modify(tib.ObjectID(), func(obj Object) {
				record := obj.(*TransactionInBlock)
				record.BlockNum = c.currentBlockNum
				record.TrxInBlock = c.currentTrxInBlock
			})
		} else {
			err = c.store.Create(&TransactionInBlock{
				Instance:   c.store.NewInstance(ObjectTypeTransactionInBlock),
				TrxHash:    trxHash,
				BlockNum:   c.currentBlockNum,
				TrxInBlock: c.currentTrxInBlock,
			})
		}
		if err != nil {
			return nil, mode, err
		}
	}

	// Fee-share transactions are always recorded even when the caller asked
	// to skip duplicate bookkeeping.
	if flags&BFSkipTransactionDupeCheck == 0 || shareFee {
		err := c.store.Create(&Transaction{
			Instance:   c.store.NewInstance(ObjectTypeTransaction),
			TrxID:      trxID,
			TrxHash:    trxHash,
			Expiration: tx.Expiration,
			Trx:        processed,
		})
		if err != nil {
			return nil, mode, err
		}
	}

	entryMode := mode
	es := &EvalState{Chain: c, Store: c.store, Mode: mode, Skip: flags, Trx: tx}
	autoGasActive := !c.HeadBlockTime().Before(c.params.AutoGasHardForkTime)
	gassed := make(map[wire.AccountID]struct{})
	var totalRunTime uint64

	for i, op := range tx.Operations {
		c.currentOpInTrx = uint32(i)
		index := c.pushAppliedOperation(op)

		opSession := c.undo.StartSession()
		result, err := c.dispatchOperation(es, op)
		if err != nil {
			opSession.Undo()
			if !isAgreedTask {
				return nil, mode, errors.Wrapf(err, "operation %d (%s) failed",
					i, op.Tag())
			}
			// An agreed task already consumed its execution slot; a
			// failing operation is recorded, not replayed.
			log.Debugf("agreed task operation %d (%s) failed: %s", i, op.Tag(), err)
			result = &wire.ErrorResult{
				Code:    ruleErrorCode(err),
				Message: err.Error(),
			}
		} else {
			opSession.Merge()
		}

		c.setAppliedOperationResult(index, result)
		processed.OperationResults = append(processed.OperationResults, result)
		totalRunTime += result.RealRunTime()

		if contract, ok := result.(*wire.ContractResult); ok &&
			contract.ExistedPV && mode != ApplyModeInvoke {
			mode = ApplyModeInvoke
			es.Mode = mode
		}

		if autoGasActive && err == nil {
			c.maybeAutoGas(es, op, result, gassed, processed)
		}
	}

	if entryMode != ApplyModeApplyBlock {
		interval := c.store.GlobalProperty().Parameters.BlockInterval
		limit := uint64(interval*3/4) / uint64(time.Microsecond)
		if totalRunTime >= limit {
			return nil, mode, ruleError(ErrRunTimeExceeded,
				fmt.Sprintf("transaction ran %dus, limit is %dus",
					totalRunTime, limit))
		}
	}

	if crontabID != nil {
		err := c.settleCrontabRun(*crontabID, processed.OperationResults)
		if err != nil {
			return nil, mode, err
		}
	}

	return processed, mode, nil
}

// ruleErrorCode extracts the numeric rule error code from an evaluator
// error, zero when the failure was not a rule violation.
func ruleErrorCode(err error) uint32 {
	var rerr RuleError
	if errors.As(err, &rerr) {
		return uint32(rerr.ErrorCode)
	}
	return 0
}

// maybeAutoGas synthesizes a vesting withdrawal funding the gas of a
// successful transfer or contract call. It fires at most once per distinct
// paying account within a transaction and never fails the transaction.
func (c *Chain) maybeAutoGas(es *EvalState, op wire.Operation,
	result wire.OperationResult, gassed map[wire.AccountID]struct{},
	processed *wire.ProcessedTransaction) {

	if result.ResultTag() == wire.ResultError {
		return
	}
	var from wire.AccountID
	switch o := op.(type) {
	case *wire.TransferOperation:
		from = o.From
	case *wire.CallContractOperation:
		from = o.Caller
	default:
		return
	}
	if _, done := gassed[from]; done {
		return
	}
	gassed[from] = struct{}{}

	balance, ok := c.store.FirstVestingBalance(from, c.params.CoreAssetID)
	if !ok {
		return
	}
	amount := balance.AllowedWithdraw(c.HeadBlockTime())
	if amount <= c.params.AutoGasMinimumThreshold {
		return
	}

	withdraw := &wire.VestingBalanceWithdrawOperation{
		VestingBalance: wire.VestingBalanceID(balance.Instance),
		Owner:          from,
		Amount:         wire.Asset{Amount: amount, AssetID: c.params.CoreAssetID},
	}
	index := c.pushAppliedOperation(withdraw)
	session := c.undo.StartSession()
	gasResult, err := c.dispatchOperation(es, withdraw)
	if err != nil {
		session.Undo()
		log.Debugf("auto gas withdrawal for account %d failed: %s", from, err)
		return
	}
	session.Merge()
	c.setAppliedOperationResult(index, gasResult)
	processed.OperationResults = append(processed.OperationResults, gasResult)
}

// settleCrontabRun updates the crontab's failure bookkeeping after its task
// ran. Crossing the suspension threshold parks the task until the
// expiration sweep collects it.
func (c *Chain) settleCrontabRun(id ObjectID, results []wire.OperationResult) error {
	anyError := false
	for _, result := range results {
		if result.ResultTag() == wire.ResultError {
			anyError = true
			break
		}
	}
	params := c.store.GlobalProperty().Parameters
	now := c.HeadBlockTime()
	return c.store.Modify(id, func(obj Object) {
		crontab := obj.(*Crontab)
		if !anyError {
			crontab.ContinuousFailureTimes = 0
			return
		}
		crontab.ContinuousFailureTimes++
		if crontab.ContinuousFailureTimes >= params.CrontabSuspendThreshold {
			log.Infof("suspending crontab %d after %d consecutive failures",
				crontab.Instance, crontab.ContinuousFailureTimes)
			crontab.IsSuspended = true
			crontab.NextExecteTime = maxTimePoint
			crontab.ExpirationTime = now.Add(params.CrontabSuspendExpiration)
		}
	})
}
