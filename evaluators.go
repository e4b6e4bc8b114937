package main

import (
	"github.com/orbisnet/orbisd/chain"
	"github.com/orbisnet/orbisd/wire"
	"github.com/pkg/errors"
)

// registerEvaluators installs the operation evaluators the daemon ships
// with. Contract execution needs a contract runtime this build does not
// carry, so the two contract operations reject with a clear error instead
// of silently succeeding.
func registerEvaluators(core *chain.Chain) {
	core.RegisterEvaluator(wire.OpTransfer, transferEvaluator{})
	core.RegisterEvaluator(wire.OpCallContract, noRuntimeEvaluator{})
	core.RegisterEvaluator(wire.OpContractShareFee, noRuntimeEvaluator{})
	core.RegisterEvaluator(wire.OpVestingBalanceWithdraw, vestingWithdrawEvaluator{})
	core.RegisterEvaluator(wire.OpProposalCreate, proposalCreateEvaluator{})
	core.RegisterEvaluator(wire.OpCrontabCreate, crontabCreateEvaluator{})
}

// transferEvaluator moves balances between two existing accounts.
type transferEvaluator struct{}

func (transferEvaluator) Evaluate(es *chain.EvalState, op wire.Operation, apply bool) (wire.OperationResult, error) {
	transfer := op.(*wire.TransferOperation)
	from, ok := es.Store.Account(transfer.From)
	if !ok {
		return nil, errors.Errorf("sending account %d does not exist", transfer.From)
	}
	if _, ok := es.Store.Account(transfer.To); !ok {
		return nil, errors.Errorf("receiving account %d does not exist", transfer.To)
	}
	if from.Balance(transfer.Amount.AssetID) < transfer.Amount.Amount {
		return nil, errors.Errorf("account %d cannot cover %d of asset %d",
			transfer.From, transfer.Amount.Amount, transfer.Amount.AssetID)
	}
	if !apply {
		return &wire.VoidResult{}, nil
	}
	err := es.Store.Modify(from.ObjectID(), func(obj chain.Object) {
		obj.(*chain.Account).Balances[transfer.Amount.AssetID] -= transfer.Amount.Amount
	})
	if err != nil {
		return nil, err
	}
	toID := chain.ObjectID{
		Type:     chain.ObjectTypeAccount,
		Instance: uint64(transfer.To),
	}
	err = es.Store.Modify(toID, func(obj chain.Object) {
		account := obj.(*chain.Account)
		if account.Balances == nil {
			account.Balances = make(map[wire.AssetID]int64)
		}
		account.Balances[transfer.Amount.AssetID] += transfer.Amount.Amount
	})
	if err != nil {
		return nil, err
	}
	return &wire.VoidResult{}, nil
}

// vestingWithdrawEvaluator releases the vested part of a vesting balance to
// its owner. The applier synthesizes this operation for auto-gas, so its
// checks must hold for both user-submitted and synthesized runs.
type vestingWithdrawEvaluator struct{}

func (vestingWithdrawEvaluator) Evaluate(es *chain.EvalState, op wire.Operation, apply bool) (wire.OperationResult, error) {
	withdraw := op.(*wire.VestingBalanceWithdrawOperation)
	balance, ok := es.Store.VestingBalance(uint64(withdraw.VestingBalance))
	if !ok {
		return nil, errors.Errorf("vesting balance %d does not exist",
			withdraw.VestingBalance)
	}
	if balance.Owner != withdraw.Owner {
		return nil, errors.Errorf("vesting balance %d is not owned by account %d",
			withdraw.VestingBalance, withdraw.Owner)
	}
	if balance.Balance.AssetID != withdraw.Amount.AssetID {
		return nil, errors.Errorf("vesting balance %d holds asset %d, not %d",
			withdraw.VestingBalance, balance.Balance.AssetID, withdraw.Amount.AssetID)
	}
	allowed := balance.AllowedWithdraw(es.Chain.HeadBlockTime())
	if withdraw.Amount.Amount > allowed {
		return nil, errors.Errorf("vesting balance %d allows withdrawing %d, not %d",
			withdraw.VestingBalance, allowed, withdraw.Amount.Amount)
	}
	if !apply {
		return &wire.VoidResult{}, nil
	}
	err := es.Store.Modify(balance.ObjectID(), func(obj chain.Object) {
		obj.(*chain.VestingBalance).Balance.Amount -= withdraw.Amount.Amount
	})
	if err != nil {
		return nil, err
	}
	ownerID := chain.ObjectID{
		Type:     chain.ObjectTypeAccount,
		Instance: uint64(withdraw.Owner),
	}
	err = es.Store.Modify(ownerID, func(obj chain.Object) {
		account := obj.(*chain.Account)
		if account.Balances == nil {
			account.Balances = make(map[wire.AssetID]int64)
		}
		account.Balances[withdraw.Amount.AssetID] += withdraw.Amount.Amount
	})
	if err != nil {
		return nil, err
	}
	return &wire.VoidResult{}, nil
}

// proposalCreateEvaluator records a proposal object awaiting approval.
type proposalCreateEvaluator struct{}

func (proposalCreateEvaluator) Evaluate(es *chain.EvalState, op wire.Operation, apply bool) (wire.OperationResult, error) {
	create := op.(*wire.ProposalCreateOperation)
	if _, ok := es.Store.Account(create.FeePayingAccount); !ok {
		return nil, errors.Errorf("fee paying account %d does not exist",
			create.FeePayingAccount)
	}
	if !create.ExpirationTime.After(es.Chain.HeadBlockTime()) {
		return nil, errors.New("proposal expiration is not in the future")
	}
	if !apply {
		return &wire.VoidResult{}, nil
	}
	err := es.Store.Create(&chain.Proposal{
		Instance:         es.Store.NewInstance(chain.ObjectTypeProposal),
		FeePayingAccount: create.FeePayingAccount,
		ExpirationTime:   create.ExpirationTime,
		ProposedOps:      create.ProposedOps,
	})
	if err != nil {
		return nil, err
	}
	return &wire.VoidResult{}, nil
}

// crontabCreateEvaluator records a crontab object ready to run at its start
// time.
type crontabCreateEvaluator struct{}

func (crontabCreateEvaluator) Evaluate(es *chain.EvalState, op wire.Operation, apply bool) (wire.OperationResult, error) {
	create := op.(*wire.CrontabCreateOperation)
	if _, ok := es.Store.Account(create.CrontabCreator); !ok {
		return nil, errors.Errorf("crontab creator %d does not exist",
			create.CrontabCreator)
	}
	if create.StartTime.Before(es.Chain.HeadBlockTime()) {
		return nil, errors.New("crontab start time is in the past")
	}
	if !apply {
		return &wire.VoidResult{}, nil
	}
	lifeCycle := es.Store.GlobalProperty().Parameters.AssignedTaskLifeCycle
	err := es.Store.Create(&chain.Crontab{
		Instance:              es.Store.NewInstance(chain.ObjectTypeCrontab),
		Creator:               create.CrontabCreator,
		CrontabOps:            create.CrontabOps,
		StartTime:             create.StartTime,
		ExecuteInterval:       create.ExecuteInterval,
		ScheduledExecuteTimes: create.ScheduledExecuteTimes,
		NextExecteTime:        create.StartTime,
		ExpirationTime:        create.StartTime.Add(lifeCycle),
		AllowExecution:        true,
	})
	if err != nil {
		return nil, err
	}
	return &wire.VoidResult{}, nil
}

// noRuntimeEvaluator rejects operations that need the contract runtime.
type noRuntimeEvaluator struct{}

func (noRuntimeEvaluator) Evaluate(es *chain.EvalState, op wire.Operation, apply bool) (wire.OperationResult, error) {
	return nil, errors.Errorf("operation %s needs a contract runtime, "+
		"which this build does not include", op.Tag())
}
