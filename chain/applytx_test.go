package chain

import (
	"testing"
	"time"

	"github.com/kaspanet/go-secp256k1"
	"github.com/orbisnet/orbisd/chaincfg"
	"github.com/orbisnet/orbisd/wire"
	"github.com/pkg/errors"
)

func TestPushTransactionTransfer(t *testing.T) {
	h := newTestHarness(t, "apply-transfer", nil)

	tx := h.pushTransferTx(1, 2, 100)
	if got := h.balance(1); got != testBalance-100 {
		t.Fatalf("pending state did not debit the sender: balance %d", got)
	}
	if got := h.balance(2); got != testBalance+100 {
		t.Fatalf("pending state did not credit the receiver: balance %d", got)
	}

	h.produceBlock()
	if h.chain.HeadBlockNum() != 1 {
		t.Fatalf("wrong head number: got %d, want 1", h.chain.HeadBlockNum())
	}
	if got := h.balance(1); got != testBalance-100 {
		t.Fatalf("block application lost the transfer: balance %d", got)
	}
	if !h.chain.IsKnownTransaction(tx.ID()) {
		t.Fatal("applied transaction is not known by id")
	}
	info, ok := h.chain.GetTransactionInBlockInfo(tx.Hash())
	if !ok {
		t.Fatal("no in-block record for the applied transaction")
	}
	if info.BlockNum != 1 || info.TrxInBlock != 0 {
		t.Fatalf("wrong in-block position: block %d index %d",
			info.BlockNum, info.TrxInBlock)
	}
}

func TestPushTransactionUnauthorized(t *testing.T) {
	h := newTestHarness(t, "apply-unauthorized", nil)

	tx := h.newTx(&wire.TransferOperation{
		From:   1,
		To:     2,
		Amount: wire.Asset{Amount: 100, AssetID: h.params.CoreAssetID},
	})
	h.signTx(tx, 2)
	_, err := h.chain.PushTransaction(tx, BFNone, PushFromMe)
	checkRuleError(t, err, ErrUnauthorized)

	unsigned := h.newTx(&wire.TransferOperation{
		From:   1,
		To:     2,
		Amount: wire.Asset{Amount: 200, AssetID: h.params.CoreAssetID},
	})
	_, err = h.chain.PushTransaction(unsigned, BFNone, PushFromMe)
	checkRuleError(t, err, ErrUnauthorized)

	if got := h.balance(1); got != testBalance {
		t.Fatalf("rejected transactions moved funds: balance %d", got)
	}
}

func TestPushTransactionTemporaryAuthority(t *testing.T) {
	h := newTestHarness(t, "apply-temp-authority", nil)
	altKey, altPub := testKeyPair(t, 99)
	now := h.chain.HeadBlockTime()

	h.seedObject(&TemporaryAuthority{
		Instance:       1,
		Account:        1,
		Keys:           [][]byte{altPub},
		ExpirationTime: now.Add(time.Hour),
	})
	h.seedObject(&TemporaryAuthority{
		Instance:       2,
		Account:        2,
		Keys:           [][]byte{altPub},
		ExpirationTime: now.Add(-time.Hour),
	})

	tx := h.newTx(&wire.TransferOperation{
		From:   1,
		To:     2,
		Amount: wire.Asset{Amount: 100, AssetID: h.params.CoreAssetID},
	})
	digest := secp256k1.Hash(tx.SigningDigest(h.params.ChainID))
	h.appendSignature(tx, &digest, altKey)
	_, err := h.chain.PushTransaction(tx, BFNone, PushFromMe)
	if err != nil {
		t.Fatalf("push under a granted temporary authority: %+v", err)
	}

	expired := h.newTx(&wire.TransferOperation{
		From:   2,
		To:     1,
		Amount: wire.Asset{Amount: 50, AssetID: h.params.CoreAssetID},
	})
	digest = secp256k1.Hash(expired.SigningDigest(h.params.ChainID))
	h.appendSignature(expired, &digest, altKey)
	_, err = h.chain.PushTransaction(expired, BFNone, PushFromMe)
	checkRuleError(t, err, ErrUnauthorized)
}

func TestPushTransactionTaPoSMismatch(t *testing.T) {
	h := newTestHarness(t, "apply-tapos", nil)
	h.produceBlock()

	tx := h.newTx(&wire.TransferOperation{
		From:   1,
		To:     2,
		Amount: wire.Asset{Amount: 100, AssetID: h.params.CoreAssetID},
	})
	tx.RefBlockPrefix++
	h.signTx(tx, 1)
	_, err := h.chain.PushTransaction(tx, BFNone, PushFromMe)
	checkRuleError(t, err, ErrTaPoSMismatch)
}

func TestPushTransactionExpiration(t *testing.T) {
	h := newTestHarness(t, "apply-expiration", nil)
	h.produceBlock()

	expired := h.newTx(&wire.TransferOperation{
		From:   1,
		To:     2,
		Amount: wire.Asset{Amount: 100, AssetID: h.params.CoreAssetID},
	})
	expired.Expiration = h.chain.HeadBlockTime().Add(-time.Second)
	h.signTx(expired, 1)
	_, err := h.chain.PushTransaction(expired, BFNone, PushFromMe)
	checkRuleError(t, err, ErrTransactionExpired)
	if h.chain.IsKnownTransaction(expired.ID()) {
		t.Fatal("rejected transaction was recorded")
	}

	tooFar := h.newTx(&wire.TransferOperation{
		From:   1,
		To:     2,
		Amount: wire.Asset{Amount: 200, AssetID: h.params.CoreAssetID},
	})
	tooFar.Expiration = h.chain.HeadBlockTime().
		Add(h.params.MaximumTimeUntilExpiration + time.Hour)
	h.signTx(tooFar, 1)
	_, err = h.chain.PushTransaction(tooFar, BFNone, PushFromMe)
	checkRuleError(t, err, ErrExpirationTooFar)
}

func TestPushTransactionDuplicate(t *testing.T) {
	h := newTestHarness(t, "apply-duplicate", nil)

	tx := h.transferTx(1, 2, 100)
	_, err := h.chain.PushTransaction(tx, BFNone, PushFromMe)
	if err != nil {
		t.Fatalf("first push: %+v", err)
	}
	_, err = h.chain.PushTransaction(tx, BFNone, PushFromMe)
	checkRuleError(t, err, ErrDuplicateTransaction)
}

func TestPushTransactionShareFeeLead(t *testing.T) {
	h := newTestHarness(t, "apply-share-fee", nil)

	for i := 0; i < 2; i++ {
		tx := h.newTx(&wire.ContractShareFeeOperation{
			Contract: 1,
			FeeTotal: wire.Asset{Amount: int64(5 + i), AssetID: h.params.CoreAssetID},
		})
		_, err := h.chain.PushTransaction(tx, BFNone, PushFromMe)
		if err != nil {
			t.Fatalf("fee share push %d: %+v", i+1, err)
		}
		// Fee share transactions skip duplicate detection but are still
		// recorded for lookup.
		if !h.chain.IsKnownTransaction(tx.ID()) {
			t.Fatalf("fee share transaction %d was not recorded", i+1)
		}
	}
	if h.shareFeeEval.calls != 2 {
		t.Fatalf("fee share evaluator ran %d times, want 2", h.shareFeeEval.calls)
	}
}

func TestPushTransactionOversize(t *testing.T) {
	h := newTestHarness(t, "apply-oversize", func(p *chaincfg.Params) {
		p.MaximumBlockSize = 1024
	})

	tx := h.transferTx(1, 2, 100)
	_, err := h.chain.PushTransaction(tx, BFNone, PushFromMe)
	checkRuleError(t, err, ErrTransactionOversize)
}

func TestPushTransactionInvalidOperations(t *testing.T) {
	h := newTestHarness(t, "apply-invalid-ops", nil)

	empty := h.newTx()
	_, err := h.chain.PushTransaction(empty, BFNone, PushFromMe)
	checkRuleError(t, err, ErrInvalidOperation)

	// Nesting a proposal inside a proposal exceeds the two-level operation
	// nesting limit.
	expiration := h.chain.HeadBlockTime().Add(time.Hour)
	inner := &wire.ProposalCreateOperation{
		FeePayingAccount: 1,
		ExpirationTime:   expiration,
		ProposedOps: []wire.Operation{&wire.TransferOperation{
			From:   1,
			To:     2,
			Amount: wire.Asset{Amount: 100, AssetID: h.params.CoreAssetID},
		}},
	}
	deep := h.newTx(&wire.ProposalCreateOperation{
		FeePayingAccount: 1,
		ExpirationTime:   expiration,
		ProposedOps:      []wire.Operation{inner},
	})
	h.signTx(deep, 1)
	_, err = h.chain.PushTransaction(deep, BFNone, PushFromMe)
	checkRuleError(t, err, ErrInvalidOperation)
}

func TestPushTransactionRunTimeExceeded(t *testing.T) {
	h := newTestHarness(t, "apply-run-time", nil)
	h.contractEval.result = &wire.ContractResult{RealRunningTime: 2000000}

	tx := h.newTx(&wire.CallContractOperation{
		Caller:       1,
		Contract:     1,
		FunctionName: "main",
	})
	h.signTx(tx, 1)
	_, err := h.chain.PushTransaction(tx, BFNone, PushFromMe)
	checkRuleError(t, err, ErrRunTimeExceeded)
}

func TestApplyTransactionInvokeModeSwitch(t *testing.T) {
	h := newTestHarness(t, "apply-invoke-switch", nil)
	h.contractEval.result = &wire.ContractResult{ExistedPV: true}

	tx := h.newTx(&wire.CallContractOperation{
		Caller:       1,
		Contract:     1,
		FunctionName: "main",
	})
	h.signTx(tx, 1)

	session := h.chain.undo.StartSession()
	defer session.Rollback()
	_, mode, err := h.chain.applyTransaction(tx, BFNone, ApplyModePush)
	if err != nil {
		t.Fatalf("applyTransaction: %+v", err)
	}
	if mode != ApplyModeInvoke {
		t.Fatalf("persisted contract state did not switch the mode: got %d", mode)
	}
}

func TestPushTransactionInvokeModeDiscardsState(t *testing.T) {
	h := newTestHarness(t, "apply-invoke-discard", nil)
	h.contractEval.result = &wire.ContractResult{ExistedPV: true}

	tx := h.newTx(&wire.CallContractOperation{
		Caller:       1,
		Contract:     1,
		FunctionName: "main",
	})
	h.signTx(tx, 1)
	processed, err := h.chain.PushTransaction(tx, BFNone, PushFromMe)
	if err != nil {
		t.Fatalf("PushTransaction: %+v", err)
	}
	if len(processed.OperationResults) != 1 {
		t.Fatalf("wrong result count: %d", len(processed.OperationResults))
	}

	// A call that hit persisted contract state keeps only its dedup
	// record in the pending state; the produced block recomputes the
	// rest.
	if !h.chain.IsKnownTransaction(tx.ID()) {
		t.Fatal("invoke mode transaction is not known by id")
	}
	pending := h.chain.PendingTransactions()
	if len(pending) != 1 || pending[0].ID() != tx.ID() {
		t.Fatalf("invoke mode transaction did not stay queued: %d queued",
			len(pending))
	}
}

func TestPushTransactionAgreedProposal(t *testing.T) {
	h := newTestHarness(t, "apply-agreed-proposal", nil)
	expiration := h.chain.HeadBlockTime().Add(time.Hour)

	tx := h.newTx(&wire.TransferOperation{
		From:   1,
		To:     2,
		Amount: wire.Asset{Amount: 100, AssetID: h.params.CoreAssetID},
	})
	tx.AgreedTask = &wire.AgreedTask{Kind: wire.AgreedTaskProposal, Instance: 1}
	h.seedObject(&Proposal{
		Instance:         1,
		FeePayingAccount: 1,
		ExpirationTime:   expiration,
		TaskHash:         tx.Hash(),
		AllowExecution:   true,
	})

	// Agreed task transactions carry no signatures.
	_, err := h.chain.PushTransaction(tx, BFNone, PushFromMe)
	if err != nil {
		t.Fatalf("agreed task push: %+v", err)
	}
	if got := h.balance(2); got != testBalance+100 {
		t.Fatalf("agreed task did not move funds: balance %d", got)
	}
	proposal, ok := h.chain.Store().Proposal(1)
	if !ok {
		t.Fatal("proposal disappeared on execution")
	}
	if proposal.AllowExecution {
		t.Fatal("executed proposal is still marked executable")
	}
}

func TestPushTransactionAgreedProposalErrors(t *testing.T) {
	h := newTestHarness(t, "apply-agreed-errors", nil)
	expiration := h.chain.HeadBlockTime().Add(time.Hour)

	mismatched := h.newTx(&wire.TransferOperation{
		From:   1,
		To:     2,
		Amount: wire.Asset{Amount: 100, AssetID: h.params.CoreAssetID},
	})
	mismatched.AgreedTask = &wire.AgreedTask{Kind: wire.AgreedTaskProposal, Instance: 1}
	h.seedObject(&Proposal{
		Instance:         1,
		FeePayingAccount: 1,
		ExpirationTime:   expiration,
		AllowExecution:   true,
	})
	_, err := h.chain.PushTransaction(mismatched, BFNone, PushFromMe)
	checkRuleError(t, err, ErrAgreedTaskMismatch)

	unapproved := h.newTx(&wire.TransferOperation{
		From:   1,
		To:     2,
		Amount: wire.Asset{Amount: 200, AssetID: h.params.CoreAssetID},
	})
	unapproved.AgreedTask = &wire.AgreedTask{Kind: wire.AgreedTaskProposal, Instance: 2}
	h.seedObject(&Proposal{
		Instance:         2,
		FeePayingAccount: 1,
		ExpirationTime:   expiration,
		TaskHash:         unapproved.Hash(),
	})
	_, err = h.chain.PushTransaction(unapproved, BFNone, PushFromMe)
	checkRuleError(t, err, ErrAgreedTaskNotExecutable)

	missing := h.newTx(&wire.TransferOperation{
		From:   1,
		To:     2,
		Amount: wire.Asset{Amount: 300, AssetID: h.params.CoreAssetID},
	})
	missing.AgreedTask = &wire.AgreedTask{Kind: wire.AgreedTaskProposal, Instance: 9}
	_, err = h.chain.PushTransaction(missing, BFNone, PushFromMe)
	checkRuleError(t, err, ErrAgreedTaskNotExecutable)

	if got := h.balance(1); got != testBalance {
		t.Fatalf("rejected agreed tasks moved funds: balance %d", got)
	}
}

func TestPushTransactionAgreedCrontabFailure(t *testing.T) {
	h := newTestHarness(t, "apply-agreed-crontab", nil)
	h.contractEval.err = errors.New("contract aborted")
	start := h.params.GenesisTimestamp

	tx := h.newTx(&wire.CallContractOperation{
		Caller:       1,
		Contract:     1,
		FunctionName: "tick",
	})
	tx.AgreedTask = &wire.AgreedTask{Kind: wire.AgreedTaskCrontab, Instance: 1}
	h.seedObject(&Crontab{
		Instance:              1,
		Creator:               1,
		CrontabOps:            tx.Operations,
		StartTime:             start,
		ExecuteInterval:       60,
		ScheduledExecuteTimes: 10,
		NextExecteTime:        start,
		ExpirationTime:        start.Add(h.params.AssignedTaskLifeCycle),
		TaskHash:              tx.Hash(),
		AllowExecution:        true,
	})

	processed, err := h.chain.PushTransaction(tx, BFNone, PushFromMe)
	if err != nil {
		t.Fatalf("crontab task push: %+v", err)
	}
	if len(processed.OperationResults) != 1 {
		t.Fatalf("wrong result count: %d", len(processed.OperationResults))
	}
	if _, ok := processed.OperationResults[0].(*wire.ErrorResult); !ok {
		t.Fatalf("failing crontab operation did not record an error result: %T",
			processed.OperationResults[0])
	}

	crontab, ok := h.chain.Store().Crontab(1)
	if !ok {
		t.Fatal("crontab disappeared on execution")
	}
	if crontab.AlreadyExecuteTimes != 1 {
		t.Fatalf("execution count not advanced: %d", crontab.AlreadyExecuteTimes)
	}
	if crontab.ContinuousFailureTimes != 1 {
		t.Fatalf("failure count not advanced: %d", crontab.ContinuousFailureTimes)
	}
	if !crontab.NextExecteTime.Equal(start.Add(60 * time.Second)) {
		t.Fatalf("next execution not rescheduled: %s", crontab.NextExecteTime)
	}
	if crontab.IsSuspended {
		t.Fatal("single failure suspended the crontab")
	}
}

func TestPushTransactionAutoGas(t *testing.T) {
	h := newTestHarness(t, "apply-auto-gas", func(p *chaincfg.Params) {
		p.AutoGasHardForkTime = p.GenesisTimestamp
	})
	h.seedObject(&VestingBalance{
		Instance: 1,
		Owner:    1,
		Balance:  wire.Asset{Amount: 500000, AssetID: h.params.CoreAssetID},
	})
	h.seedObject(&VestingBalance{
		Instance: 2,
		Owner:    2,
		Balance:  wire.Asset{Amount: 50000, AssetID: h.params.CoreAssetID},
	})

	processed, err := h.chain.PushTransaction(h.transferTx(1, 2, 100), BFNone, PushFromMe)
	if err != nil {
		t.Fatalf("PushTransaction: %+v", err)
	}
	if len(processed.OperationResults) != 2 {
		t.Fatalf("no gas withdrawal result appended: %d results",
			len(processed.OperationResults))
	}
	if got := h.balance(1); got != testBalance-100+500000 {
		t.Fatalf("vested gas not credited: balance %d", got)
	}
	vb, ok := h.chain.Store().VestingBalance(1)
	if !ok {
		t.Fatal("vesting balance disappeared")
	}
	if vb.Balance.Amount != 0 {
		t.Fatalf("vesting balance not drained: %d", vb.Balance.Amount)
	}

	// Below the minimum threshold no withdrawal is synthesized.
	processed, err = h.chain.PushTransaction(h.transferTx(2, 1, 100), BFNone, PushFromMe)
	if err != nil {
		t.Fatalf("PushTransaction: %+v", err)
	}
	if len(processed.OperationResults) != 1 {
		t.Fatalf("threshold did not hold back the withdrawal: %d results",
			len(processed.OperationResults))
	}
}

func TestPushProposal(t *testing.T) {
	h := newTestHarness(t, "apply-push-proposal", nil)
	h.seedObject(&Proposal{
		Instance:         1,
		FeePayingAccount: 1,
		ExpirationTime:   h.chain.HeadBlockTime().Add(time.Hour),
		ProposedOps: []wire.Operation{&wire.TransferOperation{
			From:   1,
			To:     2,
			Amount: wire.Asset{Amount: 60, AssetID: h.params.CoreAssetID},
		}},
	})
	proposal, _ := h.chain.Store().Proposal(1)

	outer := h.chain.undo.StartSession()
	processed, err := h.chain.PushProposal(proposal)
	if err != nil {
		t.Fatalf("PushProposal: %+v", err)
	}
	if len(processed.OperationResults) != 1 {
		t.Fatalf("wrong result count: %d", len(processed.OperationResults))
	}
	if _, ok := h.chain.Store().Proposal(1); ok {
		t.Fatal("executed proposal was not removed")
	}
	if got := h.balance(2); got != testBalance+60 {
		t.Fatalf("proposal did not move funds: balance %d", got)
	}

	outer.Undo()
	if got := h.balance(2); got != testBalance {
		t.Fatalf("undo did not revert the proposal: balance %d", got)
	}
	if _, ok := h.chain.Store().Proposal(1); !ok {
		t.Fatal("undo did not restore the proposal")
	}
}

func TestValidateTransactionReverts(t *testing.T) {
	h := newTestHarness(t, "apply-validate", nil)

	processed, err := h.chain.ValidateTransaction(h.transferTx(1, 2, 100))
	if err != nil {
		t.Fatalf("ValidateTransaction: %+v", err)
	}
	if len(processed.OperationResults) != 1 {
		t.Fatalf("wrong result count: %d", len(processed.OperationResults))
	}
	if got := h.balance(1); got != testBalance {
		t.Fatalf("validation leaked state: balance %d", got)
	}
	if h.chain.IsKnownTransaction(processed.ID()) {
		t.Fatal("validated transaction was recorded")
	}
}

func TestTryTransactionSkipsSignatures(t *testing.T) {
	h := newTestHarness(t, "apply-try", nil)

	unsigned := h.newTx(&wire.TransferOperation{
		From:   1,
		To:     2,
		Amount: wire.Asset{Amount: 100, AssetID: h.params.CoreAssetID},
	})
	processed, err := h.chain.TryTransaction(unsigned)
	if err != nil {
		t.Fatalf("TryTransaction: %+v", err)
	}
	if len(processed.OperationResults) != 1 {
		t.Fatalf("wrong result count: %d", len(processed.OperationResults))
	}
	if got := h.balance(1); got != testBalance {
		t.Fatalf("speculative run leaked state: balance %d", got)
	}
}

func TestNewConfigValidation(t *testing.T) {
	params := chaincfg.SimnetParams

	_, err := New(&Config{
		Params:                &params,
		BlockLog:              newMemBlockLog(),
		Schedule:              rotatingSchedule{},
		MessageCacheSizeLimit: 100,
	})
	if err == nil {
		t.Fatal("undersized message cache limit was accepted")
	}

	_, err = New(&Config{
		Params:                     &params,
		BlockLog:                   newMemBlockLog(),
		Schedule:                   rotatingSchedule{},
		OpMaxsizeProportionPercent: 101,
	})
	if err == nil {
		t.Fatal("transaction size share above 100 percent was accepted")
	}

	_, err = New(&Config{Params: &params, BlockLog: newMemBlockLog()})
	if err == nil {
		t.Fatal("missing witness schedule was accepted")
	}
}
