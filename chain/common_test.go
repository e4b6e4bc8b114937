package chain

import (
	"fmt"
	"testing"
	"time"

	"github.com/kaspanet/go-secp256k1"
	"github.com/orbisnet/orbisd/chaincfg"
	"github.com/orbisnet/orbisd/util/chainhash"
	"github.com/orbisnet/orbisd/wire"
	"github.com/pkg/errors"
)

// testBalance is the core asset balance every genesis account starts with.
const testBalance = int64(1000000000)

// testKeyPair returns a deterministic schnorr key pair derived from the given
// seed, together with the serialized public key. Seed zero is not a valid
// private key scalar.
func testKeyPair(t *testing.T, seed byte) (*secp256k1.SchnorrKeyPair, []byte) {
	t.Helper()
	if seed == 0 {
		t.Fatal("test key seed must not be zero")
	}
	var raw [32]byte
	raw[31] = seed
	keyPair, err := secp256k1.DeserializeSchnorrPrivateKeyFromSlice(raw[:])
	if err != nil {
		t.Fatalf("deserializing test private key %d: %s", seed, err)
	}
	pubKey, err := keyPair.SchnorrPublicKey()
	if err != nil {
		t.Fatalf("deriving test public key %d: %s", seed, err)
	}
	serialized, err := pubKey.Serialize()
	if err != nil {
		t.Fatalf("serializing test public key %d: %s", seed, err)
	}
	return keyPair, serialized[:]
}

// memBlockLog is an in-memory BlockLog used by the tests in place of the
// leveldb-backed one.
type memBlockLog struct {
	byID  map[wire.BlockID]*wire.SignedBlock
	byNum map[uint32]wire.BlockID
}

func newMemBlockLog() *memBlockLog {
	return &memBlockLog{
		byID:  make(map[wire.BlockID]*wire.SignedBlock),
		byNum: make(map[uint32]wire.BlockID),
	}
}

func (l *memBlockLog) Store(id wire.BlockID, block *wire.SignedBlock) error {
	l.byID[id] = block
	l.byNum[block.BlockNum()] = id
	return nil
}

func (l *memBlockLog) FetchOptional(id wire.BlockID) (*wire.SignedBlock, error) {
	return l.byID[id], nil
}

func (l *memBlockLog) FetchByNumber(blockNum uint32) (*wire.SignedBlock, error) {
	id, ok := l.byNum[blockNum]
	if !ok {
		return nil, nil
	}
	return l.byID[id], nil
}

func (l *memBlockLog) FetchBlockID(blockNum uint32) (wire.BlockID, error) {
	id, ok := l.byNum[blockNum]
	if !ok {
		return wire.BlockID{}, errors.Errorf("no block at number %d", blockNum)
	}
	return id, nil
}

// rotatingSchedule rotates block production over the active witnesses, the
// same way the node shell does.
type rotatingSchedule struct{}

func (rotatingSchedule) ScheduledWitness(store *Store, slot uint64) wire.WitnessID {
	active := store.GlobalProperty().ActiveWitnesses
	if len(active) == 0 {
		return 0
	}
	current := store.DynamicGlobalProperty().CurrentASlot
	return active[(current+slot)%uint64(len(active))]
}

func (rotatingSchedule) UpdateSchedule(store *Store, block *wire.SignedBlock) error {
	return nil
}

// transferEvaluator moves balances between accounts.
type transferEvaluator struct{}

func (transferEvaluator) Evaluate(es *EvalState, op wire.Operation, apply bool) (wire.OperationResult, error) {
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
	err := es.Store.Modify(from.ObjectID(), func(obj Object) {
		obj.(*Account).Balances[transfer.Amount.AssetID] -= transfer.Amount.Amount
	})
	if err != nil {
		return nil, err
	}
	toID := ObjectID{Type: ObjectTypeAccount, Instance: uint64(transfer.To)}
	err = es.Store.Modify(toID, func(obj Object) {
		account := obj.(*Account)
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
// its owner.
type vestingWithdrawEvaluator struct{}

func (vestingWithdrawEvaluator) Evaluate(es *EvalState, op wire.Operation, apply bool) (wire.OperationResult, error) {
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
	err := es.Store.Modify(balance.ObjectID(), func(obj Object) {
		obj.(*VestingBalance).Balance.Amount -= withdraw.Amount.Amount
	})
	if err != nil {
		return nil, err
	}
	ownerID := ObjectID{Type: ObjectTypeAccount, Instance: uint64(withdraw.Owner)}
	err = es.Store.Modify(ownerID, func(obj Object) {
		account := obj.(*Account)
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

func (proposalCreateEvaluator) Evaluate(es *EvalState, op wire.Operation, apply bool) (wire.OperationResult, error) {
	create := op.(*wire.ProposalCreateOperation)
	if !apply {
		return &wire.VoidResult{}, nil
	}
	err := es.Store.Create(&Proposal{
		Instance:         es.Store.NewInstance(ObjectTypeProposal),
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

func (crontabCreateEvaluator) Evaluate(es *EvalState, op wire.Operation, apply bool) (wire.OperationResult, error) {
	create := op.(*wire.CrontabCreateOperation)
	if !apply {
		return &wire.VoidResult{}, nil
	}
	lifeCycle := es.Store.GlobalProperty().Parameters.AssignedTaskLifeCycle
	err := es.Store.Create(&Crontab{
		Instance:              es.Store.NewInstance(ObjectTypeCrontab),
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

// stubEvaluator returns a configurable result or error and counts its calls.
type stubEvaluator struct {
	result wire.OperationResult
	err    error
	calls  int
}

func (e *stubEvaluator) Evaluate(es *EvalState, op wire.Operation, apply bool) (wire.OperationResult, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if e.result != nil {
		return e.result, nil
	}
	return &wire.VoidResult{}, nil
}

// testHarness wires a chain core to deterministic keys, an in-memory block
// log, a rotating witness schedule and the test evaluators.
type testHarness struct {
	t      *testing.T
	chain  *Chain
	params *chaincfg.Params
	log    *memBlockLog

	witnessKeys map[wire.WitnessID]*secp256k1.SchnorrKeyPair
	accountKeys map[wire.AccountID]*secp256k1.SchnorrKeyPair

	contractEval *stubEvaluator
	shareFeeEval *stubEvaluator
}

const (
	testWitnessCount = 3
	testAccountCount = 5
)

// newTestHarness builds a harness over params derived from the simnet
// parameters. The name keeps chains from different tests signature-disjoint.
// The adjust callback, if non-nil, runs before the chain is constructed.
func newTestHarness(t *testing.T, name string, adjust func(*chaincfg.Params)) *testHarness {
	t.Helper()

	params := chaincfg.SimnetParams
	params.Name = name
	params.ChainID = chainhash.HashH([]byte(name))

	h := &testHarness{
		t:           t,
		witnessKeys: make(map[wire.WitnessID]*secp256k1.SchnorrKeyPair),
		accountKeys: make(map[wire.AccountID]*secp256k1.SchnorrKeyPair),
	}
	for i := 0; i < testWitnessCount; i++ {
		keyPair, pubKey := testKeyPair(t, byte(i+1))
		h.witnessKeys[wire.WitnessID(i+1)] = keyPair
		params.GenesisWitnesses = append(params.GenesisWitnesses, chaincfg.GenesisWitness{
			Account:    wire.AccountID(i + 1),
			SigningKey: pubKey,
		})
	}
	for i := 0; i < testAccountCount; i++ {
		keyPair, pubKey := testKeyPair(t, byte(i+11))
		accountID := wire.AccountID(i + 1)
		h.accountKeys[accountID] = keyPair
		params.GenesisAccounts = append(params.GenesisAccounts, chaincfg.GenesisAccount{
			ID:         accountID,
			Name:       fmt.Sprintf("account%d", i+1),
			ActiveKeys: [][]byte{pubKey},
			Balance:    wire.Asset{Amount: testBalance, AssetID: params.CoreAssetID},
		})
	}
	if adjust != nil {
		adjust(&params)
	}
	h.params = &params

	h.log = newMemBlockLog()
	core, err := New(&Config{
		Params:   &params,
		BlockLog: h.log,
		Schedule: rotatingSchedule{},
	})
	if err != nil {
		t.Fatalf("chain.New: %+v", err)
	}
	h.chain = core
	h.contractEval = &stubEvaluator{result: &wire.ContractResult{}}
	h.shareFeeEval = &stubEvaluator{}
	registerTestEvaluators(core, h.contractEval, h.shareFeeEval)
	return h
}

func registerTestEvaluators(core *Chain, contractEval, shareFeeEval Evaluator) {
	core.RegisterEvaluator(wire.OpTransfer, transferEvaluator{})
	core.RegisterEvaluator(wire.OpCallContract, contractEval)
	core.RegisterEvaluator(wire.OpContractShareFee, shareFeeEval)
	core.RegisterEvaluator(wire.OpVestingBalanceWithdraw, vestingWithdrawEvaluator{})
	core.RegisterEvaluator(wire.OpProposalCreate, proposalCreateEvaluator{})
	core.RegisterEvaluator(wire.OpCrontabCreate, crontabCreateEvaluator{})
}

// seedObject installs an object directly, bypassing undo capture, the way the
// genesis seeding does. Only usable between transactions.
func (h *testHarness) seedObject(obj Object) {
	h.t.Helper()
	h.chain.undo.Disable()
	defer h.chain.undo.Enable()
	err := h.chain.store.Create(obj)
	if err != nil {
		h.t.Fatalf("seeding object %s: %+v", obj.ObjectID(), err)
	}
}

// newTx builds an unsigned transaction carrying the given operations, with a
// valid reference block and a half-hour expiration window.
func (h *testHarness) newTx(ops ...wire.Operation) *wire.SignedTransaction {
	h.t.Helper()
	tx := &wire.SignedTransaction{
		Expiration: h.chain.HeadBlockTime().Add(30 * time.Minute),
		Operations: ops,
	}
	if h.chain.HeadBlockNum() > 0 {
		headID := h.chain.HeadBlockID()
		tx.RefBlockNum = uint16(h.chain.HeadBlockNum() & 0xffff)
		tx.RefBlockPrefix = headID.TaPoSPrefix()
	}
	return tx
}

// signTx appends one signature per given account to the transaction.
func (h *testHarness) signTx(tx *wire.SignedTransaction, accounts ...wire.AccountID) {
	h.t.Helper()
	digest := secp256k1.Hash(tx.SigningDigest(h.params.ChainID))
	for _, account := range accounts {
		keyPair, ok := h.accountKeys[account]
		if !ok {
			h.t.Fatalf("no test key for account %d", account)
		}
		h.appendSignature(tx, &digest, keyPair)
	}
}

func (h *testHarness) appendSignature(tx *wire.SignedTransaction,
	digest *secp256k1.Hash, keyPair *secp256k1.SchnorrKeyPair) {

	h.t.Helper()
	sig, err := keyPair.SchnorrSign(digest)
	if err != nil {
		h.t.Fatalf("signing transaction: %s", err)
	}
	pubKey, err := keyPair.SchnorrPublicKey()
	if err != nil {
		h.t.Fatalf("deriving public key: %s", err)
	}
	serializedKey, err := pubKey.Serialize()
	if err != nil {
		h.t.Fatalf("serializing public key: %s", err)
	}
	serializedSig := sig.Serialize()
	tx.Signatures = append(tx.Signatures, wire.Signature{
		PublicKey: serializedKey[:],
		Signature: serializedSig[:],
	})
}

// transferTx builds and signs a transfer of the core asset.
func (h *testHarness) transferTx(from, to wire.AccountID, amount int64) *wire.SignedTransaction {
	h.t.Helper()
	tx := h.newTx(&wire.TransferOperation{
		From:   from,
		To:     to,
		Amount: wire.Asset{Amount: amount, AssetID: h.params.CoreAssetID},
	})
	h.signTx(tx, from)
	return tx
}

// pushTransferTx pushes a signed transfer into the pending queue.
func (h *testHarness) pushTransferTx(from, to wire.AccountID, amount int64) *wire.SignedTransaction {
	h.t.Helper()
	tx := h.transferTx(from, to, amount)
	_, err := h.chain.PushTransaction(tx, BFNone, PushFromMe)
	if err != nil {
		h.t.Fatalf("PushTransaction: %+v", err)
	}
	return tx
}

// produceBlock generates and pushes a block at the next open slot with the
// scheduled witness's key and fails the test on any error.
func (h *testHarness) produceBlock() *wire.SignedBlock {
	h.t.Helper()
	block, err := h.tryProduceBlock()
	if err != nil {
		h.t.Fatalf("producing block: %+v", err)
	}
	return block
}

func (h *testHarness) tryProduceBlock() (*wire.SignedBlock, error) {
	slotTime := h.chain.GetSlotTime(1)
	witnessID := rotatingSchedule{}.ScheduledWitness(h.chain.Store(), 1)
	block, err := h.chain.GenerateBlock(slotTime, witnessID, h.witnessKeys[witnessID], BFNone)
	if err != nil {
		return nil, err
	}
	_, err = h.chain.PushBlock(block, BFSkipTransactionSignatures)
	if err != nil {
		return nil, err
	}
	return block, nil
}

// buildBlock assembles and signs a block without touching the chain, so that
// tests can construct fork branches by hand.
func (h *testHarness) buildBlock(previous wire.BlockID, timestamp time.Time,
	witnessID wire.WitnessID, txs []*wire.ProcessedTransaction) *wire.SignedBlock {

	h.t.Helper()
	header := wire.BlockHeader{
		Previous:              previous,
		Timestamp:             timestamp,
		Witness:               witnessID,
		TransactionMerkleRoot: calcMerkleRoot(txs),
	}
	err := signBlockHeader(&header, h.witnessKeys[witnessID])
	if err != nil {
		h.t.Fatalf("signing test block header: %+v", err)
	}
	return &wire.SignedBlock{Header: header, Transactions: txs}
}

// balance returns the account's current core asset balance.
func (h *testHarness) balance(account wire.AccountID) int64 {
	h.t.Helper()
	acct, ok := h.chain.Store().Account(account)
	if !ok {
		h.t.Fatalf("account %d does not exist", account)
	}
	return acct.Balance(h.params.CoreAssetID)
}

// checkRuleError fails the test unless err is a RuleError carrying the wanted
// code.
func checkRuleError(t *testing.T, err error, want ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected rule error %s, got no error", want)
	}
	var rerr RuleError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected rule error %s, got %T: %v", want, err, err)
	}
	if rerr.ErrorCode != want {
		t.Fatalf("wrong rule error code: got %s, want %s", rerr.ErrorCode, want)
	}
}
