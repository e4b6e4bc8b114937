package chain

import (
	"time"

	"github.com/orbisnet/orbisd/chaincfg"
	"github.com/orbisnet/orbisd/util/chainhash"
	"github.com/orbisnet/orbisd/wire"
	"github.com/pkg/errors"
)

// BlockLog is the persistent block store the chain appends to. Implemented
// by the blocklog package; tests substitute an in-memory version.
type BlockLog interface {
	Store(id wire.BlockID, block *wire.SignedBlock) error
	FetchOptional(id wire.BlockID) (*wire.SignedBlock, error)
	FetchByNumber(blockNum uint32) (*wire.SignedBlock, error)
	FetchBlockID(blockNum uint32) (wire.BlockID, error)
}

// WitnessSchedule maps production slots to witnesses. It is consulted during
// both header validation and block production.
type WitnessSchedule interface {
	// ScheduledWitness returns the witness allowed to produce at the
	// given absolute slot.
	ScheduledWitness(store *Store, slot uint64) wire.WitnessID

	// UpdateSchedule is called after every applied block so the schedule
	// can rotate.
	UpdateSchedule(store *Store, block *wire.SignedBlock) error
}

// MaintenanceHook runs the periodic chain maintenance when a block crosses
// the next maintenance time.
type MaintenanceHook func(store *Store, block *wire.SignedBlock) error

// Config bundles the collaborators and the correctness-affecting options a
// Chain is constructed from.
type Config struct {
	Params *chaincfg.Params

	BlockLog BlockLog
	Schedule WitnessSchedule

	// MaintenanceHook may be nil, in which case maintenance intervals
	// only advance the next maintenance time.
	MaintenanceHook MaintenanceHook

	// OpMaxsizeProportionPercent is the maximum share of the maximum
	// block size a single transaction may occupy, in hundredths.
	OpMaxsizeProportionPercent uint32

	// MessageCacheSizeLimit caps the pending queue at from-me push time.
	// Zero disables the cap; any other value must be at least 3000.
	MessageCacheSizeLimit uint16

	// DeduceInVerificationMode controls authority verification during
	// block generation. When false, generation skips authority checks
	// and relies on the checks performed at push time.
	DeduceInVerificationMode bool

	// Observers. All fire synchronously after the mutation that triggers
	// them and may be nil.
	AppliedBlock         func(block *wire.SignedBlock)
	OnPendingTransaction func(tx *wire.ProcessedTransaction)
	NotifyChangedObjects func(fingerprint chainhash.Hash)
}

// DefaultOpMaxsizeProportionPercent is the transaction size share applied
// when the config leaves it zero.
const DefaultOpMaxsizeProportionPercent = 1

// minMessageCacheSizeLimit is the smallest allowed non-zero pending queue
// cap.
const minMessageCacheSizeLimit = 3000

// Chain is the block and transaction processing core. It owns the object
// store, the undo stack, the fork database and the pending queue, and is
// strictly single-writer: all mutating methods must be called from one
// goroutine.
type Chain struct {
	params *chaincfg.Params
	cfg    *Config

	store  *Store
	undo   *UndoDB
	forkDB *ForkDB

	blockLog BlockLog
	schedule WitnessSchedule

	evaluators [wire.NumOpTags]Evaluator

	pending        []*wire.ProcessedTransaction
	pendingSession *Session
	pendingSize    int
	poppedTx       []*wire.ProcessedTransaction

	checkpoints    map[uint32]wire.BlockID
	lastCheckpoint uint32

	appliedOps appliedOperations

	// Per-block application context.
	currentBlockNum   uint32
	currentTrxInBlock uint32
	currentOpInTrx    uint32
	currentVirtualOp  uint32

	genesisPending bool
}

// New constructs a chain core, seeds the genesis state from the configured
// parameters and returns it ready for PushBlock.
func New(config *Config) (*Chain, error) {
	if config.Params == nil {
		return nil, errors.New("chain.New: no chain parameters specified")
	}
	if config.BlockLog == nil {
		return nil, errors.New("chain.New: no block log specified")
	}
	if config.Schedule == nil {
		return nil, errors.New("chain.New: no witness schedule specified")
	}
	if config.MessageCacheSizeLimit != 0 && config.MessageCacheSizeLimit < minMessageCacheSizeLimit {
		return nil, errors.Errorf(
			"chain.New: message cache size limit must be 0 or at least %d, got %d",
			minMessageCacheSizeLimit, config.MessageCacheSizeLimit)
	}
	if config.OpMaxsizeProportionPercent > 100 {
		return nil, errors.Errorf(
			"chain.New: op maxsize proportion percent must be at most 100, got %d",
			config.OpMaxsizeProportionPercent)
	}

	cfg := *config
	if cfg.OpMaxsizeProportionPercent == 0 {
		cfg.OpMaxsizeProportionPercent = DefaultOpMaxsizeProportionPercent
	}

	undo := NewUndoDB(int(cfg.Params.ForkDBHorizon))
	c := &Chain{
		params:         cfg.Params,
		cfg:            &cfg,
		undo:           undo,
		store:          NewStore(undo),
		forkDB:         NewForkDB(cfg.Params.ForkDBHorizon),
		blockLog:       cfg.BlockLog,
		schedule:       cfg.Schedule,
		checkpoints:    make(map[uint32]wire.BlockID),
		genesisPending: true,
	}
	c.seedGenesisState()
	c.AddCheckpoints(cfg.Params.Checkpoints)
	return c, nil
}

// seedGenesisState installs the initial objects without undo capture.
func (c *Chain) seedGenesisState() {
	c.undo.Disable()
	defer c.undo.Enable()

	params := c.params
	mustCreate := func(obj Object) {
		err := c.store.Create(obj)
		if err != nil {
			panic("genesis state seeding failed: " + err.Error())
		}
	}

	witnessIDs := make([]wire.WitnessID, 0, len(params.GenesisWitnesses))
	for i, gw := range params.GenesisWitnesses {
		id := wire.WitnessID(i + 1)
		witnessIDs = append(witnessIDs, id)
		mustCreate(&Witness{
			ID:         id,
			Account:    gw.Account,
			SigningKey: append([]byte(nil), gw.SigningKey...),
		})
	}

	for _, ga := range params.GenesisAccounts {
		balances := make(map[wire.AssetID]int64)
		if ga.Balance.Amount > 0 {
			balances[ga.Balance.AssetID] = ga.Balance.Amount
		}
		ownerKeys := ga.OwnerKeys
		if len(ownerKeys) == 0 {
			ownerKeys = ga.ActiveKeys
		}
		mustCreate(&Account{
			ID:       ga.ID,
			Name:     ga.Name,
			Owner:    flatKeyAuthority(ownerKeys),
			Active:   flatKeyAuthority(ga.ActiveKeys),
			Balances: balances,
		})
	}

	mustCreate(&GlobalProperty{
		Parameters: ChainParameters{
			MaximumBlockSize:           params.MaximumBlockSize,
			MaximumTimeUntilExpiration: params.MaximumTimeUntilExpiration,
			MaxAuthorityDepth:          params.MaxAuthorityDepth,
			CrontabSuspendThreshold:    params.CrontabSuspendThreshold,
			CrontabSuspendExpiration:   params.CrontabSuspendExpiration,
			AssignedTaskLifeCycle:      params.AssignedTaskLifeCycle,
			BlockInterval:              params.BlockInterval,
			MaintenanceInterval:        params.MaintenanceInterval,
		},
		ActiveWitnesses: witnessIDs,
	})
	mustCreate(&DynamicGlobalProperty{
		Time:                params.GenesisTimestamp,
		NextMaintenanceTime: params.GenesisTimestamp.Add(params.MaintenanceInterval),
	})

	for slot := uint64(0); slot < chaincfg.BlockSummaryRingSize; slot++ {
		mustCreate(&BlockSummary{Instance: slot})
	}
}

// flatKeyAuthority builds a threshold-one authority carrying each key with
// weight one.
func flatKeyAuthority(keys [][]byte) Authority {
	auth := Authority{WeightThreshold: 1}
	for _, key := range keys {
		auth.KeyAuths = append(auth.KeyAuths, KeyWeight{
			Key:    append([]byte(nil), key...),
			Weight: 1,
		})
	}
	return auth
}

// Store returns the chain's object store for read access. Mutation outside
// the chain's own apply paths corrupts the undo history.
func (c *Chain) Store() *Store {
	return c.store
}

// Params returns the chain parameters the core was constructed with.
func (c *Chain) Params() *chaincfg.Params {
	return c.params
}

// ChainID returns the signature domain separator of this chain.
func (c *Chain) ChainID() chainhash.Hash {
	return c.params.ChainID
}

// HeadBlockNum returns the number of the current head block, zero when the
// chain is empty.
func (c *Chain) HeadBlockNum() uint32 {
	return c.store.DynamicGlobalProperty().HeadBlockNumber
}

// HeadBlockID returns the id of the current head block.
func (c *Chain) HeadBlockID() wire.BlockID {
	return c.store.DynamicGlobalProperty().HeadBlockID
}

// HeadBlockTime returns the timestamp of the current head block, or the
// genesis timestamp when the chain is empty.
func (c *Chain) HeadBlockTime() time.Time {
	return c.store.DynamicGlobalProperty().Time
}

// GetSlotTime returns the production time of the given future slot relative
// to the current head. Slot zero is invalid and maps to the zero time.
func (c *Chain) GetSlotTime(slotNum uint64) time.Time {
	if slotNum == 0 {
		return time.Time{}
	}
	interval := c.store.GlobalProperty().Parameters.BlockInterval
	dgp := c.store.DynamicGlobalProperty()
	if dgp.HeadBlockNumber == 0 {
		// Before the first block, slot 1 is one interval past genesis.
		return c.params.GenesisTimestamp.Add(time.Duration(slotNum) * interval)
	}
	headSlotTime := dgp.Time.Truncate(interval)
	return headSlotTime.Add(time.Duration(slotNum) * interval)
}

// GetSlotAtTime returns the slot number that covers the given time, zero if
// the time precedes the first open slot.
func (c *Chain) GetSlotAtTime(when time.Time) uint64 {
	firstSlotTime := c.GetSlotTime(1)
	if when.Before(firstSlotTime) {
		return 0
	}
	interval := c.store.GlobalProperty().Parameters.BlockInterval
	return uint64(when.Sub(firstSlotTime)/interval) + 1
}

// AddCheckpoints installs committed block-number to id assertions. Blocks at
// or beneath the highest checkpoint replay with every check skipped.
// Checkpoints are append-only and must be installed before processing.
func (c *Chain) AddCheckpoints(checkpoints []chaincfg.Checkpoint) {
	for _, cp := range checkpoints {
		c.checkpoints[cp.BlockNum] = cp.BlockID
		if cp.BlockNum > c.lastCheckpoint {
			c.lastCheckpoint = cp.BlockNum
		}
	}
}

// BeforeLastCheckpoint reports whether the chain head is still beneath the
// highest installed checkpoint.
func (c *Chain) BeforeLastCheckpoint() bool {
	return c.HeadBlockNum() < c.lastCheckpoint
}

// IsKnownBlock reports whether the id is present in the fork window or the
// block log.
func (c *Chain) IsKnownBlock(id wire.BlockID) (bool, error) {
	if _, ok := c.forkDB.FetchBlock(id); ok {
		return true, nil
	}
	block, err := c.blockLog.FetchOptional(id)
	if err != nil {
		return false, err
	}
	return block != nil, nil
}

// IsKnownTransaction reports whether a transaction with the given id has
// been recorded.
func (c *Chain) IsKnownTransaction(trxID chainhash.Hash) bool {
	_, ok := c.store.TransactionByID(trxID)
	return ok
}

// GetBlockIDForNum returns the id of the block at the given number from the
// block log.
func (c *Chain) GetBlockIDForNum(blockNum uint32) (wire.BlockID, error) {
	return c.blockLog.FetchBlockID(blockNum)
}

// FetchBlockByID returns the block with the given id from the fork window,
// falling back to the block log. Returns nil when unknown.
func (c *Chain) FetchBlockByID(id wire.BlockID) (*wire.SignedBlock, error) {
	if item, ok := c.forkDB.FetchBlock(id); ok {
		return item.Block, nil
	}
	return c.blockLog.FetchOptional(id)
}

// FetchBlockByNumber returns the block at the given number. The fork window
// is consulted first; it answers only when exactly one candidate exists at
// that height.
func (c *Chain) FetchBlockByNumber(blockNum uint32) (*wire.SignedBlock, error) {
	items := c.forkDB.FetchBlocksByNumber(blockNum)
	if len(items) == 1 {
		return items[0].Block, nil
	}
	return c.blockLog.FetchByNumber(blockNum)
}

// GetRecentTransaction returns the recorded transaction indexed under the
// given secondary hash.
func (c *Chain) GetRecentTransaction(trxHash chainhash.TxHash) (*wire.ProcessedTransaction, bool) {
	record, ok := c.store.TransactionByHash(trxHash)
	if !ok {
		return nil, false
	}
	return record.Trx, true
}

// GetTransactionInBlockInfo returns where the transaction with the given
// secondary hash landed on the chain.
func (c *Chain) GetTransactionInBlockInfo(trxHash chainhash.TxHash) (*TransactionInBlock, bool) {
	return c.store.TransactionInBlock(trxHash)
}

// GetBlockIDsOnFork lists block ids from the given fork tip back to and
// including the common ancestor with the current head.
func (c *Chain) GetBlockIDsOnFork(headOfFork wire.BlockID) ([]wire.BlockID, error) {
	branch, _, err := c.forkDB.FetchBranchFrom(headOfFork, c.HeadBlockID())
	if err != nil {
		return nil, err
	}
	ids := make([]wire.BlockID, 0, len(branch)+1)
	for _, item := range branch {
		ids = append(ids, item.ID)
	}
	if len(branch) > 0 {
		ids = append(ids, branch[len(branch)-1].Previous())
	} else {
		ids = append(ids, headOfFork)
	}
	return ids, nil
}

func (c *Chain) notifyChangedObjects() {
	if c.cfg.NotifyChangedObjects != nil {
		c.cfg.NotifyChangedObjects(c.store.Fingerprint())
	}
}
