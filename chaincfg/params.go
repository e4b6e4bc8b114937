package chaincfg

import (
	"time"

	"github.com/orbisnet/orbisd/util/chainhash"
	"github.com/orbisnet/orbisd/wire"
)

// BlockSummaryRingSize is the number of block summary slots kept for TaPoS
// validation. A transaction's ref_block_num indexes this ring.
const BlockSummaryRingSize = 0x10000

// Checkpoint associates a known good block id with a block number. Blocks at
// or below the highest checkpoint are replayed with all checks skipped.
type Checkpoint struct {
	BlockNum uint32
	BlockID  wire.BlockID
}

// GenesisWitness describes one witness seeded into the genesis state.
type GenesisWitness struct {
	Account    wire.AccountID
	SigningKey []byte
}

// GenesisAccount describes one account seeded into the genesis state. Each
// listed key enters the corresponding authority with weight one and a
// threshold of one; an account with no owner keys reuses its active keys.
type GenesisAccount struct {
	ID         wire.AccountID
	Name       string
	OwnerKeys  [][]byte
	ActiveKeys [][]byte
	Balance    wire.Asset
}

// Params defines an Orbis network by its parameters. Tests construct their
// own Params so that multiple independent chains can coexist in one process.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// ChainID domain-separates transaction signatures between networks.
	ChainID chainhash.Hash

	// BlockInterval is the width of a witness production slot.
	BlockInterval time.Duration

	// GenesisTimestamp is the slot-zero reference time.
	GenesisTimestamp time.Time

	// MaximumBlockSize is the initial packed-size cap on a block. It is
	// seeded into the global property object and governed from there.
	MaximumBlockSize uint32

	// MaximumTimeUntilExpiration is the furthest in the future a
	// transaction expiration may lie.
	MaximumTimeUntilExpiration time.Duration

	// MaxAuthorityDepth bounds recursive authority resolution.
	MaxAuthorityDepth uint32

	// CrontabSuspendThreshold is the number of consecutive failed
	// executions after which a crontab is suspended.
	CrontabSuspendThreshold uint32

	// CrontabSuspendExpiration is how long a suspended crontab lingers
	// before the expiration sweep removes it.
	CrontabSuspendExpiration time.Duration

	// AssignedTaskLifeCycle is how long an approved agreed task stays
	// executable.
	AssignedTaskLifeCycle time.Duration

	// MaintenanceInterval is the period of the chain maintenance tick.
	MaintenanceInterval time.Duration

	// ForkDBHorizon is the number of recent block heights the fork
	// database retains.
	ForkDBHorizon uint32

	// AutoGasHardForkTime is the block timestamp at and after which the
	// applier synthesizes vesting withdrawals for gas.
	AutoGasHardForkTime time.Time

	// AutoGasMinimumThreshold is the amount the allowed withdrawal must
	// exceed for the auto-gas pass to synthesize it.
	AutoGasMinimumThreshold int64

	// CoreAssetID is the asset auto-gas withdraws.
	CoreAssetID wire.AssetID

	// Checkpoints ordered by block number, lowest first.
	Checkpoints []Checkpoint

	// GenesisWitnesses are the witnesses seeded into the genesis state,
	// in schedule order.
	GenesisWitnesses []GenesisWitness

	// GenesisAccounts are the accounts seeded into the genesis state.
	GenesisAccounts []GenesisAccount
}

// MainnetParams defines the network parameters for the main Orbis network.
// The genesis witness and account sets are installed by the node shell from
// its embedded genesis document.
var MainnetParams = Params{
	Name:                       "orbis-mainnet",
	ChainID:                    chainhash.HashH([]byte("orbis-mainnet-genesis")),
	BlockInterval:              2 * time.Second,
	GenesisTimestamp:           time.Unix(1577836800, 0), // 2020-01-01 00:00:00 UTC
	MaximumBlockSize:           2 * 1024 * 1024,
	MaximumTimeUntilExpiration: 24 * time.Hour,
	MaxAuthorityDepth:          2,
	CrontabSuspendThreshold:    3,
	CrontabSuspendExpiration:   7 * 24 * time.Hour,
	AssignedTaskLifeCycle:      24 * time.Hour,
	MaintenanceInterval:        24 * time.Hour,
	ForkDBHorizon:              1024,
	AutoGasHardForkTime:        time.Unix(1590000000, 0),
	AutoGasMinimumThreshold:    100000,
	CoreAssetID:                1,
}

// SimnetParams defines the network parameters for an isolated simulation
// network. It is the base configuration the test harness derives from.
var SimnetParams = Params{
	Name:                       "orbis-simnet",
	ChainID:                    chainhash.HashH([]byte("orbis-simnet-genesis")),
	BlockInterval:              2 * time.Second,
	GenesisTimestamp:           time.Unix(1000000000, 0),
	MaximumBlockSize:           2 * 1024 * 1024,
	MaximumTimeUntilExpiration: 24 * time.Hour,
	MaxAuthorityDepth:          2,
	CrontabSuspendThreshold:    3,
	CrontabSuspendExpiration:   time.Hour,
	AssignedTaskLifeCycle:      time.Hour,
	MaintenanceInterval:        24 * time.Hour,
	ForkDBHorizon:              64,
	AutoGasHardForkTime:        time.Unix(1100000000, 0),
	AutoGasMinimumThreshold:    100000,
	CoreAssetID:                1,
}
