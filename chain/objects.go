package chain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/orbisnet/orbisd/util/chainhash"
	"github.com/orbisnet/orbisd/wire"
)

// ObjectType discriminates the object kinds held by the store.
type ObjectType uint8

// The registered object types.
const (
	ObjectTypeBlockSummary ObjectType = iota
	ObjectTypeTransaction
	ObjectTypeTransactionInBlock
	ObjectTypeDynamicGlobalProperty
	ObjectTypeGlobalProperty
	ObjectTypeWitness
	ObjectTypeAccount
	ObjectTypeProposal
	ObjectTypeCrontab
	ObjectTypeVestingBalance
	ObjectTypeTemporaryAuthority

	numObjectTypes
)

// ObjectID identifies an object within the store. Instances are unique per
// type.
type ObjectID struct {
	Type     ObjectType
	Instance uint64
}

// String returns the id in type.instance form.
func (id ObjectID) String() string {
	return fmt.Sprintf("%d.%d", id.Type, id.Instance)
}

// Object is a record held by the store. Implementations must treat their
// receiver as immutable outside Store.Modify: the undo machinery snapshots
// objects by Clone, so in-place mutation outside a tracked modify corrupts
// rollback.
type Object interface {
	// ObjectID returns the object's typed id.
	ObjectID() ObjectID

	// Clone returns a deep copy of the object.
	Clone() Object

	// DigestBytes returns a stable byte encoding of the object used to
	// maintain the store fingerprint.
	DigestBytes() []byte
}

type digestWriter struct {
	bytes.Buffer
}

func (dw *digestWriter) writeUint32(val uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)
	dw.Write(buf[:])
}

func (dw *digestWriter) writeUint64(val uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	dw.Write(buf[:])
}

func (dw *digestWriter) writeBool(val bool) {
	if val {
		dw.WriteByte(1)
	} else {
		dw.WriteByte(0)
	}
}

func (dw *digestWriter) writeTime(t time.Time) {
	dw.writeUint64(uint64(t.Unix()))
}

func (dw *digestWriter) writeBytes(b []byte) {
	dw.writeUint64(uint64(len(b)))
	dw.Write(b)
}

func (dw *digestWriter) writeString(s string) {
	dw.writeBytes([]byte(s))
}

func (dw *digestWriter) writeOperations(ops []wire.Operation) {
	dw.writeUint64(uint64(len(ops)))
	for _, op := range ops {
		dw.WriteByte(byte(op.Tag()))
		// Writes into a bytes.Buffer never error.
		_ = op.Serialize(dw)
	}
}

func cloneByteSlices(src [][]byte) [][]byte {
	if src == nil {
		return nil
	}
	out := make([][]byte, len(src))
	for i, b := range src {
		out[i] = append([]byte(nil), b...)
	}
	return out
}

// BlockSummary is one slot of the TaPoS ring. Slot k holds the id of the
// most recent block whose number satisfies num & 0xffff == k.
type BlockSummary struct {
	Instance uint64
	BlockID  wire.BlockID
}

// ObjectID returns the object's typed id.
func (o *BlockSummary) ObjectID() ObjectID {
	return ObjectID{Type: ObjectTypeBlockSummary, Instance: o.Instance}
}

// Clone returns a deep copy of the object.
func (o *BlockSummary) Clone() Object {
	clone := *o
	return &clone
}

// DigestBytes returns a stable byte encoding of the object.
func (o *BlockSummary) DigestBytes() []byte {
	dw := &digestWriter{}
	dw.writeUint64(o.Instance)
	dw.Write(o.BlockID[:])
	return dw.Bytes()
}

// Transaction is the persistent record of an applied transaction, indexed by
// both its id and its secondary hash.
type Transaction struct {
	Instance   uint64
	TrxID      chainhash.Hash
	TrxHash    chainhash.TxHash
	Expiration time.Time
	Trx        *wire.ProcessedTransaction
}

// ObjectID returns the object's typed id.
func (o *Transaction) ObjectID() ObjectID {
	return ObjectID{Type: ObjectTypeTransaction, Instance: o.Instance}
}

// Clone returns a deep copy of the object. The contained transaction is
// shared: transaction records are never modified after creation, only
// created and removed.
func (o *Transaction) Clone() Object {
	clone := *o
	return &clone
}

// DigestBytes returns a stable byte encoding of the object.
func (o *Transaction) DigestBytes() []byte {
	dw := &digestWriter{}
	dw.writeUint64(o.Instance)
	dw.Write(o.TrxID[:])
	dw.Write(o.TrxHash[:])
	dw.writeTime(o.Expiration)
	return dw.Bytes()
}

// TransactionInBlock records where a transaction landed on the chain,
// indexed by the transaction's secondary hash.
type TransactionInBlock struct {
	Instance   uint64
	TrxHash    chainhash.TxHash
	BlockNum   uint32
	TrxInBlock uint32
}

// ObjectID returns the object's typed id.
func (o *TransactionInBlock) ObjectID() ObjectID {
	return ObjectID{Type: ObjectTypeTransactionInBlock, Instance: o.Instance}
}

// Clone returns a deep copy of the object.
func (o *TransactionInBlock) Clone() Object {
	clone := *o
	return &clone
}

// DigestBytes returns a stable byte encoding of the object.
func (o *TransactionInBlock) DigestBytes() []byte {
	dw := &digestWriter{}
	dw.writeUint64(o.Instance)
	dw.Write(o.TrxHash[:])
	dw.writeUint32(o.BlockNum)
	dw.writeUint32(o.TrxInBlock)
	return dw.Bytes()
}

// DynamicGlobalProperty is the singleton carrying fast-changing chain state.
type DynamicGlobalProperty struct {
	HeadBlockNumber          uint32
	HeadBlockID              wire.BlockID
	Time                     time.Time
	CurrentWitness           wire.WitnessID
	CurrentASlot             uint64
	NextMaintenanceTime      time.Time
	LastIrreversibleBlockNum uint32
	MaintenanceFlag          bool
}

// ObjectID returns the object's typed id.
func (o *DynamicGlobalProperty) ObjectID() ObjectID {
	return ObjectID{Type: ObjectTypeDynamicGlobalProperty, Instance: 0}
}

// Clone returns a deep copy of the object.
func (o *DynamicGlobalProperty) Clone() Object {
	clone := *o
	return &clone
}

// DigestBytes returns a stable byte encoding of the object.
func (o *DynamicGlobalProperty) DigestBytes() []byte {
	dw := &digestWriter{}
	dw.writeUint32(o.HeadBlockNumber)
	dw.Write(o.HeadBlockID[:])
	dw.writeTime(o.Time)
	dw.writeUint64(uint64(o.CurrentWitness))
	dw.writeUint64(o.CurrentASlot)
	dw.writeTime(o.NextMaintenanceTime)
	dw.writeUint32(o.LastIrreversibleBlockNum)
	dw.writeBool(o.MaintenanceFlag)
	return dw.Bytes()
}

// ChainParameters are the governed consensus parameters carried by the
// global property object.
type ChainParameters struct {
	MaximumBlockSize           uint32
	MaximumTimeUntilExpiration time.Duration
	MaxAuthorityDepth          uint32
	CrontabSuspendThreshold    uint32
	CrontabSuspendExpiration   time.Duration
	AssignedTaskLifeCycle      time.Duration
	BlockInterval              time.Duration
	MaintenanceInterval        time.Duration
}

// GlobalProperty is the singleton carrying governed chain state.
type GlobalProperty struct {
	Parameters      ChainParameters
	ActiveWitnesses []wire.WitnessID
}

// ObjectID returns the object's typed id.
func (o *GlobalProperty) ObjectID() ObjectID {
	return ObjectID{Type: ObjectTypeGlobalProperty, Instance: 0}
}

// Clone returns a deep copy of the object.
func (o *GlobalProperty) Clone() Object {
	clone := *o
	clone.ActiveWitnesses = append([]wire.WitnessID(nil), o.ActiveWitnesses...)
	return &clone
}

// DigestBytes returns a stable byte encoding of the object.
func (o *GlobalProperty) DigestBytes() []byte {
	dw := &digestWriter{}
	dw.writeUint32(o.Parameters.MaximumBlockSize)
	dw.writeUint64(uint64(o.Parameters.MaximumTimeUntilExpiration / time.Second))
	dw.writeUint32(o.Parameters.MaxAuthorityDepth)
	dw.writeUint32(o.Parameters.CrontabSuspendThreshold)
	dw.writeUint64(uint64(o.Parameters.CrontabSuspendExpiration / time.Second))
	dw.writeUint64(uint64(o.Parameters.AssignedTaskLifeCycle / time.Second))
	dw.writeUint64(uint64(o.Parameters.BlockInterval / time.Second))
	dw.writeUint64(uint64(o.Parameters.MaintenanceInterval / time.Second))
	dw.writeUint64(uint64(len(o.ActiveWitnesses)))
	for _, w := range o.ActiveWitnesses {
		dw.writeUint64(uint64(w))
	}
	return dw.Bytes()
}

// Witness is an elected block producer.
type Witness struct {
	ID                    wire.WitnessID
	Account               wire.AccountID
	SigningKey            []byte
	TotalMissed           uint64
	LastConfirmedBlockNum uint32
}

// ObjectID returns the object's typed id.
func (o *Witness) ObjectID() ObjectID {
	return ObjectID{Type: ObjectTypeWitness, Instance: uint64(o.ID)}
}

// Clone returns a deep copy of the object.
func (o *Witness) Clone() Object {
	clone := *o
	clone.SigningKey = append([]byte(nil), o.SigningKey...)
	return &clone
}

// DigestBytes returns a stable byte encoding of the object.
func (o *Witness) DigestBytes() []byte {
	dw := &digestWriter{}
	dw.writeUint64(uint64(o.ID))
	dw.writeUint64(uint64(o.Account))
	dw.writeBytes(o.SigningKey)
	dw.writeUint64(o.TotalMissed)
	dw.writeUint32(o.LastConfirmedBlockNum)
	return dw.Bytes()
}

// KeyWeight pairs a serialized public key with its weight inside an
// authority.
type KeyWeight struct {
	Key    []byte
	Weight uint32
}

// AccountWeight delegates part of an authority to another account. The
// delegated account contributes its weight when its own active authority is
// satisfied.
type AccountWeight struct {
	Account wire.AccountID
	Weight  uint32
}

// Authority is a weighted permission. It is satisfied when the combined
// weights of signing keys and satisfied delegated accounts reach the
// threshold.
type Authority struct {
	WeightThreshold uint32
	KeyAuths        []KeyWeight
	AccountAuths    []AccountWeight
}

// SingleKeyAuthority returns an authority satisfied by the given key alone.
func SingleKeyAuthority(key []byte) Authority {
	return Authority{
		WeightThreshold: 1,
		KeyAuths:        []KeyWeight{{Key: key, Weight: 1}},
	}
}

func (a Authority) clone() Authority {
	clone := a
	clone.KeyAuths = make([]KeyWeight, len(a.KeyAuths))
	for i, kw := range a.KeyAuths {
		clone.KeyAuths[i] = KeyWeight{
			Key:    append([]byte(nil), kw.Key...),
			Weight: kw.Weight,
		}
	}
	clone.AccountAuths = append([]AccountWeight(nil), a.AccountAuths...)
	return clone
}

func (a Authority) foldDigest(dw *digestWriter) {
	dw.writeUint32(a.WeightThreshold)
	dw.writeUint64(uint64(len(a.KeyAuths)))
	for _, kw := range a.KeyAuths {
		dw.writeBytes(kw.Key)
		dw.writeUint32(kw.Weight)
	}
	dw.writeUint64(uint64(len(a.AccountAuths)))
	for _, aw := range a.AccountAuths {
		dw.writeUint64(uint64(aw.Account))
		dw.writeUint32(aw.Weight)
	}
}

// Account is a named key-holding balance owner. The owner authority may
// reassign the account's keys; the active authority spends its funds. Either
// one authorizes an operation requiring the account.
type Account struct {
	ID       wire.AccountID
	Name     string
	Owner    Authority
	Active   Authority
	Balances map[wire.AssetID]int64
}

// ObjectID returns the object's typed id.
func (o *Account) ObjectID() ObjectID {
	return ObjectID{Type: ObjectTypeAccount, Instance: uint64(o.ID)}
}

// Clone returns a deep copy of the object.
func (o *Account) Clone() Object {
	clone := *o
	clone.Owner = o.Owner.clone()
	clone.Active = o.Active.clone()
	if o.Balances != nil {
		clone.Balances = make(map[wire.AssetID]int64, len(o.Balances))
		for asset, amount := range o.Balances {
			clone.Balances[asset] = amount
		}
	}
	return &clone
}

// DigestBytes returns a stable byte encoding of the object. Balance map
// entries are folded in ascending asset order to keep the encoding stable.
func (o *Account) DigestBytes() []byte {
	dw := &digestWriter{}
	dw.writeUint64(uint64(o.ID))
	dw.writeString(o.Name)
	o.Owner.foldDigest(dw)
	o.Active.foldDigest(dw)
	assets := make([]wire.AssetID, 0, len(o.Balances))
	for asset := range o.Balances {
		assets = append(assets, asset)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })
	dw.writeUint64(uint64(len(assets)))
	for _, asset := range assets {
		dw.writeUint64(uint64(asset))
		dw.writeUint64(uint64(o.Balances[asset]))
	}
	return dw.Bytes()
}

// Balance returns the account's balance of the given asset.
func (o *Account) Balance(asset wire.AssetID) int64 {
	return o.Balances[asset]
}

// Proposal is a set of operations awaiting approval. Once approved it runs
// as an agreed task transaction.
type Proposal struct {
	Instance         uint64
	FeePayingAccount wire.AccountID
	ExpirationTime   time.Time
	ProposedOps      []wire.Operation

	// TaskHash is the secondary hash of the agreed task transaction that
	// will execute this proposal. Execution asserts it.
	TaskHash chainhash.TxHash

	// AllowExecution is set when the proposal is approved and cleared
	// when its task runs.
	AllowExecution bool
}

// ObjectID returns the object's typed id.
func (o *Proposal) ObjectID() ObjectID {
	return ObjectID{Type: ObjectTypeProposal, Instance: o.Instance}
}

// Clone returns a deep copy of the object. Operations are immutable once
// recorded, so the slice header is copied but payloads are shared.
func (o *Proposal) Clone() Object {
	clone := *o
	clone.ProposedOps = append([]wire.Operation(nil), o.ProposedOps...)
	return &clone
}

// DigestBytes returns a stable byte encoding of the object.
func (o *Proposal) DigestBytes() []byte {
	dw := &digestWriter{}
	dw.writeUint64(o.Instance)
	dw.writeUint64(uint64(o.FeePayingAccount))
	dw.writeTime(o.ExpirationTime)
	dw.writeOperations(o.ProposedOps)
	dw.Write(o.TaskHash[:])
	dw.writeBool(o.AllowExecution)
	return dw.Bytes()
}

// Crontab is a recurring timed task.
type Crontab struct {
	Instance              uint64
	Creator               wire.AccountID
	CrontabOps            []wire.Operation
	StartTime             time.Time
	ExecuteInterval       uint64 // seconds
	ScheduledExecuteTimes uint64
	AlreadyExecuteTimes   uint64
	LastExecuteTime       time.Time
	NextExecteTime        time.Time
	ExpirationTime        time.Time

	// TaskHash is the secondary hash of the agreed task transaction that
	// executes this crontab. Execution asserts it.
	TaskHash chainhash.TxHash

	AllowExecution         bool
	ContinuousFailureTimes uint32
	IsSuspended            bool
}

// ObjectID returns the object's typed id.
func (o *Crontab) ObjectID() ObjectID {
	return ObjectID{Type: ObjectTypeCrontab, Instance: o.Instance}
}

// Clone returns a deep copy of the object. Operations are immutable once
// recorded, so the slice header is copied but payloads are shared.
func (o *Crontab) Clone() Object {
	clone := *o
	clone.CrontabOps = append([]wire.Operation(nil), o.CrontabOps...)
	return &clone
}

// DigestBytes returns a stable byte encoding of the object.
func (o *Crontab) DigestBytes() []byte {
	dw := &digestWriter{}
	dw.writeUint64(o.Instance)
	dw.writeUint64(uint64(o.Creator))
	dw.writeOperations(o.CrontabOps)
	dw.writeTime(o.StartTime)
	dw.writeUint64(o.ExecuteInterval)
	dw.writeUint64(o.ScheduledExecuteTimes)
	dw.writeUint64(o.AlreadyExecuteTimes)
	dw.writeTime(o.LastExecuteTime)
	dw.writeTime(o.NextExecteTime)
	dw.writeTime(o.ExpirationTime)
	dw.Write(o.TaskHash[:])
	dw.writeBool(o.AllowExecution)
	dw.writeUint32(o.ContinuousFailureTimes)
	dw.writeBool(o.IsSuspended)
	return dw.Bytes()
}

// VestingBalance is a balance that becomes withdrawable linearly over time.
type VestingBalance struct {
	Instance uint64
	Owner    wire.AccountID
	Balance  wire.Asset

	// VestingStart and VestingDuration define the linear vesting policy.
	// A zero duration means the whole balance is withdrawable.
	VestingStart    time.Time
	VestingDuration time.Duration
}

// ObjectID returns the object's typed id.
func (o *VestingBalance) ObjectID() ObjectID {
	return ObjectID{Type: ObjectTypeVestingBalance, Instance: o.Instance}
}

// Clone returns a deep copy of the object.
func (o *VestingBalance) Clone() Object {
	clone := *o
	return &clone
}

// DigestBytes returns a stable byte encoding of the object.
func (o *VestingBalance) DigestBytes() []byte {
	dw := &digestWriter{}
	dw.writeUint64(o.Instance)
	dw.writeUint64(uint64(o.Owner))
	dw.writeUint64(uint64(o.Balance.Amount))
	dw.writeUint64(uint64(o.Balance.AssetID))
	dw.writeTime(o.VestingStart)
	dw.writeUint64(uint64(o.VestingDuration / time.Second))
	return dw.Bytes()
}

// AllowedWithdraw returns the amount withdrawable at the given time under
// the linear vesting policy.
func (o *VestingBalance) AllowedWithdraw(now time.Time) int64 {
	if o.Balance.Amount <= 0 {
		return 0
	}
	if o.VestingDuration <= 0 || !now.Before(o.VestingStart.Add(o.VestingDuration)) {
		return o.Balance.Amount
	}
	if now.Before(o.VestingStart) {
		return 0
	}
	elapsed := now.Sub(o.VestingStart)
	return int64(float64(o.Balance.Amount) * (float64(elapsed) / float64(o.VestingDuration)))
}

// TemporaryAuthority grants additional signing keys to an account until it
// expires.
type TemporaryAuthority struct {
	Instance       uint64
	Account        wire.AccountID
	Keys           [][]byte
	ExpirationTime time.Time
}

// ObjectID returns the object's typed id.
func (o *TemporaryAuthority) ObjectID() ObjectID {
	return ObjectID{Type: ObjectTypeTemporaryAuthority, Instance: o.Instance}
}

// Clone returns a deep copy of the object.
func (o *TemporaryAuthority) Clone() Object {
	clone := *o
	clone.Keys = cloneByteSlices(o.Keys)
	return &clone
}

// DigestBytes returns a stable byte encoding of the object.
func (o *TemporaryAuthority) DigestBytes() []byte {
	dw := &digestWriter{}
	dw.writeUint64(o.Instance)
	dw.writeUint64(uint64(o.Account))
	dw.writeUint64(uint64(len(o.Keys)))
	for _, key := range o.Keys {
		dw.writeBytes(key)
	}
	dw.writeTime(o.ExpirationTime)
	return dw.Bytes()
}
