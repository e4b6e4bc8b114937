package chain

import (
	"sort"

	"github.com/kaspanet/go-muhash"
	"github.com/orbisnet/orbisd/util/chainhash"
	"github.com/orbisnet/orbisd/wire"
	"github.com/pkg/errors"
)

// Store is the typed, indexed in-memory object collection. Every tracked
// mutation is captured by the undo database so it can be reverted; raw
// mutations are reserved for the undo machinery itself.
type Store struct {
	objects       map[ObjectID]Object
	nextInstances [numObjectTypes]uint64

	txByID            map[chainhash.Hash]ObjectID
	txByHash          map[chainhash.TxHash]ObjectID
	tibByHash         map[chainhash.TxHash]ObjectID
	vestingByAccount  map[wire.AccountID]map[uint64]struct{}
	tempAuthByAccount map[wire.AccountID]map[uint64]struct{}

	fingerprint *muhash.MuHash
	undo        *UndoDB
}

// NewStore returns an empty store wired to the given undo database.
func NewStore(undo *UndoDB) *Store {
	s := &Store{
		objects:           make(map[ObjectID]Object),
		txByID:            make(map[chainhash.Hash]ObjectID),
		txByHash:          make(map[chainhash.TxHash]ObjectID),
		tibByHash:         make(map[chainhash.TxHash]ObjectID),
		vestingByAccount:  make(map[wire.AccountID]map[uint64]struct{}),
		tempAuthByAccount: make(map[wire.AccountID]map[uint64]struct{}),
		fingerprint:       muhash.NewMuHash(),
		undo:              undo,
	}
	undo.store = s
	return s
}

// Fingerprint returns the order-independent digest of the store's current
// contents. Two stores with identical objects have identical fingerprints
// regardless of mutation order.
func (s *Store) Fingerprint() chainhash.Hash {
	var fp chainhash.Hash
	finalized := s.fingerprint.Finalize()
	copy(fp[:], finalized[:])
	return fp
}

func fingerprintElement(obj Object) []byte {
	id := obj.ObjectID()
	digest := obj.DigestBytes()
	element := make([]byte, 0, len(digest)+9)
	element = append(element, byte(id.Type))
	var instance [8]byte
	for i := 0; i < 8; i++ {
		instance[i] = byte(id.Instance >> (8 * i))
	}
	element = append(element, instance[:]...)
	return append(element, digest...)
}

// NewInstance advances and returns the sequence counter for the given type.
// The previous counter value is captured for undo.
func (s *Store) NewInstance(objType ObjectType) uint64 {
	next := s.nextInstances[objType]
	s.undo.onNewInstance(objType, next)
	s.nextInstances[objType] = next + 1
	return next
}

// Create inserts a new object and captures the creation for undo. It fails
// with ErrDuplicateKey if the id or a unique secondary index entry already
// exists.
func (s *Store) Create(obj Object) error {
	err := s.checkUnique(obj)
	if err != nil {
		return err
	}
	err = s.undo.onCreate(obj)
	if err != nil {
		return err
	}
	s.insertRaw(obj)
	return nil
}

// Modify applies mutate to a clone of the identified object and swaps the
// clone in, capturing the old value for undo. The object passed to mutate is
// the only copy that may be changed.
func (s *Store) Modify(id ObjectID, mutate func(Object)) error {
	obj, ok := s.objects[id]
	if !ok {
		return errors.Errorf("modify of unknown object %s", id)
	}
	err := s.undo.onModify(obj)
	if err != nil {
		return err
	}
	updated := obj.Clone()
	mutate(updated)
	if updated.ObjectID() != id {
		return errors.Errorf("modify changed object id %s to %s", id, updated.ObjectID())
	}
	s.replaceRaw(updated)
	return nil
}

// Remove deletes the identified object, capturing its value for undo.
func (s *Store) Remove(id ObjectID) error {
	obj, ok := s.objects[id]
	if !ok {
		return errors.Errorf("remove of unknown object %s", id)
	}
	err := s.undo.onRemove(obj)
	if err != nil {
		return err
	}
	s.removeRaw(id)
	return nil
}

// Get returns the object stored under id. The returned object is shared
// state and must not be mutated; use Modify.
func (s *Store) Get(id ObjectID) (Object, bool) {
	obj, ok := s.objects[id]
	return obj, ok
}

// ForEach calls fn for every object of the given type in ascending instance
// order until fn returns false.
func (s *Store) ForEach(objType ObjectType, fn func(Object) bool) {
	instances := make([]uint64, 0)
	for id := range s.objects {
		if id.Type == objType {
			instances = append(instances, id.Instance)
		}
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i] < instances[j] })
	for _, instance := range instances {
		if !fn(s.objects[ObjectID{Type: objType, Instance: instance}]) {
			return
		}
	}
}

func (s *Store) checkUnique(obj Object) error {
	id := obj.ObjectID()
	if _, exists := s.objects[id]; exists {
		return ruleError(ErrDuplicateKey, "object "+id.String()+" already exists")
	}
	switch o := obj.(type) {
	case *Transaction:
		if _, exists := s.txByID[o.TrxID]; exists {
			return ruleError(ErrDuplicateKey,
				"transaction id "+o.TrxID.String()+" already indexed")
		}
		if _, exists := s.txByHash[o.TrxHash]; exists {
			return ruleError(ErrDuplicateKey,
				"transaction hash "+o.TrxHash.String()+" already indexed")
		}
	case *TransactionInBlock:
		if _, exists := s.tibByHash[o.TrxHash]; exists {
			return ruleError(ErrDuplicateKey,
				"transaction-in-block hash "+o.TrxHash.String()+" already indexed")
		}
	}
	return nil
}

// insertRaw adds the object to the primary map, the secondary indexes and
// the fingerprint without undo capture.
func (s *Store) insertRaw(obj Object) {
	s.objects[obj.ObjectID()] = obj
	s.indexInsert(obj)
	s.fingerprint.Add(fingerprintElement(obj))
}

// removeRaw removes the object from the primary map, the secondary indexes
// and the fingerprint without undo capture.
func (s *Store) removeRaw(id ObjectID) {
	obj, ok := s.objects[id]
	if !ok {
		return
	}
	s.indexRemove(obj)
	s.fingerprint.Remove(fingerprintElement(obj))
	delete(s.objects, id)
}

// replaceRaw swaps in a new value for an existing object id without undo
// capture.
func (s *Store) replaceRaw(obj Object) {
	s.removeRaw(obj.ObjectID())
	s.insertRaw(obj)
}

func (s *Store) indexInsert(obj Object) {
	switch o := obj.(type) {
	case *Transaction:
		s.txByID[o.TrxID] = o.ObjectID()
		s.txByHash[o.TrxHash] = o.ObjectID()
	case *TransactionInBlock:
		s.tibByHash[o.TrxHash] = o.ObjectID()
	case *VestingBalance:
		instances, ok := s.vestingByAccount[o.Owner]
		if !ok {
			instances = make(map[uint64]struct{})
			s.vestingByAccount[o.Owner] = instances
		}
		instances[o.Instance] = struct{}{}
	case *TemporaryAuthority:
		instances, ok := s.tempAuthByAccount[o.Account]
		if !ok {
			instances = make(map[uint64]struct{})
			s.tempAuthByAccount[o.Account] = instances
		}
		instances[o.Instance] = struct{}{}
	}
}

func (s *Store) indexRemove(obj Object) {
	switch o := obj.(type) {
	case *Transaction:
		delete(s.txByID, o.TrxID)
		delete(s.txByHash, o.TrxHash)
	case *TransactionInBlock:
		delete(s.tibByHash, o.TrxHash)
	case *VestingBalance:
		if instances, ok := s.vestingByAccount[o.Owner]; ok {
			delete(instances, o.Instance)
			if len(instances) == 0 {
				delete(s.vestingByAccount, o.Owner)
			}
		}
	case *TemporaryAuthority:
		if instances, ok := s.tempAuthByAccount[o.Account]; ok {
			delete(instances, o.Instance)
			if len(instances) == 0 {
				delete(s.tempAuthByAccount, o.Account)
			}
		}
	}
}

// Typed accessors. All returned objects are shared state; use Modify to
// change them.

// DynamicGlobalProperty returns the dynamic global property singleton.
func (s *Store) DynamicGlobalProperty() *DynamicGlobalProperty {
	obj, ok := s.objects[ObjectID{Type: ObjectTypeDynamicGlobalProperty, Instance: 0}]
	if !ok {
		panic("dynamic global property object missing")
	}
	return obj.(*DynamicGlobalProperty)
}

// GlobalProperty returns the global property singleton.
func (s *Store) GlobalProperty() *GlobalProperty {
	obj, ok := s.objects[ObjectID{Type: ObjectTypeGlobalProperty, Instance: 0}]
	if !ok {
		panic("global property object missing")
	}
	return obj.(*GlobalProperty)
}

// Witness returns the witness with the given id.
func (s *Store) Witness(id wire.WitnessID) (*Witness, bool) {
	obj, ok := s.objects[ObjectID{Type: ObjectTypeWitness, Instance: uint64(id)}]
	if !ok {
		return nil, false
	}
	return obj.(*Witness), true
}

// Account returns the account with the given id.
func (s *Store) Account(id wire.AccountID) (*Account, bool) {
	obj, ok := s.objects[ObjectID{Type: ObjectTypeAccount, Instance: uint64(id)}]
	if !ok {
		return nil, false
	}
	return obj.(*Account), true
}

// BlockSummary returns the block summary at the given ring slot.
func (s *Store) BlockSummary(slot uint64) (*BlockSummary, bool) {
	obj, ok := s.objects[ObjectID{Type: ObjectTypeBlockSummary, Instance: slot}]
	if !ok {
		return nil, false
	}
	return obj.(*BlockSummary), true
}

// Proposal returns the proposal with the given instance.
func (s *Store) Proposal(instance uint64) (*Proposal, bool) {
	obj, ok := s.objects[ObjectID{Type: ObjectTypeProposal, Instance: instance}]
	if !ok {
		return nil, false
	}
	return obj.(*Proposal), true
}

// Crontab returns the crontab with the given instance.
func (s *Store) Crontab(instance uint64) (*Crontab, bool) {
	obj, ok := s.objects[ObjectID{Type: ObjectTypeCrontab, Instance: instance}]
	if !ok {
		return nil, false
	}
	return obj.(*Crontab), true
}

// VestingBalance returns the vesting balance with the given instance.
func (s *Store) VestingBalance(instance uint64) (*VestingBalance, bool) {
	obj, ok := s.objects[ObjectID{Type: ObjectTypeVestingBalance, Instance: instance}]
	if !ok {
		return nil, false
	}
	return obj.(*VestingBalance), true
}

// TransactionByID returns the transaction record indexed under the given
// transaction id.
func (s *Store) TransactionByID(trxID chainhash.Hash) (*Transaction, bool) {
	id, ok := s.txByID[trxID]
	if !ok {
		return nil, false
	}
	return s.objects[id].(*Transaction), true
}

// TransactionByHash returns the transaction record indexed under the given
// secondary hash.
func (s *Store) TransactionByHash(trxHash chainhash.TxHash) (*Transaction, bool) {
	id, ok := s.txByHash[trxHash]
	if !ok {
		return nil, false
	}
	return s.objects[id].(*Transaction), true
}

// TransactionInBlock returns the in-block record indexed under the given
// secondary hash.
func (s *Store) TransactionInBlock(trxHash chainhash.TxHash) (*TransactionInBlock, bool) {
	id, ok := s.tibByHash[trxHash]
	if !ok {
		return nil, false
	}
	return s.objects[id].(*TransactionInBlock), true
}

// FirstVestingBalance returns the account's vesting balance of the given
// asset with the lowest instance, if any.
func (s *Store) FirstVestingBalance(owner wire.AccountID, asset wire.AssetID) (*VestingBalance, bool) {
	instances, ok := s.vestingByAccount[owner]
	if !ok {
		return nil, false
	}
	sorted := make([]uint64, 0, len(instances))
	for instance := range instances {
		sorted = append(sorted, instance)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, instance := range sorted {
		vb := s.objects[ObjectID{Type: ObjectTypeVestingBalance, Instance: instance}].(*VestingBalance)
		if vb.Balance.AssetID == asset {
			return vb, true
		}
	}
	return nil, false
}

// TemporaryAuthorities returns the temporary authority grants attached to
// the account, in ascending instance order. Expired grants are included;
// callers check the expiration time.
func (s *Store) TemporaryAuthorities(account wire.AccountID) []*TemporaryAuthority {
	instances, ok := s.tempAuthByAccount[account]
	if !ok {
		return nil
	}
	sorted := make([]uint64, 0, len(instances))
	for instance := range instances {
		sorted = append(sorted, instance)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	auths := make([]*TemporaryAuthority, 0, len(sorted))
	for _, instance := range sorted {
		auths = append(auths,
			s.objects[ObjectID{Type: ObjectTypeTemporaryAuthority, Instance: instance}].(*TemporaryAuthority))
	}
	return auths
}
