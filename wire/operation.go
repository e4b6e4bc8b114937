package wire

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

// AccountID identifies an account object on the chain.
type AccountID uint64

// WitnessID identifies a witness object on the chain.
type WitnessID uint64

// AssetID identifies an asset kind.
type AssetID uint64

// ContractID identifies a deployed contract object.
type ContractID uint64

// VestingBalanceID identifies a vesting balance object.
type VestingBalanceID uint64

// Asset is an amount of a specific asset kind.
type Asset struct {
	Amount  int64
	AssetID AssetID
}

// OpTag identifies one of the registered operation kinds. The set of
// operations is closed and known at build time; dispatch over it must be
// exhaustive.
type OpTag uint8

// The registered operation kinds.
const (
	OpTransfer OpTag = iota
	OpCallContract
	OpContractShareFee
	OpVestingBalanceWithdraw
	OpProposalCreate
	OpCrontabCreate

	// numOpTags must be defined last. It is the size of the evaluator
	// registration table.
	numOpTags
)

// NumOpTags is the number of registered operation kinds.
const NumOpTags = int(numOpTags)

var opTagStrings = map[OpTag]string{
	OpTransfer:               "OpTransfer",
	OpCallContract:           "OpCallContract",
	OpContractShareFee:       "OpContractShareFee",
	OpVestingBalanceWithdraw: "OpVestingBalanceWithdraw",
	OpProposalCreate:         "OpProposalCreate",
	OpCrontabCreate:          "OpCrontabCreate",
}

// String returns the OpTag in human-readable form.
func (tag OpTag) String() string {
	if s, ok := opTagStrings[tag]; ok {
		return s
	}
	return "Unknown OpTag (" + string(rune('0'+tag)) + ")"
}

// Operation is one member of the closed operation union carried by a
// transaction. Each operation kind has its own payload type and its own
// registered evaluator.
type Operation interface {
	// Tag returns the operation kind.
	Tag() OpTag

	// Validate performs structural validation that does not depend on
	// chain state.
	Validate() error

	// RequiredAuthorities returns the accounts whose active authority must
	// sign a transaction carrying this operation.
	RequiredAuthorities() []AccountID

	// Serialize writes the operation payload (without the tag byte).
	Serialize(w io.Writer) error
}

// TransferOperation moves an asset amount between two accounts.
type TransferOperation struct {
	From   AccountID
	To     AccountID
	Amount Asset
}

// Tag returns OpTransfer.
func (op *TransferOperation) Tag() OpTag { return OpTransfer }

// Validate performs structural validation.
func (op *TransferOperation) Validate() error {
	if op.From == op.To {
		return errors.New("transfer from and to must differ")
	}
	if op.Amount.Amount <= 0 {
		return errors.New("transfer amount must be positive")
	}
	return nil
}

// RequiredAuthorities returns the sending account.
func (op *TransferOperation) RequiredAuthorities() []AccountID { return []AccountID{op.From} }

// Serialize writes the operation payload.
func (op *TransferOperation) Serialize(w io.Writer) error {
	err := writeUint64(w, uint64(op.From))
	if err != nil {
		return err
	}
	err = writeUint64(w, uint64(op.To))
	if err != nil {
		return err
	}
	return writeAsset(w, op.Amount)
}

// CallContractOperation invokes a function of a deployed contract.
type CallContractOperation struct {
	Caller       AccountID
	Contract     ContractID
	FunctionName string
	ValueList    []string
}

// Tag returns OpCallContract.
func (op *CallContractOperation) Tag() OpTag { return OpCallContract }

// Validate performs structural validation.
func (op *CallContractOperation) Validate() error {
	if op.FunctionName == "" {
		return errors.New("contract call must name a function")
	}
	return nil
}

// RequiredAuthorities returns the calling account.
func (op *CallContractOperation) RequiredAuthorities() []AccountID { return []AccountID{op.Caller} }

// Serialize writes the operation payload.
func (op *CallContractOperation) Serialize(w io.Writer) error {
	err := writeUint64(w, uint64(op.Caller))
	if err != nil {
		return err
	}
	err = writeUint64(w, uint64(op.Contract))
	if err != nil {
		return err
	}
	err = writeVarString(w, op.FunctionName)
	if err != nil {
		return err
	}
	err = writeUint64(w, uint64(len(op.ValueList)))
	if err != nil {
		return err
	}
	for _, v := range op.ValueList {
		err = writeVarString(w, v)
		if err != nil {
			return err
		}
	}
	return nil
}

// ContractShareFeeOperation distributes accumulated contract fees. It is
// system-internal: when it leads a transaction, signature and TaPoS checks
// are forced off and the transaction is exempt from duplicate detection.
type ContractShareFeeOperation struct {
	Contract ContractID
	FeeTotal Asset
}

// Tag returns OpContractShareFee.
func (op *ContractShareFeeOperation) Tag() OpTag { return OpContractShareFee }

// Validate performs structural validation.
func (op *ContractShareFeeOperation) Validate() error {
	if op.FeeTotal.Amount < 0 {
		return errors.New("fee total must not be negative")
	}
	return nil
}

// RequiredAuthorities returns nil: the operation carries no user authority.
func (op *ContractShareFeeOperation) RequiredAuthorities() []AccountID { return nil }

// Serialize writes the operation payload.
func (op *ContractShareFeeOperation) Serialize(w io.Writer) error {
	err := writeUint64(w, uint64(op.Contract))
	if err != nil {
		return err
	}
	return writeAsset(w, op.FeeTotal)
}

// VestingBalanceWithdrawOperation withdraws the vested portion of a vesting
// balance. The applier synthesizes this operation for auto-gas.
type VestingBalanceWithdrawOperation struct {
	VestingBalance VestingBalanceID
	Owner          AccountID
	Amount         Asset
}

// Tag returns OpVestingBalanceWithdraw.
func (op *VestingBalanceWithdrawOperation) Tag() OpTag { return OpVestingBalanceWithdraw }

// Validate performs structural validation.
func (op *VestingBalanceWithdrawOperation) Validate() error {
	if op.Amount.Amount <= 0 {
		return errors.New("withdraw amount must be positive")
	}
	return nil
}

// RequiredAuthorities returns the owning account.
func (op *VestingBalanceWithdrawOperation) RequiredAuthorities() []AccountID {
	return []AccountID{op.Owner}
}

// Serialize writes the operation payload.
func (op *VestingBalanceWithdrawOperation) Serialize(w io.Writer) error {
	err := writeUint64(w, uint64(op.VestingBalance))
	if err != nil {
		return err
	}
	err = writeUint64(w, uint64(op.Owner))
	if err != nil {
		return err
	}
	return writeAsset(w, op.Amount)
}

// ProposalCreateOperation creates a proposal whose embedded operations run
// later as an agreed task once approved.
type ProposalCreateOperation struct {
	FeePayingAccount AccountID
	ExpirationTime   time.Time
	ProposedOps      []Operation
}

// Tag returns OpProposalCreate.
func (op *ProposalCreateOperation) Tag() OpTag { return OpProposalCreate }

// Validate performs structural validation.
func (op *ProposalCreateOperation) Validate() error {
	if len(op.ProposedOps) == 0 {
		return errors.New("proposal must carry at least one operation")
	}
	for _, proposed := range op.ProposedOps {
		err := proposed.Validate()
		if err != nil {
			return err
		}
	}
	return nil
}

// RequiredAuthorities returns the fee paying account.
func (op *ProposalCreateOperation) RequiredAuthorities() []AccountID {
	return []AccountID{op.FeePayingAccount}
}

// Serialize writes the operation payload.
func (op *ProposalCreateOperation) Serialize(w io.Writer) error {
	err := writeUint64(w, uint64(op.FeePayingAccount))
	if err != nil {
		return err
	}
	err = writeTimestamp(w, op.ExpirationTime)
	if err != nil {
		return err
	}
	return writeOperations(w, op.ProposedOps)
}

// CrontabCreateOperation registers a recurring timed task.
type CrontabCreateOperation struct {
	CrontabCreator        AccountID
	StartTime             time.Time
	ExecuteInterval       uint64 // seconds
	ScheduledExecuteTimes uint64
	CrontabOps            []Operation
}

// Tag returns OpCrontabCreate.
func (op *CrontabCreateOperation) Tag() OpTag { return OpCrontabCreate }

// Validate performs structural validation.
func (op *CrontabCreateOperation) Validate() error {
	if op.ExecuteInterval == 0 {
		return errors.New("crontab execute interval must be positive")
	}
	if op.ScheduledExecuteTimes == 0 {
		return errors.New("crontab must schedule at least one execution")
	}
	if len(op.CrontabOps) == 0 {
		return errors.New("crontab must carry at least one operation")
	}
	for _, timed := range op.CrontabOps {
		err := timed.Validate()
		if err != nil {
			return err
		}
	}
	return nil
}

// RequiredAuthorities returns the creating account.
func (op *CrontabCreateOperation) RequiredAuthorities() []AccountID {
	return []AccountID{op.CrontabCreator}
}

// Serialize writes the operation payload.
func (op *CrontabCreateOperation) Serialize(w io.Writer) error {
	err := writeUint64(w, uint64(op.CrontabCreator))
	if err != nil {
		return err
	}
	err = writeTimestamp(w, op.StartTime)
	if err != nil {
		return err
	}
	err = writeUint64(w, op.ExecuteInterval)
	if err != nil {
		return err
	}
	err = writeUint64(w, op.ScheduledExecuteTimes)
	if err != nil {
		return err
	}
	return writeOperations(w, op.CrontabOps)
}

func writeAsset(w io.Writer, a Asset) error {
	err := writeInt64(w, a.Amount)
	if err != nil {
		return err
	}
	return writeUint64(w, uint64(a.AssetID))
}

func readAsset(r io.Reader) (Asset, error) {
	amount, err := readInt64(r)
	if err != nil {
		return Asset{}, err
	}
	assetID, err := readUint64(r)
	if err != nil {
		return Asset{}, err
	}
	return Asset{Amount: amount, AssetID: AssetID(assetID)}, nil
}

// writeOperation writes the tag byte followed by the operation payload.
func writeOperation(w io.Writer, op Operation) error {
	err := writeUint8(w, uint8(op.Tag()))
	if err != nil {
		return err
	}
	return op.Serialize(w)
}

func writeOperations(w io.Writer, ops []Operation) error {
	err := writeUint64(w, uint64(len(ops)))
	if err != nil {
		return err
	}
	for _, op := range ops {
		err = writeOperation(w, op)
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadOperation reads a tagged operation from r.
func ReadOperation(r io.Reader) (Operation, error) {
	tag, err := readUint8(r)
	if err != nil {
		return nil, err
	}
	switch OpTag(tag) {
	case OpTransfer:
		op := &TransferOperation{}
		op.From, err = readAccountID(r)
		if err != nil {
			return nil, err
		}
		op.To, err = readAccountID(r)
		if err != nil {
			return nil, err
		}
		op.Amount, err = readAsset(r)
		if err != nil {
			return nil, err
		}
		return op, nil

	case OpCallContract:
		op := &CallContractOperation{}
		op.Caller, err = readAccountID(r)
		if err != nil {
			return nil, err
		}
		contract, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		op.Contract = ContractID(contract)
		op.FunctionName, err = readVarString(r)
		if err != nil {
			return nil, err
		}
		count, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		op.ValueList = make([]string, count)
		for i := range op.ValueList {
			op.ValueList[i], err = readVarString(r)
			if err != nil {
				return nil, err
			}
		}
		return op, nil

	case OpContractShareFee:
		op := &ContractShareFeeOperation{}
		contract, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		op.Contract = ContractID(contract)
		op.FeeTotal, err = readAsset(r)
		if err != nil {
			return nil, err
		}
		return op, nil

	case OpVestingBalanceWithdraw:
		op := &VestingBalanceWithdrawOperation{}
		vb, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		op.VestingBalance = VestingBalanceID(vb)
		op.Owner, err = readAccountID(r)
		if err != nil {
			return nil, err
		}
		op.Amount, err = readAsset(r)
		if err != nil {
			return nil, err
		}
		return op, nil

	case OpProposalCreate:
		op := &ProposalCreateOperation{}
		op.FeePayingAccount, err = readAccountID(r)
		if err != nil {
			return nil, err
		}
		op.ExpirationTime, err = readTimestamp(r)
		if err != nil {
			return nil, err
		}
		op.ProposedOps, err = readOperations(r)
		if err != nil {
			return nil, err
		}
		return op, nil

	case OpCrontabCreate:
		op := &CrontabCreateOperation{}
		op.CrontabCreator, err = readAccountID(r)
		if err != nil {
			return nil, err
		}
		op.StartTime, err = readTimestamp(r)
		if err != nil {
			return nil, err
		}
		op.ExecuteInterval, err = readUint64(r)
		if err != nil {
			return nil, err
		}
		op.ScheduledExecuteTimes, err = readUint64(r)
		if err != nil {
			return nil, err
		}
		op.CrontabOps, err = readOperations(r)
		if err != nil {
			return nil, err
		}
		return op, nil
	}
	return nil, errors.Errorf("unknown operation tag %d", tag)
}

func readOperations(r io.Reader) ([]Operation, error) {
	count, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	if count > maxVarBytesLength {
		return nil, errors.Errorf("operation count %d is too large", count)
	}
	ops := make([]Operation, count)
	for i := range ops {
		ops[i], err = ReadOperation(r)
		if err != nil {
			return nil, err
		}
	}
	return ops, nil
}

func readAccountID(r io.Reader) (AccountID, error) {
	val, err := readUint64(r)
	return AccountID(val), err
}
