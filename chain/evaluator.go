package chain

import (
	"github.com/orbisnet/orbisd/wire"
	"github.com/pkg/errors"
)

// ApplyMode describes the context a transaction is applied in. Some checks
// and side effects depend on it.
type ApplyMode uint8

// The transaction application modes.
const (
	// ApplyModePush applies a user-submitted transaction against the
	// pending state.
	ApplyModePush ApplyMode = iota

	// ApplyModeValidate is a dry run whose mutations are always undone.
	ApplyModeValidate

	// ApplyModeJustTry is a speculative run used by query surfaces.
	ApplyModeJustTry

	// ApplyModeRePush replays a transaction from the pending queue after
	// a fork switch or pop. TaPoS was already validated caller-side.
	ApplyModeRePush

	// ApplyModeApplyBlock applies a transaction carried by a block being
	// connected.
	ApplyModeApplyBlock

	// ApplyModeProductionBlock applies a transaction while assembling a
	// new block.
	ApplyModeProductionBlock

	// ApplyModeInvoke is contract-internal re-entry; the applier switches
	// to it when an operation result reports a pending contract version.
	ApplyModeInvoke
)

var applyModeStrings = map[ApplyMode]string{
	ApplyModePush:            "push",
	ApplyModeValidate:        "validate_transaction",
	ApplyModeJustTry:         "just_try",
	ApplyModeRePush:          "re_push",
	ApplyModeApplyBlock:      "apply_block",
	ApplyModeProductionBlock: "production_block",
	ApplyModeInvoke:          "invoke",
}

// String returns the ApplyMode in human-readable form.
func (mode ApplyMode) String() string {
	if s, ok := applyModeStrings[mode]; ok {
		return s
	}
	return "unknown"
}

// PushState describes where a transaction entering the pending queue came
// from.
type PushState uint8

// The pending-queue push origins.
const (
	// PushFromMe is a transaction submitted through the local node; the
	// pending queue cap applies.
	PushFromMe PushState = iota

	// PushFromPeer is a transaction relayed by the network.
	PushFromPeer

	// PushRePush is a transaction being replayed from the popped or
	// pending queue after the chain state moved underneath it.
	PushRePush
)

// EvalState is the context handed to operation evaluators. Evaluators mutate
// the store through it under the undo session the applier holds open.
type EvalState struct {
	Chain *Chain
	Store *Store
	Mode  ApplyMode
	Skip  BehaviorFlags

	// Trx is the transaction carrying the operation being evaluated.
	Trx *wire.SignedTransaction
}

// Evaluator applies one operation kind. Implementations mutate the object
// store within the currently open undo session; errors abort the operation
// and its session is undone by the applier.
type Evaluator interface {
	Evaluate(es *EvalState, op wire.Operation, apply bool) (wire.OperationResult, error)
}

// RegisterEvaluator installs the evaluator for the given operation kind,
// replacing any previous registration. Registration must complete before
// the first block or transaction is processed.
func (c *Chain) RegisterEvaluator(tag wire.OpTag, evaluator Evaluator) {
	c.evaluators[tag] = evaluator
}

// dispatchOperation routes the operation to its registered evaluator. An
// unregistered tag is an internal invariant violation, not a rule error.
func (c *Chain) dispatchOperation(es *EvalState, op wire.Operation) (wire.OperationResult, error) {
	evaluator := c.evaluators[op.Tag()]
	if evaluator == nil {
		return nil, errors.Errorf("no evaluator registered for operation %s", op.Tag())
	}
	return evaluator.Evaluate(es, op, true)
}
