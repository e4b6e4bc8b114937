package chain

import (
	"testing"
	"time"

	"github.com/orbisnet/orbisd/wire"
)

// blockTime returns a timestamp the given number of seconds past genesis.
func (h *testHarness) blockTime(seconds int64) time.Time {
	return h.params.GenesisTimestamp.Add(time.Duration(seconds) * time.Second)
}

func TestPushBlockLinear(t *testing.T) {
	h := newTestHarness(t, "process-linear", nil)

	tx := h.pushTransferTx(1, 2, 100)
	block := h.produceBlock()
	if h.chain.HeadBlockNum() != 1 {
		t.Fatalf("wrong head number: got %d, want 1", h.chain.HeadBlockNum())
	}
	if h.chain.HeadBlockID() != block.BlockID() {
		t.Fatal("head id does not match the produced block")
	}
	fetched, err := h.chain.FetchBlockByID(block.BlockID())
	if err != nil {
		t.Fatalf("FetchBlockByID: %+v", err)
	}
	if fetched == nil || len(fetched.Transactions) != 1 {
		t.Fatal("produced block is not fetchable by id")
	}
	if !h.chain.IsKnownTransaction(tx.ID()) {
		t.Fatal("applied transaction is not known by id")
	}

	// Re-pushing the head block changes nothing.
	switched, err := h.chain.PushBlock(block, BFNone)
	if err != nil {
		t.Fatalf("duplicate push: %+v", err)
	}
	if switched {
		t.Fatal("duplicate push reported a fork switch")
	}
	if h.chain.HeadBlockNum() != 1 {
		t.Fatalf("duplicate push moved the head to %d", h.chain.HeadBlockNum())
	}
}

func TestPushBlockUnknownPrevious(t *testing.T) {
	h := newTestHarness(t, "process-unknown-previous", nil)
	h.produceBlock()

	unlinked := h.buildBlock(wire.ZeroBlockID, h.blockTime(3), 1, nil)
	orphan := h.buildBlock(unlinked.BlockID(), h.blockTime(5), 1, nil)
	_, err := h.chain.PushBlock(orphan, BFSkipWitnessScheduleCheck)
	checkRuleError(t, err, ErrPreviousBlockUnknown)
}

func TestPushBlockInvalidLinear(t *testing.T) {
	h := newTestHarness(t, "process-invalid-linear", nil)
	a1 := h.produceBlock()

	bad := h.buildBlock(a1.BlockID(), h.blockTime(5), 1, nil)
	bad.Header.WitnessSignature[0] ^= 0xff
	_, err := h.chain.PushBlock(bad, BFSkipWitnessScheduleCheck)
	checkRuleError(t, err, ErrBadWitnessSignature)

	if h.chain.HeadBlockID() != a1.BlockID() {
		t.Fatal("invalid block moved the head")
	}
	if _, ok := h.chain.forkDB.FetchBlock(bad.BlockID()); ok {
		t.Fatal("invalid block stayed in the fork window")
	}
	if h.chain.forkDB.Head().ID != a1.BlockID() {
		t.Fatal("fork window head was not restored")
	}
}

func TestPushBlockHeaderValidation(t *testing.T) {
	h := newTestHarness(t, "process-header", nil)
	a1 := h.produceBlock()

	stale := h.buildBlock(a1.BlockID(), a1.Header.Timestamp, 1, nil)
	_, err := h.chain.PushBlock(stale, BFSkipWitnessScheduleCheck)
	checkRuleError(t, err, ErrTimestampRegression)

	unknown := h.buildBlock(a1.BlockID(), h.blockTime(5), 1, nil)
	unknown.Header.Witness = 9
	_, err = h.chain.PushBlock(unknown,
		BFSkipWitnessSignature|BFSkipWitnessScheduleCheck)
	checkRuleError(t, err, ErrWrongWitness)

	badRoot := h.buildBlock(a1.BlockID(), h.blockTime(5), 1, nil)
	badRoot.Header.TransactionMerkleRoot[0] ^= 0xff
	_, err = h.chain.PushBlock(badRoot, BFSkipWitnessScheduleCheck)
	checkRuleError(t, err, ErrBadMerkleRoot)

	if h.chain.HeadBlockID() != a1.BlockID() {
		t.Fatal("rejected blocks moved the head")
	}
}

func TestPushBlockSwitchesToLongerFork(t *testing.T) {
	h := newTestHarness(t, "process-fork-switch", nil)

	tx := h.pushTransferTx(1, 2, 100)
	h.produceBlock()
	h.produceBlock()

	// A competing branch rooted at genesis overtakes the head with its
	// third block.
	b1 := h.buildBlock(wire.ZeroBlockID, h.blockTime(3), 1, nil)
	b2 := h.buildBlock(b1.BlockID(), h.blockTime(5), 1, nil)
	b3 := h.buildBlock(b2.BlockID(), h.blockTime(7), 1, nil)

	switched, err := h.chain.PushBlock(b1, BFSkipWitnessScheduleCheck)
	if err != nil {
		t.Fatalf("pushing the fork root: %+v", err)
	}
	if switched {
		t.Fatal("shorter fork reported a switch")
	}
	switched, err = h.chain.PushBlock(b2, BFSkipWitnessScheduleCheck)
	if err != nil {
		t.Fatalf("pushing the equal-height block: %+v", err)
	}
	if switched {
		t.Fatal("equal-height fork reported a switch")
	}
	switched, err = h.chain.PushBlock(b3, BFSkipWitnessScheduleCheck)
	if err != nil {
		t.Fatalf("pushing the overtaking block: %+v", err)
	}
	if !switched {
		t.Fatal("longer fork did not report a switch")
	}
	if h.chain.HeadBlockID() != b3.BlockID() || h.chain.HeadBlockNum() != 3 {
		t.Fatalf("head did not move to the fork tip: num %d", h.chain.HeadBlockNum())
	}

	// The transfer from the abandoned branch is still valid on the new
	// head and re-entered the pending queue. Re-pushed transactions keep
	// their recorded results and do not run again, so the pending state
	// carries the dedup record but no balance movement.
	pending := h.chain.PendingTransactions()
	if len(pending) != 1 || pending[0].ID() != tx.ID() {
		t.Fatalf("abandoned transaction did not re-enter pending: %d queued",
			len(pending))
	}
	if !h.chain.IsKnownTransaction(tx.ID()) {
		t.Fatal("re-queued transaction is not known by id")
	}
	if got := h.balance(1); got != testBalance {
		t.Fatalf("re-queued transfer ran its operations again: balance %d", got)
	}
}

func TestPushBlockFailedSwitchReverts(t *testing.T) {
	h := newTestHarness(t, "process-fork-revert", nil)

	a1 := h.produceBlock()
	a2 := h.produceBlock()
	before := h.chain.Store().Fingerprint()

	b1 := h.buildBlock(wire.ZeroBlockID, h.blockTime(3), 1, nil)
	b2 := h.buildBlock(b1.BlockID(), h.blockTime(5), 1, nil)
	b3 := h.buildBlock(b2.BlockID(), h.blockTime(7), 1, nil)
	b3.Header.WitnessSignature[0] ^= 0xff

	for _, block := range []*wire.SignedBlock{b1, b2} {
		_, err := h.chain.PushBlock(block, BFSkipWitnessScheduleCheck)
		if err != nil {
			t.Fatalf("pushing fork block: %+v", err)
		}
	}
	switched, err := h.chain.PushBlock(b3, BFSkipWitnessScheduleCheck)
	checkRuleError(t, err, ErrBadWitnessSignature)
	if switched {
		t.Fatal("failed switch reported the head as moved")
	}

	if h.chain.HeadBlockID() != a2.BlockID() {
		t.Fatal("head did not return to the original branch")
	}
	if got := h.chain.Store().Fingerprint(); got != before {
		t.Fatalf("state not restored after the failed switch: got %s, want %s",
			got, before)
	}
	for i, block := range []*wire.SignedBlock{b1, b2, b3} {
		if _, ok := h.chain.forkDB.FetchBlock(block.BlockID()); ok {
			t.Fatalf("fork block %d survived the failed switch", i+1)
		}
	}
	if h.chain.forkDB.Head().ID != a2.BlockID() {
		t.Fatal("fork window head was not restored")
	}
	if _, ok := h.chain.forkDB.FetchBlock(a1.BlockID()); !ok {
		t.Fatal("original branch left the fork window")
	}
}

func TestPopBlockRestoresState(t *testing.T) {
	h := newTestHarness(t, "process-pop", nil)

	h.pushTransferTx(1, 2, 100)
	b1 := h.produceBlock()
	h.pushTransferTx(2, 3, 50)
	b2 := h.produceBlock()
	after := h.chain.Store().Fingerprint()

	err := h.chain.PopBlock()
	if err != nil {
		t.Fatalf("PopBlock: %+v", err)
	}
	if h.chain.HeadBlockNum() != 1 || h.chain.HeadBlockID() != b1.BlockID() {
		t.Fatalf("pop did not return to block 1: num %d", h.chain.HeadBlockNum())
	}
	err = h.chain.PopBlock()
	if err != nil {
		t.Fatalf("PopBlock: %+v", err)
	}
	if h.chain.HeadBlockNum() != 0 {
		t.Fatalf("pop did not empty the chain: num %d", h.chain.HeadBlockNum())
	}
	if got := h.balance(1); got != testBalance {
		t.Fatalf("pop did not restore the balances: %d", got)
	}
	checkRuleError(t, h.chain.PopBlock(), ErrEmptyChain)

	// Re-pushing the popped blocks rebuilds the exact same state.
	for _, block := range []*wire.SignedBlock{b1, b2} {
		_, err := h.chain.PushBlock(block, BFNone)
		if err != nil {
			t.Fatalf("re-pushing block %d: %+v", block.BlockNum(), err)
		}
	}
	if h.chain.HeadBlockID() != b2.BlockID() {
		t.Fatal("re-push did not restore the head")
	}
	if got := h.chain.Store().Fingerprint(); got != after {
		t.Fatalf("re-push state differs: got %s, want %s", got, after)
	}
	if len(h.chain.PendingTransactions()) != 0 {
		t.Fatal("re-applied transactions linger in the pending queue")
	}
}

func TestPushBlockReplay(t *testing.T) {
	source := newTestHarness(t, "process-replay", nil)
	source.pushTransferTx(1, 2, 100)
	b1 := source.produceBlock()
	b2 := source.produceBlock()

	replica := newTestHarness(t, "process-replay", nil)
	for _, block := range []*wire.SignedBlock{b1, b2} {
		switched, err := replica.chain.PushBlock(block, BFSkipForkDB)
		if err != nil {
			t.Fatalf("replaying block %d: %+v", block.BlockNum(), err)
		}
		if switched {
			t.Fatal("replay reported a fork switch")
		}
	}
	if replica.chain.HeadBlockID() != source.chain.HeadBlockID() {
		t.Fatal("replayed head differs")
	}
	if replica.chain.Store().Fingerprint() != source.chain.Store().Fingerprint() {
		t.Fatal("replayed state differs")
	}
}
