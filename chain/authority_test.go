package chain

import (
	"testing"

	"github.com/kaspanet/go-secp256k1"
	"github.com/orbisnet/orbisd/wire"
)

// signTxWith appends one signature per given key pair, regardless of any
// account mapping.
func (h *testHarness) signTxWith(tx *wire.SignedTransaction,
	keyPairs ...*secp256k1.SchnorrKeyPair) {

	h.t.Helper()
	digest := secp256k1.Hash(tx.SigningDigest(h.params.ChainID))
	for _, keyPair := range keyPairs {
		h.appendSignature(tx, &digest, keyPair)
	}
}

func (h *testHarness) coreTransfer(from, to wire.AccountID, amount int64) *wire.SignedTransaction {
	h.t.Helper()
	return h.newTx(&wire.TransferOperation{
		From:   from,
		To:     to,
		Amount: wire.Asset{Amount: amount, AssetID: h.params.CoreAssetID},
	})
}

func TestVerifyAuthorityOwnerKey(t *testing.T) {
	h := newTestHarness(t, "authority-owner", nil)
	ownerKey, ownerPub := testKeyPair(t, 81)
	_, activePub := testKeyPair(t, 82)

	h.seedObject(&Account{
		ID:       6,
		Name:     "vault",
		Owner:    SingleKeyAuthority(ownerPub),
		Active:   SingleKeyAuthority(activePub),
		Balances: map[wire.AssetID]int64{h.params.CoreAssetID: testBalance},
	})

	// The owner authority stands in for the active one.
	tx := h.coreTransfer(6, 1, 100)
	h.signTxWith(tx, ownerKey)
	_, err := h.chain.PushTransaction(tx, BFNone, PushFromMe)
	if err != nil {
		t.Fatalf("push under the owner authority: %+v", err)
	}

	stranger, _ := testKeyPair(t, 83)
	rejected := h.coreTransfer(6, 1, 200)
	h.signTxWith(rejected, stranger)
	_, err = h.chain.PushTransaction(rejected, BFNone, PushFromMe)
	checkRuleError(t, err, ErrUnauthorized)
}

func TestVerifyAuthorityWeightThreshold(t *testing.T) {
	h := newTestHarness(t, "authority-threshold", nil)
	firstKey, firstPub := testKeyPair(t, 84)
	secondKey, secondPub := testKeyPair(t, 85)
	_, coldPub := testKeyPair(t, 86)

	h.seedObject(&Account{
		ID:    6,
		Name:  "treasury",
		Owner: SingleKeyAuthority(coldPub),
		Active: Authority{
			WeightThreshold: 2,
			KeyAuths: []KeyWeight{
				{Key: firstPub, Weight: 1},
				{Key: secondPub, Weight: 1},
			},
		},
		Balances: map[wire.AssetID]int64{h.params.CoreAssetID: testBalance},
	})

	// One signature carries weight one, below the threshold of two.
	short := h.coreTransfer(6, 1, 100)
	h.signTxWith(short, firstKey)
	_, err := h.chain.PushTransaction(short, BFNone, PushFromMe)
	checkRuleError(t, err, ErrUnauthorized)

	full := h.coreTransfer(6, 1, 100)
	h.signTxWith(full, firstKey, secondKey)
	_, err = h.chain.PushTransaction(full, BFNone, PushFromMe)
	if err != nil {
		t.Fatalf("push meeting the weight threshold: %+v", err)
	}
}

func TestVerifyAuthorityDelegation(t *testing.T) {
	h := newTestHarness(t, "authority-delegation", nil)
	_, coldPub := testKeyPair(t, 87)
	deepKey, deepPub := testKeyPair(t, 88)

	// Account 6 delegates its active authority to account 1, so account
	// 1's regular key can act for it.
	h.seedObject(&Account{
		ID:    6,
		Name:  "managed",
		Owner: SingleKeyAuthority(coldPub),
		Active: Authority{
			WeightThreshold: 1,
			AccountAuths:    []AccountWeight{{Account: 1, Weight: 1}},
		},
		Balances: map[wire.AssetID]int64{h.params.CoreAssetID: testBalance},
	})
	tx := h.coreTransfer(6, 2, 100)
	h.signTx(tx, 1)
	_, err := h.chain.PushTransaction(tx, BFNone, PushFromMe)
	if err != nil {
		t.Fatalf("push under a delegated authority: %+v", err)
	}

	// A delegation chain deeper than MaxAuthorityDepth does not resolve:
	// 7 -> 8 -> 9 exhausts the simnet depth of two, leaving 9's own
	// delegation to 10 unfollowed.
	delegating := func(id wire.AccountID, name string, next wire.AccountID) *Account {
		return &Account{
			ID:    id,
			Name:  name,
			Owner: SingleKeyAuthority(coldPub),
			Active: Authority{
				WeightThreshold: 1,
				AccountAuths:    []AccountWeight{{Account: next, Weight: 1}},
			},
			Balances: map[wire.AssetID]int64{h.params.CoreAssetID: testBalance},
		}
	}
	h.seedObject(delegating(7, "hop1", 8))
	h.seedObject(delegating(8, "hop2", 9))
	h.seedObject(delegating(9, "hop3", 10))
	h.seedObject(&Account{
		ID:     10,
		Name:   "deep",
		Owner:  SingleKeyAuthority(coldPub),
		Active: SingleKeyAuthority(deepPub),
	})

	tooDeep := h.coreTransfer(7, 2, 100)
	h.signTxWith(tooDeep, deepKey)
	_, err = h.chain.PushTransaction(tooDeep, BFNone, PushFromMe)
	checkRuleError(t, err, ErrUnauthorized)

	// The same key resolves from one level closer.
	inRange := h.coreTransfer(8, 2, 100)
	h.signTxWith(inRange, deepKey)
	_, err = h.chain.PushTransaction(inRange, BFNone, PushFromMe)
	if err != nil {
		t.Fatalf("push within the delegation depth: %+v", err)
	}
}
