package chain

import (
	"fmt"
	"time"

	"github.com/kaspanet/go-secp256k1"
	"github.com/orbisnet/orbisd/util/chainhash"
	"github.com/orbisnet/orbisd/wire"
	"github.com/pkg/errors"
)

// verifySchnorrSignature checks one serialized public key and signature
// against the given digest.
func verifySchnorrSignature(pubKey, signature []byte, digest chainhash.Hash) error {
	key, err := secp256k1.DeserializeSchnorrPubKey(pubKey)
	if err != nil {
		return errors.Wrap(err, "malformed public key")
	}
	sig, err := secp256k1.DeserializeSchnorrSignatureFromSlice(signature)
	if err != nil {
		return errors.Wrap(err, "malformed signature")
	}
	secpDigest := secp256k1.Hash(digest)
	if !key.SchnorrVerify(&secpDigest, sig) {
		return errors.New("signature does not verify")
	}
	return nil
}

// signedKeys verifies every signature carried by the transaction against the
// signing digest and returns the set of keys that signed. A single bad
// signature invalidates the whole set.
func (c *Chain) signedKeys(tx *wire.SignedTransaction) (map[string]struct{}, error) {
	digest := tx.SigningDigest(c.params.ChainID)
	keys := make(map[string]struct{}, len(tx.Signatures))
	for i, sig := range tx.Signatures {
		err := verifySchnorrSignature(sig.PublicKey, sig.Signature, digest)
		if err != nil {
			return nil, ruleError(ErrUnauthorized,
				fmt.Sprintf("transaction signature %d is invalid: %s", i, err))
		}
		keys[string(sig.PublicKey)] = struct{}{}
	}
	return keys, nil
}

// verifyAuthority checks that the transaction's signature set satisfies, for
// every account its operations require, that account's active or owner
// authority. Delegations are followed into the active authority of the
// delegated accounts, at most MaxAuthorityDepth levels down.
func (c *Chain) verifyAuthority(tx *wire.SignedTransaction) error {
	signed, err := c.signedKeys(tx)
	if err != nil {
		return err
	}
	now := c.HeadBlockTime()
	maxDepth := c.store.GlobalProperty().Parameters.MaxAuthorityDepth
	for _, op := range tx.Operations {
		for _, account := range op.RequiredAuthorities() {
			ok, err := c.accountAuthorized(account, signed, now, maxDepth)
			if err != nil {
				return err
			}
			if !ok {
				return ruleError(ErrUnauthorized,
					"missing required authority of account "+
						ObjectID{Type: ObjectTypeAccount,
							Instance: uint64(account)}.String())
			}
		}
	}
	return nil
}

// accountAuthorized reports whether the signed key set carries the account's
// active or owner authority. A key under an unexpired temporary authority
// grant acts for the account outright.
func (c *Chain) accountAuthorized(account wire.AccountID,
	signed map[string]struct{}, now time.Time, maxDepth uint32) (bool, error) {

	acct, ok := c.store.Account(account)
	if !ok {
		return false, ruleError(ErrUnauthorized,
			"required authority account "+ObjectID{Type: ObjectTypeAccount,
				Instance: uint64(account)}.String()+" does not exist")
	}
	for _, grant := range c.store.TemporaryAuthorities(account) {
		if !grant.ExpirationTime.After(now) {
			continue
		}
		for _, key := range grant.Keys {
			if _, ok := signed[string(key)]; ok {
				return true, nil
			}
		}
	}
	return c.authoritySatisfied(&acct.Active, signed, maxDepth) ||
		c.authoritySatisfied(&acct.Owner, signed, maxDepth), nil
}

// authoritySatisfied accumulates the weights of signed keys and of satisfied
// account delegations until the threshold is reached. Delegations do not
// resolve past the depth bound.
func (c *Chain) authoritySatisfied(auth *Authority, signed map[string]struct{},
	depth uint32) bool {

	if auth.WeightThreshold == 0 {
		// An unset authority authorizes nobody.
		return false
	}
	threshold := uint64(auth.WeightThreshold)
	var total uint64
	for _, kw := range auth.KeyAuths {
		if _, ok := signed[string(kw.Key)]; ok {
			total += uint64(kw.Weight)
			if total >= threshold {
				return true
			}
		}
	}
	for _, aw := range auth.AccountAuths {
		if depth == 0 {
			break
		}
		delegated, ok := c.store.Account(aw.Account)
		if !ok {
			continue
		}
		if !c.authoritySatisfied(&delegated.Active, signed, depth-1) {
			continue
		}
		total += uint64(aw.Weight)
		if total >= threshold {
			return true
		}
	}
	return total >= threshold
}

// maxOperationNesting bounds how deep proposal and crontab payloads may nest
// operations that themselves carry payloads.
const maxOperationNesting = 2

// operationDepth returns the nesting depth of agreed-task payloads inside
// the operation. A plain operation has depth one.
func operationDepth(op wire.Operation) uint32 {
	var inner []wire.Operation
	switch o := op.(type) {
	case *wire.ProposalCreateOperation:
		inner = o.ProposedOps
	case *wire.CrontabCreateOperation:
		inner = o.CrontabOps
	default:
		return 1
	}
	deepest := uint32(0)
	for _, nested := range inner {
		if depth := operationDepth(nested); depth > deepest {
			deepest = depth
		}
	}
	return deepest + 1
}
