package chain

// BehaviorFlags is a bitmask defining which checks to skip when processing
// blocks and transactions. The numeric values are stable; replay tooling
// records them on disk.
type BehaviorFlags uint32

const (
	// BFSkipWitnessSignature bypasses verification of the block header
	// signature.
	BFSkipWitnessSignature BehaviorFlags = 1 << iota

	// BFSkipTransactionSignatures bypasses authority verification of
	// transaction signature sets.
	BFSkipTransactionSignatures

	// BFSkipTransactionDupeCheck bypasses the duplicate transaction id
	// check.
	BFSkipTransactionDupeCheck

	// BFSkipForkDB bypasses the fork database, applying blocks directly
	// on the current head.
	BFSkipForkDB

	// BFSkipBlockSizeCheck bypasses the per-transaction packed size
	// check.
	BFSkipBlockSizeCheck

	// BFSkipTaPoSCheck bypasses reference block validation.
	BFSkipTaPoSCheck

	// BFSkipAuthorityCheck bypasses resolution of required authorities.
	BFSkipAuthorityCheck

	// BFSkipMerkleCheck bypasses verification of the transaction merkle
	// root.
	BFSkipMerkleCheck

	// BFSkipWitnessScheduleCheck bypasses verification that the block's
	// witness is the one scheduled for the slot.
	BFSkipWitnessScheduleCheck

	// BFSkipValidate bypasses structural operation validation.
	BFSkipValidate

	// BFNone is a convenience value to specifically indicate no flags.
	BFNone BehaviorFlags = 0

	// BFAll skips every check. It is reserved for replay beneath the
	// highest checkpoint.
	BFAll BehaviorFlags = ^BFNone
)
