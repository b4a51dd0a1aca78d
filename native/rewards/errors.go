package rewards

import "errors"

var (
	// ErrInvalidSignature is returned when the recovered batch signer does
	// not match the authorized signer.
	ErrInvalidSignature = errors.New("rewards: invalid signature")
	// ErrEmptyBatch rejects zero-update batches on the standard processing
	// path. SyncNonce is the one entrypoint that accepts signature-only
	// calls.
	ErrEmptyBatch = errors.New("rewards: empty batch")
	// ErrUpdateOutOfOrder aborts a batch whose update precedes the entity's
	// last recorded block. The whole batch rolls back.
	ErrUpdateOutOfOrder = errors.New("rewards: update out of order")
	// ErrUnderflow rejects a negative delta exceeding the tracked balance.
	ErrUnderflow = errors.New("rewards: balance underflow")
	// ErrMaxSnapshotsReached surfaces the unclaimed-segment cap. Claim to
	// make room; history is never silently dropped.
	ErrMaxSnapshotsReached = errors.New("rewards: too many unclaimed segments")
	// ErrSimulationOutOfOrder rejects simulated updates older than the last
	// applied update.
	ErrSimulationOutOfOrder = errors.New("rewards: simulated update out of order")
	// ErrSimulationUnderflow rejects a simulated delta that would drive a
	// balance negative.
	ErrSimulationUnderflow = errors.New("rewards: simulated update underflow")
	// ErrStaleClaim rejects claims from positions not synced to the latest
	// update nonce.
	ErrStaleClaim = errors.New("rewards: position behind latest update nonce")
	// ErrCollectionSlotsExhausted surfaces active-collection index
	// exhaustion; reduce tracked collections before adding more.
	ErrCollectionSlotsExhausted = errors.New("rewards: active collection index exhausted")
	// ErrNoPosition is returned when no checkpoint exists for the pair.
	ErrNoPosition = errors.New("rewards: position not found")

	errNilState    = errors.New("rewards: state not configured")
	errNilAdapter  = errors.New("rewards: lending adapter not configured")
	errNilConfig   = errors.New("rewards: collection config source not configured")
	errSignerUnset = errors.New("rewards: authorized signer not configured")
)
