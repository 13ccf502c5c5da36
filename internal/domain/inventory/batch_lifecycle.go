package inventory

import "time"

// DefaultNearExpiryWindow is how far ahead of expiry an active batch is flagged on read
const DefaultNearExpiryWindow = 30 * 24 * time.Hour

// Transition records a status change made by the lifecycle policy
type Transition struct {
	From BatchStatus
	To   BatchStatus
}

// Changed reports whether the status moved
func (t Transition) Changed() bool {
	return t.From != t.To
}

// LifecyclePolicy derives batch status from quantity and expiry.
// It is applied to every write and every read, since stored status can be stale.
type LifecyclePolicy struct {
	nearExpiryWindow time.Duration
}

// LifecycleOption configures a LifecyclePolicy
type LifecycleOption func(*LifecyclePolicy)

// WithNearExpiryWindow overrides the read-side near-expiry window
func WithNearExpiryWindow(d time.Duration) LifecycleOption {
	return func(p *LifecyclePolicy) {
		if d > 0 {
			p.nearExpiryWindow = d
		}
	}
}

// NewLifecyclePolicy creates a policy with the default 30 day near-expiry window
func NewLifecyclePolicy(opts ...LifecycleOption) LifecyclePolicy {
	p := LifecyclePolicy{nearExpiryWindow: DefaultNearExpiryWindow}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// NearExpiryWindow returns the configured read-side window
func (p LifecyclePolicy) NearExpiryWindow() time.Duration {
	return p.nearExpiryWindow
}

// ApplyOnWrite fixes next.Status before it is persisted. previous is the stored state
// (nil on create). Rules run in order:
//  1. active with zero quantity becomes depleted
//  2. active past its expiry becomes expired (after 1, so depletion wins a tie)
//  3. depleted refilled from zero becomes active again, then rule 2 is rechecked
//
// Expired and recalled batches are never resurrected. Applying the policy twice is a no-op.
func (p LifecyclePolicy) ApplyOnWrite(previous, next *Batch, now time.Time) Transition {
	t := Transition{From: next.Status}

	if next.Quantity == 0 && next.Status == BatchStatusActive {
		next.Status = BatchStatusDepleted
	}
	if next.IsExpiredAt(now) && next.Status == BatchStatusActive {
		next.Status = BatchStatusExpired
	}
	if previous != nil &&
		previous.Status == BatchStatusDepleted &&
		previous.Quantity == 0 &&
		next.Quantity > 0 &&
		next.Status == BatchStatusDepleted {
		next.Status = BatchStatusActive
		if next.IsExpiredAt(now) {
			next.Status = BatchStatusExpired
		}
	}

	t.To = next.Status
	return t
}

// StatusAfterDeduction returns the status a batch takes when an allocation leaves it
// with remaining units. Used for conditional updates where only quantity is known.
func (p LifecyclePolicy) StatusAfterDeduction(remaining int64) BatchStatus {
	if remaining == 0 {
		return BatchStatusDepleted
	}
	return BatchStatusActive
}

// BatchView is a read model of a batch with presentation-only derived fields
type BatchView struct {
	Batch           *Batch
	EffectiveStatus BatchStatus
	NearExpiry      bool
	DaysUntilExpiry *int
}

// DeriveOnRead computes the read-side view. It never mutates b.
func (p LifecyclePolicy) DeriveOnRead(b *Batch, now time.Time) BatchView {
	view := BatchView{Batch: b, EffectiveStatus: b.Status}

	if b.Status == BatchStatusActive && b.IsExpiredAt(now) {
		view.EffectiveStatus = BatchStatusExpired
		return view
	}
	if view.EffectiveStatus != BatchStatusActive {
		return view
	}

	days, ok := b.DaysUntilExpiry(now)
	if !ok {
		return view
	}
	windowDays := int(p.nearExpiryWindow.Hours() / 24)
	if days > 0 && days <= windowDays {
		view.NearExpiry = true
		view.DaysUntilExpiry = &days
	}
	return view
}
