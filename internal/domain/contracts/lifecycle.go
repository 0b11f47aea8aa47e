package contracts

import (
	"fmt"
	"time"
)

// AdvanceLifecycle applies one tail transition (delivered -> paid ->
// completed) in place and stamps the matching dates. It is kind-agnostic:
// any contract in an accepted state may progress, whichever protocol
// produced it. Either party may advance; party membership is checked by the
// caller along with everything else that needs the stored contract.
func AdvanceLifecycle(c *Contract, action string, now time.Time) error {
	switch action {
	case ActionMarkDelivered:
		if c.Status == StatusDelivered {
			return fmt.Errorf("%w: delivery already recorded", ErrAlreadyInState)
		}
		if !IsAcceptedState(c.Status) {
			return fmt.Errorf("%w: cannot mark %q contract delivered", ErrInvalidStateTransition, c.Status)
		}
		c.Status = StatusDelivered
		c.DeliveryDate = &now
		return nil
	case ActionMarkPaid:
		if c.Status == StatusPaid {
			return fmt.Errorf("%w: payment already recorded", ErrAlreadyInState)
		}
		if c.Status != StatusDelivered {
			return fmt.Errorf("%w: cannot mark %q contract paid", ErrInvalidStateTransition, c.Status)
		}
		c.Status = StatusPaid
		c.PaymentDate = &now
		c.PaymentStatus = PaymentPaid
		return nil
	case ActionMarkCompleted:
		if c.Status == StatusCompleted {
			return fmt.Errorf("%w: completion already recorded", ErrAlreadyInState)
		}
		if c.Status != StatusPaid {
			return fmt.Errorf("%w: cannot complete %q contract", ErrInvalidStateTransition, c.Status)
		}
		if c.PaymentStatus != PaymentPaid {
			return fmt.Errorf("%w: completion requires settled payment", ErrInvalidStateTransition)
		}
		c.Status = StatusCompleted
		c.FinalizedAt = &now
		return nil
	default:
		return fmt.Errorf("%w: unknown lifecycle action %q", ErrValidation, action)
	}
}

// IsLifecycleAction reports whether action belongs to the shared tail.
func IsLifecycleAction(action string) bool {
	switch action {
	case ActionMarkDelivered, ActionMarkPaid, ActionMarkCompleted:
		return true
	default:
		return false
	}
}
