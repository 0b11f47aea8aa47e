package contracts

import (
	"fmt"

	"github.com/google/uuid"
)

// Transition is the computed outcome of one negotiation action. The caller
// persists the status change and appends the matching round entry.
type Transition struct {
	NextStatus string
	// ReplacesTerms is set when the action carries a new terms snapshot
	// (counter-offers).
	ReplacesTerms bool
}

// NextNegotiationStatus computes the negotiation edge for action applied by
// actorID, or fails with a typed error. It never mutates the contract.
//
// SystemCancel is only legal with the system actor; request handlers must
// never be able to reach it with a user id.
func NextNegotiationStatus(c *Contract, actorID uuid.UUID, action string) (Transition, error) {
	if action == ActionSystemCancel {
		return systemCancel(c, actorID)
	}
	if !c.IsParty(actorID) {
		return Transition{}, fmt.Errorf("%w: actor %s is not a party", ErrForbidden, actorID)
	}
	switch c.Kind {
	case KindFarmerHHM:
		return nextFarmerHHM(c, actorID, action)
	case KindHHMFactory:
		return nextHHMFactory(c, actorID, action)
	default:
		return Transition{}, fmt.Errorf("%w: unknown contract kind %q", ErrValidation, c.Kind)
	}
}

func systemCancel(c *Contract, actorID uuid.UUID) (Transition, error) {
	if actorID != SystemActorID {
		return Transition{}, fmt.Errorf("%w: system_cancel is not a user action", ErrForbidden)
	}
	if c.Status != StatusPending {
		return Transition{}, fmt.Errorf("%w: cannot system-cancel %q contract", ErrInvalidStateTransition, c.Status)
	}
	return Transition{NextStatus: StatusAutoCancelled}, nil
}

// nextFarmerHHM: pending -> accepted | rejected, counterparty only.
func nextFarmerHHM(c *Contract, actorID uuid.UUID, action string) (Transition, error) {
	if c.Status != StatusPending {
		return Transition{}, fmt.Errorf("%w: %s contract does not take %q", ErrInvalidStateTransition, c.Status, action)
	}
	switch action {
	case ActionAccept, ActionReject:
		if actorID != c.CounterpartyID {
			return Transition{}, fmt.Errorf("%w: only the receiving hub manager may %s", ErrForbidden, action)
		}
		if action == ActionAccept {
			return Transition{NextStatus: StatusAccepted}, nil
		}
		return Transition{NextStatus: StatusRejected}, nil
	case ActionOffer:
		return Transition{}, fmt.Errorf("%w: farmer requests take no counter-offers", ErrInvalidStateTransition)
	default:
		return Transition{}, fmt.Errorf("%w: unknown action %q", ErrValidation, action)
	}
}

// nextHHMFactory: initiated -> offered (counterparty) or accepted directly,
// offered -> offered (bounded counter rounds) -> initiator finalizes.
func nextHHMFactory(c *Contract, actorID uuid.UUID, action string) (Transition, error) {
	switch c.Status {
	case StatusInitiated:
		switch action {
		case ActionOffer:
			if actorID != c.CounterpartyID {
				return Transition{}, fmt.Errorf("%w: only the counterparty may counter-offer first", ErrForbidden)
			}
			return Transition{NextStatus: StatusOffered, ReplacesTerms: true}, nil
		case ActionAccept:
			// Direct acceptance with no counter round.
			if actorID != c.CounterpartyID {
				return Transition{}, fmt.Errorf("%w: the initiator cannot accept its own terms", ErrForbidden)
			}
			return Transition{NextStatus: StatusInitiatorAccepted}, nil
		case ActionReject:
			if actorID != c.CounterpartyID {
				return Transition{}, fmt.Errorf("%w: the initiator cannot reject its own terms", ErrForbidden)
			}
			return Transition{NextStatus: StatusInitiatorRejected}, nil
		default:
			return Transition{}, fmt.Errorf("%w: unknown action %q", ErrValidation, action)
		}
	case StatusOffered:
		switch action {
		case ActionAccept, ActionReject:
			if actorID != c.InitiatorID {
				return Transition{}, fmt.Errorf("%w: only the initiator finalizes an offered contract", ErrForbidden)
			}
			if action == ActionAccept {
				return Transition{NextStatus: StatusInitiatorAccepted}, nil
			}
			return Transition{NextStatus: StatusInitiatorRejected}, nil
		case ActionOffer:
			// Another counter round: either party may float fresh terms
			// until the round cap is hit.
			if c.OfferRounds >= MaxOfferRounds {
				return Transition{}, fmt.Errorf("%w: counter-offer limit of %d reached", ErrInvalidStateTransition, MaxOfferRounds)
			}
			return Transition{NextStatus: StatusOffered, ReplacesTerms: true}, nil
		default:
			return Transition{}, fmt.Errorf("%w: unknown action %q", ErrValidation, action)
		}
	default:
		return Transition{}, fmt.Errorf("%w: %s contract does not take %q", ErrInvalidStateTransition, c.Status, action)
	}
}
