package contracts

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Contract kinds. FarmerHHM is the farmer's one-shot work request to a
// harvest hub manager; HHMFactory is the bilateral HHM/factory negotiation.
const (
	KindFarmerHHM  = "farmer_hhm"
	KindHHMFactory = "hhm_factory"
)

// Negotiation statuses.
const (
	StatusPending           = "pending"
	StatusAccepted          = "accepted"
	StatusRejected          = "rejected"
	StatusAutoCancelled     = "auto_cancelled"
	StatusInitiated         = "initiated"
	StatusOffered           = "offered"
	StatusInitiatorAccepted = "initiator_accepted"
	StatusInitiatorRejected = "initiator_rejected"
)

// Lifecycle tail statuses, reachable only from an accepted state.
const (
	StatusDelivered = "delivered"
	StatusPaid      = "paid"
	StatusCompleted = "completed"
)

const (
	PaymentUnpaid = "unpaid"
	PaymentPaid   = "paid"
)

// Actions. SystemCancel is only ever applied by the engine itself (the
// exclusivity cascade and the expiry sweep), never by a user request.
const (
	ActionRequest       = "request"
	ActionAccept        = "accept"
	ActionReject        = "reject"
	ActionOffer         = "offer"
	ActionSystemCancel  = "system_cancel"
	ActionMarkDelivered = "mark_delivered"
	ActionMarkPaid      = "mark_paid"
	ActionMarkCompleted = "mark_completed"
)

// SystemActorID marks engine-initiated round history entries.
var SystemActorID = uuid.Nil

// MaxOfferRounds caps successive counter-offers on an HHMFactory contract.
const MaxOfferRounds = 3

type Contract struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Kind string    `gorm:"column:kind;not null;index" json:"kind"`

	InitiatorID      uuid.UUID `gorm:"type:uuid;not null;index:idx_contract_initiator_status,priority:1" json:"initiator_id"`
	InitiatorRole    string    `gorm:"column:initiator_role;not null" json:"initiator_role"`
	CounterpartyID   uuid.UUID `gorm:"type:uuid;not null;index:idx_contract_counterparty_status,priority:1" json:"counterparty_id"`
	CounterpartyRole string    `gorm:"column:counterparty_role;not null" json:"counterparty_role"`

	// FarmerID is set for FarmerHHM contracts and drives the exclusivity
	// lookup; nil for HHMFactory contracts.
	FarmerID *uuid.UUID `gorm:"type:uuid;column:farmer_id;index:idx_contract_farmer_status,priority:1" json:"farmer_id,omitempty"`

	Status string `gorm:"column:status;not null;index;index:idx_contract_farmer_status,priority:2;index:idx_contract_initiator_status,priority:2;index:idx_contract_counterparty_status,priority:2" json:"status"`

	// Terms is the current negotiation snapshot; replaced wholesale on a
	// counter-offer, never edited in place.
	Terms datatypes.JSON `gorm:"column:terms;type:jsonb;not null" json:"terms"`

	DurationDays    int `gorm:"column:duration_days;not null;default:0" json:"duration_days,omitempty"`
	GracePeriodDays int `gorm:"column:grace_period_days;not null;default:0" json:"grace_period_days,omitempty"`

	OfferRounds int `gorm:"column:offer_rounds;not null;default:0" json:"offer_rounds"`

	DeliveryDate  *time.Time `gorm:"column:delivery_date" json:"delivery_date,omitempty"`
	PaymentDate   *time.Time `gorm:"column:payment_date" json:"payment_date,omitempty"`
	PaymentStatus string     `gorm:"column:payment_status;not null;default:'unpaid'" json:"payment_status"`
	FinalizedAt   *time.Time `gorm:"column:finalized_at" json:"finalized_at,omitempty"`

	Rounds []ContractRound `gorm:"foreignKey:ContractID;references:ID" json:"rounds,omitempty"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Contract) TableName() string { return "contract" }

func (c *Contract) BeforeCreate(_ *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ContractRound is one append-only audit entry. Rows are never updated or
// deleted; every successful transition writes exactly one.
type ContractRound struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ContractID uuid.UUID      `gorm:"type:uuid;not null;index" json:"contract_id"`
	ActorID    uuid.UUID      `gorm:"type:uuid;not null" json:"actor_id"`
	Action     string         `gorm:"column:action;not null" json:"action"`
	Payload    datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;index" json:"created_at"`
}

func (ContractRound) TableName() string { return "contract_round" }

func (r *ContractRound) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// IsParty reports whether id is one of the two contract parties.
func (c *Contract) IsParty(id uuid.UUID) bool {
	return id == c.InitiatorID || id == c.CounterpartyID
}

// OtherParty returns the counterpart of id, assuming id is a party.
func (c *Contract) OtherParty(id uuid.UUID) uuid.UUID {
	if id == c.InitiatorID {
		return c.CounterpartyID
	}
	return c.InitiatorID
}

// IsAcceptedState reports whether the negotiation concluded in agreement.
// Both machines converge here before the lifecycle tail.
func IsAcceptedState(status string) bool {
	return status == StatusAccepted || status == StatusInitiatorAccepted
}

// IsNegotiationTerminal reports whether no further negotiation action is
// possible. Lifecycle tail transitions are a separate later phase.
func IsNegotiationTerminal(status string) bool {
	switch status {
	case StatusAccepted, StatusInitiatorAccepted,
		StatusRejected, StatusInitiatorRejected,
		StatusAutoCancelled:
		return true
	default:
		return false
	}
}

// ResponseDeadline is the advisory reply-by time on a FarmerHHM request,
// derived from the grace period. Zero time when no grace period applies.
func (c *Contract) ResponseDeadline() time.Time {
	if c.Kind != KindFarmerHHM || c.GracePeriodDays < 1 {
		return time.Time{}
	}
	return c.CreatedAt.AddDate(0, 0, c.GracePeriodDays)
}
