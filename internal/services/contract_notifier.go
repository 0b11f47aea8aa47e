package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/harvestlink/harvestlink-backend/internal/clients/redis"
	"github.com/harvestlink/harvestlink-backend/internal/domain/contracts"
	"github.com/harvestlink/harvestlink-backend/internal/platform/logger"
)

const (
	EventContractRequested = "contract.requested"
	EventContractResponded = "contract.responded"
	EventContractCancelled = "contract.auto_cancelled"
	EventContractLifecycle = "contract.lifecycle"
)

// ContractNotifier pushes contract changes to the external notification
// collaborator. Delivery is best effort; a failed publish never fails the
// transition that produced it.
type ContractNotifier interface {
	ContractRequested(ctx context.Context, c *contracts.Contract)
	ContractResponded(ctx context.Context, c *contracts.Contract, action string)
	ContractAutoCancelled(ctx context.Context, c *contracts.Contract, triggeredBy uuid.UUID)
	LifecycleAdvanced(ctx context.Context, c *contracts.Contract, action string)
}

type contractNotifier struct {
	log *logger.Logger
	bus redis.EventBus
}

func NewContractNotifier(baseLog *logger.Logger, bus redis.EventBus) ContractNotifier {
	return &contractNotifier{log: baseLog.With("service", "ContractNotifier"), bus: bus}
}

func (n *contractNotifier) publish(ctx context.Context, recipient uuid.UUID, event string, data map[string]any) {
	if n.bus == nil {
		return
	}
	err := n.bus.Publish(ctx, redis.Event{
		Channel: recipient.String(),
		Event:   event,
		Data:    data,
	})
	if err != nil {
		n.log.Warn("contract event publish failed", "event", event, "error", err)
	}
}

func (n *contractNotifier) ContractRequested(ctx context.Context, c *contracts.Contract) {
	n.publish(ctx, c.CounterpartyID, EventContractRequested, map[string]any{
		"contract_id": c.ID,
		"kind":        c.Kind,
		"status":      c.Status,
	})
}

func (n *contractNotifier) ContractResponded(ctx context.Context, c *contracts.Contract, action string) {
	// The party that did not act is the one that needs to hear about it.
	for _, recipient := range []uuid.UUID{c.InitiatorID, c.CounterpartyID} {
		n.publish(ctx, recipient, EventContractResponded, map[string]any{
			"contract_id": c.ID,
			"kind":        c.Kind,
			"action":      action,
			"status":      c.Status,
		})
	}
}

func (n *contractNotifier) ContractAutoCancelled(ctx context.Context, c *contracts.Contract, triggeredBy uuid.UUID) {
	n.publish(ctx, c.CounterpartyID, EventContractCancelled, map[string]any{
		"contract_id":           c.ID,
		"kind":                  c.Kind,
		"status":                c.Status,
		"triggered_by_contract": triggeredBy,
	})
}

func (n *contractNotifier) LifecycleAdvanced(ctx context.Context, c *contracts.Contract, action string) {
	for _, recipient := range []uuid.UUID{c.InitiatorID, c.CounterpartyID} {
		n.publish(ctx, recipient, EventContractLifecycle, map[string]any{
			"contract_id": c.ID,
			"kind":        c.Kind,
			"action":      action,
			"status":      c.Status,
		})
	}
}

// NopContractNotifier is used when no event bus is configured.
type NopContractNotifier struct{}

func (NopContractNotifier) ContractRequested(context.Context, *contracts.Contract)         {}
func (NopContractNotifier) ContractResponded(context.Context, *contracts.Contract, string) {}
func (NopContractNotifier) ContractAutoCancelled(context.Context, *contracts.Contract, uuid.UUID) {
}
func (NopContractNotifier) LifecycleAdvanced(context.Context, *contracts.Contract, string) {}
