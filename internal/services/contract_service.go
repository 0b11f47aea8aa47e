package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/harvestlink/harvestlink-backend/internal/data/repos"
	"github.com/harvestlink/harvestlink-backend/internal/domain/contracts"
	"github.com/harvestlink/harvestlink-backend/internal/domain/user"
	"github.com/harvestlink/harvestlink-backend/internal/platform/dbctx"
	"github.com/harvestlink/harvestlink-backend/internal/platform/locks"
	"github.com/harvestlink/harvestlink-backend/internal/platform/logger"
	"github.com/harvestlink/harvestlink-backend/internal/platform/metrics"
)

type CreateContractInput struct {
	CounterpartyID  uuid.UUID
	Kind            string
	Terms           datatypes.JSON
	DurationDays    int
	GracePeriodDays int
}

type RespondInput struct {
	Action string
	// Payload carries the new terms snapshot on a counter-offer.
	Payload datatypes.JSON
}

// ContractService is the single entry point for contract mutation. Every
// write to the record store goes through here so the per-farmer locking
// discipline lives in exactly one place.
type ContractService interface {
	Request(dbc dbctx.Context, actorID uuid.UUID, actorRole string, in CreateContractInput) (*contracts.Contract, error)
	Respond(dbc dbctx.Context, actorID uuid.UUID, contractID uuid.UUID, in RespondInput) (*contracts.Contract, []uuid.UUID, error)
	Advance(dbc dbctx.Context, actorID uuid.UUID, contractID uuid.UUID, action string) (*contracts.Contract, error)
	GetForActor(dbc dbctx.Context, actorID uuid.UUID, contractID uuid.UUID) (*contracts.Contract, error)
	ListForActor(dbc dbctx.Context, actorID uuid.UUID, filter repos.ContractFilter) ([]*contracts.Contract, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
}

type contractService struct {
	db          *gorm.DB
	log         *logger.Logger
	contracts   repos.ContractRepo
	rounds      repos.ContractRoundRepo
	users       repos.UserRepo
	exclusivity ExclusivityCoordinator
	notify      ContractNotifier

	farmerLocks  *locks.Keyed
	lockWait     time.Duration
	defaultGrace int
}

func NewContractService(
	db *gorm.DB,
	baseLog *logger.Logger,
	contractRepo repos.ContractRepo,
	roundRepo repos.ContractRoundRepo,
	userRepo repos.UserRepo,
	exclusivity ExclusivityCoordinator,
	notify ContractNotifier,
	lockWait time.Duration,
	defaultGraceDays int,
) ContractService {
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	if defaultGraceDays < 1 {
		defaultGraceDays = 3
	}
	return &contractService{
		db:           db,
		log:          baseLog.With("service", "ContractService"),
		contracts:    contractRepo,
		rounds:       roundRepo,
		users:        userRepo,
		exclusivity:  exclusivity,
		notify:       notify,
		farmerLocks:  locks.NewKeyed(),
		lockWait:     lockWait,
		defaultGrace: defaultGraceDays,
	}
}

func (s *contractService) Request(dbc dbctx.Context, actorID uuid.UUID, actorRole string, in CreateContractInput) (*contracts.Contract, error) {
	ctx := dbc.Ctx
	if err := validateTerms(in.Terms); err != nil {
		return nil, err
	}
	if in.CounterpartyID == uuid.Nil || in.CounterpartyID == actorID {
		return nil, fmt.Errorf("%w: counterparty must be another user", contracts.ErrValidation)
	}

	counterparty, err := s.users.GetByID(ctx, dbc.Tx, in.CounterpartyID)
	if err != nil {
		if errors.Is(err, contracts.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown counterparty", contracts.ErrValidation)
		}
		return nil, err
	}

	c := &contracts.Contract{
		ID:               uuid.New(),
		Kind:             in.Kind,
		InitiatorID:      actorID,
		InitiatorRole:    actorRole,
		CounterpartyID:   counterparty.ID,
		CounterpartyRole: counterparty.Role,
		Terms:            in.Terms,
		DurationDays:     in.DurationDays,
		GracePeriodDays:  in.GracePeriodDays,
		PaymentStatus:    contracts.PaymentUnpaid,
	}

	switch in.Kind {
	case contracts.KindFarmerHHM:
		if actorRole != user.RoleFarmer {
			return nil, fmt.Errorf("%w: only farmers send work requests", contracts.ErrForbidden)
		}
		if counterparty.Role != user.RoleHHM {
			return nil, fmt.Errorf("%w: farmer requests go to a hub manager", contracts.ErrValidation)
		}
		if in.DurationDays < 1 {
			return nil, fmt.Errorf("%w: duration_days must be at least 1", contracts.ErrValidation)
		}
		if in.GracePeriodDays == 0 {
			c.GracePeriodDays = s.defaultGrace
		} else if in.GracePeriodDays < 1 {
			return nil, fmt.Errorf("%w: grace_period_days must be at least 1", contracts.ErrValidation)
		}
		farmerID := actorID
		c.FarmerID = &farmerID
		c.Status = contracts.StatusPending
	case contracts.KindHHMFactory:
		switch {
		case actorRole == user.RoleHHM && counterparty.Role == user.RoleFactory:
		case actorRole == user.RoleFactory && counterparty.Role == user.RoleHHM:
		default:
			return nil, fmt.Errorf("%w: partnership contracts run between a hub manager and a factory", contracts.ErrValidation)
		}
		if in.DurationDays < 0 || in.GracePeriodDays < 0 {
			return nil, fmt.Errorf("%w: duration_days and grace_period_days cannot be negative", contracts.ErrValidation)
		}
		c.Status = contracts.StatusInitiated
	default:
		return nil, fmt.Errorf("%w: unknown contract kind %q", contracts.ErrValidation, in.Kind)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.contracts.Create(ctx, tx, c); err != nil {
			return fmt.Errorf("create contract: %w", err)
		}
		_, err := s.rounds.Append(ctx, tx, &contracts.ContractRound{
			ContractID: c.ID,
			ActorID:    actorID,
			Action:     contracts.ActionRequest,
			Payload:    in.Terms,
		})
		if err != nil {
			return fmt.Errorf("append request round: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ContractsCreated.WithLabelValues(c.Kind).Inc()
	s.notify.ContractRequested(ctx, c)
	s.log.Info("contract requested",
		"contract_id", c.ID, "kind", c.Kind, "actor_id", actorID)
	return c, nil
}

func (s *contractService) Respond(dbc dbctx.Context, actorID uuid.UUID, contractID uuid.UUID, in RespondInput) (*contracts.Contract, []uuid.UUID, error) {
	ctx := dbc.Ctx
	if in.Action == contracts.ActionSystemCancel || contracts.IsLifecycleAction(in.Action) {
		return nil, nil, fmt.Errorf("%w: %q is not a negotiation response", contracts.ErrValidation, in.Action)
	}
	if in.Action == contracts.ActionOffer {
		if err := validateTerms(in.Payload); err != nil {
			return nil, nil, err
		}
	}

	// First read is only to learn the lock key; the authoritative state is
	// re-read inside the transaction under the lock.
	probe, err := s.contracts.GetByID(ctx, nil, contractID)
	if err != nil {
		return nil, nil, err
	}

	release, err := s.acquireLock(ctx, lockKey(probe))
	if err != nil {
		return nil, nil, err
	}
	defer release()

	var (
		c         *contracts.Contract
		cancelled []uuid.UUID
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		c, err = s.contracts.GetByID(ctx, tx, contractID)
		if err != nil {
			return err
		}

		tr, err := contracts.NextNegotiationStatus(c, actorID, in.Action)
		if err != nil {
			return err
		}

		c.Status = tr.NextStatus
		roundPayload := in.Payload
		if tr.ReplacesTerms {
			c.Terms = in.Payload
			c.OfferRounds++
		}
		if err := s.contracts.Save(ctx, tx, c); err != nil {
			return fmt.Errorf("persist transition: %w", err)
		}
		_, err = s.rounds.Append(ctx, tx, &contracts.ContractRound{
			ContractID: c.ID,
			ActorID:    actorID,
			Action:     in.Action,
			Payload:    roundPayload,
		})
		if err != nil {
			return fmt.Errorf("append response round: %w", err)
		}

		if contracts.IsAcceptedState(c.Status) {
			cancelled, err = s.exclusivity.OnAccepted(ctx, tx, c)
			if err != nil {
				return fmt.Errorf("exclusivity cascade: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, contracts.ErrInvalidStateTransition) {
			metrics.TransitionFailures.WithLabelValues("invalid_state").Inc()
		} else if errors.Is(err, contracts.ErrForbidden) {
			metrics.TransitionFailures.WithLabelValues("forbidden").Inc()
		}
		return nil, nil, err
	}

	metrics.Transitions.WithLabelValues(c.Kind, in.Action).Inc()
	if n := len(cancelled); n > 0 {
		metrics.AutoCancellations.Add(float64(n))
	}
	s.notify.ContractResponded(ctx, c, in.Action)
	for _, id := range cancelled {
		if sibling, err := s.contracts.GetByID(ctx, nil, id); err == nil {
			s.notify.ContractAutoCancelled(ctx, sibling, c.ID)
		}
	}
	s.log.Info("contract responded",
		"contract_id", c.ID, "action", in.Action, "status", c.Status,
		"cancelled_count", len(cancelled))
	return c, cancelled, nil
}

func (s *contractService) Advance(dbc dbctx.Context, actorID uuid.UUID, contractID uuid.UUID, action string) (*contracts.Contract, error) {
	ctx := dbc.Ctx
	if !contracts.IsLifecycleAction(action) {
		return nil, fmt.Errorf("%w: %q is not a lifecycle action", contracts.ErrValidation, action)
	}

	probe, err := s.contracts.GetByID(ctx, nil, contractID)
	if err != nil {
		return nil, err
	}

	release, err := s.acquireLock(ctx, lockKey(probe))
	if err != nil {
		return nil, err
	}
	defer release()

	var c *contracts.Contract
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		c, err = s.contracts.GetByID(ctx, tx, contractID)
		if err != nil {
			return err
		}
		if !c.IsParty(actorID) {
			return fmt.Errorf("%w: actor %s is not a party", contracts.ErrForbidden, actorID)
		}
		if err := contracts.AdvanceLifecycle(c, action, time.Now().UTC()); err != nil {
			return err
		}
		if err := s.contracts.Save(ctx, tx, c); err != nil {
			return fmt.Errorf("persist lifecycle transition: %w", err)
		}
		_, err = s.rounds.Append(ctx, tx, &contracts.ContractRound{
			ContractID: c.ID,
			ActorID:    actorID,
			Action:     action,
		})
		if err != nil {
			return fmt.Errorf("append lifecycle round: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, contracts.ErrInvalidStateTransition) {
			metrics.TransitionFailures.WithLabelValues("invalid_state").Inc()
		}
		return nil, err
	}

	metrics.Transitions.WithLabelValues(c.Kind, action).Inc()
	s.notify.LifecycleAdvanced(ctx, c, action)
	s.log.Info("contract lifecycle advanced",
		"contract_id", c.ID, "action", action, "status", c.Status)
	return c, nil
}

func (s *contractService) GetForActor(dbc dbctx.Context, actorID uuid.UUID, contractID uuid.UUID) (*contracts.Contract, error) {
	c, err := s.contracts.GetByIDWithRounds(dbc.Ctx, dbc.Tx, contractID)
	if err != nil {
		return nil, err
	}
	if !c.IsParty(actorID) {
		return nil, fmt.Errorf("%w: contracts are visible to their parties only", contracts.ErrForbidden)
	}
	return c, nil
}

func (s *contractService) ListForActor(dbc dbctx.Context, actorID uuid.UUID, filter repos.ContractFilter) ([]*contracts.Contract, error) {
	return s.contracts.ListForActor(dbc.Ctx, dbc.Tx, actorID, filter)
}

// ExpireOverdue moves pending FarmerHHM requests whose grace period has
// lapsed to auto_cancelled. Advisory: it runs from the optional sweep, and
// correctness never depends on it.
func (s *contractService) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	pending, err := s.contracts.ListPendingFarmerHHM(ctx, nil)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, probe := range pending {
		deadline := probe.ResponseDeadline()
		if deadline.IsZero() || now.Before(deadline) {
			continue
		}
		if err := s.expireOne(ctx, probe); err != nil {
			if errors.Is(err, contracts.ErrBusy) || errors.Is(err, contracts.ErrInvalidStateTransition) {
				// Lost the race to a live response; the sweep picks the
				// contract up again next tick if it is still pending.
				continue
			}
			return expired, err
		}
		expired++
	}
	if expired > 0 {
		metrics.AutoCancellations.Add(float64(expired))
		s.log.Info("expiry sweep cancelled overdue requests", "count", expired)
	}
	return expired, nil
}

func (s *contractService) expireOne(ctx context.Context, probe *contracts.Contract) error {
	release, err := s.acquireLock(ctx, lockKey(probe))
	if err != nil {
		return err
	}
	defer release()

	var c *contracts.Contract
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		c, err = s.contracts.GetByID(ctx, tx, probe.ID)
		if err != nil {
			return err
		}
		tr, err := contracts.NextNegotiationStatus(c, contracts.SystemActorID, contracts.ActionSystemCancel)
		if err != nil {
			return err
		}
		c.Status = tr.NextStatus
		if err := s.contracts.Save(ctx, tx, c); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]any{"reason": "grace_period_expired"})
		_, err = s.rounds.Append(ctx, tx, &contracts.ContractRound{
			ContractID: c.ID,
			ActorID:    contracts.SystemActorID,
			Action:     contracts.ActionSystemCancel,
			Payload:    datatypes.JSON(payload),
		})
		return err
	})
	if err != nil {
		return err
	}
	s.notify.ContractAutoCancelled(ctx, c, uuid.Nil)
	return nil
}

func (s *contractService) acquireLock(ctx context.Context, key uuid.UUID) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	release, err := s.farmerLocks.Acquire(lockCtx, key)
	if err != nil {
		// The caller going away is not contention.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.LockBusy.Inc()
		return nil, fmt.Errorf("%w: lock wait exceeded %s", contracts.ErrBusy, s.lockWait)
	}
	return release, nil
}

// lockKey serializes FarmerHHM mutations per farmer (the exclusivity scope)
// and everything else per contract.
func lockKey(c *contracts.Contract) uuid.UUID {
	if c.FarmerID != nil {
		return *c.FarmerID
	}
	return c.ID
}

func validateTerms(terms datatypes.JSON) error {
	raw := bytes.TrimSpace([]byte(terms))
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("{}")) {
		return fmt.Errorf("%w: terms are required", contracts.ErrValidation)
	}
	if !json.Valid(raw) {
		return fmt.Errorf("%w: terms must be valid JSON", contracts.ErrValidation)
	}
	return nil
}
