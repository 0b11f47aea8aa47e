package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/harvestlink/harvestlink-backend/internal/data/repos"
	"github.com/harvestlink/harvestlink-backend/internal/domain"
	"github.com/harvestlink/harvestlink-backend/internal/domain/contracts"
	"github.com/harvestlink/harvestlink-backend/internal/domain/user"
	"github.com/harvestlink/harvestlink-backend/internal/platform/dbctx"
	"github.com/harvestlink/harvestlink-backend/internal/platform/logger"
)

type testEnv struct {
	db       *gorm.DB
	service  ContractService
	contract repos.ContractRepo
	rounds   repos.ContractRoundRepo
	users    repos.UserRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(domain.AllModels()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}

	contractRepo := repos.NewContractRepo(db, log)
	roundRepo := repos.NewContractRoundRepo(db, log)
	userRepo := repos.NewUserRepo(db, log)
	exclusivity := NewExclusivityCoordinator(log, contractRepo, roundRepo)
	svc := NewContractService(db, log, contractRepo, roundRepo, userRepo, exclusivity, NopContractNotifier{}, time.Second, 3)

	return &testEnv{
		db:       db,
		service:  svc,
		contract: contractRepo,
		rounds:   roundRepo,
		users:    userRepo,
	}
}

func (e *testEnv) mustUser(t *testing.T, role string) *user.User {
	t.Helper()
	u := &user.User{
		ID:       uuid.New(),
		Email:    fmt.Sprintf("%s-%s@example.com", role, uuid.NewString()[:8]),
		Password: "x",
		Name:     role,
		Role:     role,
	}
	if _, err := e.users.Create(context.Background(), nil, u); err != nil {
		t.Fatalf("create %s user: %v", role, err)
	}
	return u
}

func dbc() dbctx.Context { return dbctx.New(context.Background()) }

func terms(s string) datatypes.JSON { return datatypes.JSON([]byte(s)) }

func (e *testEnv) mustRequest(t *testing.T, actor *user.User, in CreateContractInput) *contracts.Contract {
	t.Helper()
	c, err := e.service.Request(dbc(), actor.ID, actor.Role, in)
	if err != nil {
		t.Fatalf("request contract: %v", err)
	}
	return c
}

func (e *testEnv) roundCount(t *testing.T, contractID uuid.UUID) int64 {
	t.Helper()
	n, err := e.rounds.CountByContract(context.Background(), nil, contractID)
	if err != nil {
		t.Fatalf("count rounds: %v", err)
	}
	return n
}

func TestRequestFarmerContract(t *testing.T) {
	env := newTestEnv(t)
	farmer := env.mustUser(t, user.RoleFarmer)
	hhm := env.mustUser(t, user.RoleHHM)

	c := env.mustRequest(t, farmer, CreateContractInput{
		CounterpartyID: hhm.ID,
		Kind:           contracts.KindFarmerHHM,
		Terms:          terms(`{"work_type":"harvest","price":45000}`),
		DurationDays:   30,
	})

	if c.Status != contracts.StatusPending {
		t.Fatalf("status = %q, want pending", c.Status)
	}
	if c.FarmerID == nil || *c.FarmerID != farmer.ID {
		t.Fatalf("farmer_id not set to initiator")
	}
	if c.GracePeriodDays != 3 {
		t.Fatalf("grace_period_days = %d, want default 3", c.GracePeriodDays)
	}
	if got := env.roundCount(t, c.ID); got != 1 {
		t.Fatalf("round count = %d, want 1", got)
	}
	if c.ResponseDeadline().IsZero() {
		t.Fatal("pending farmer request should carry a response deadline")
	}
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	farmer := env.mustUser(t, user.RoleFarmer)
	hhm := env.mustUser(t, user.RoleHHM)
	factory := env.mustUser(t, user.RoleFactory)

	goodTerms := terms(`{"work_type":"harvest"}`)

	cases := []struct {
		name    string
		actor   *user.User
		in      CreateContractInput
		wantErr error
	}{
		{
			name:    "self_dealing",
			actor:   farmer,
			in:      CreateContractInput{CounterpartyID: farmer.ID, Kind: contracts.KindFarmerHHM, Terms: goodTerms, DurationDays: 10},
			wantErr: contracts.ErrValidation,
		},
		{
			name:    "unknown_kind",
			actor:   farmer,
			in:      CreateContractInput{CounterpartyID: hhm.ID, Kind: "barter", Terms: goodTerms, DurationDays: 10},
			wantErr: contracts.ErrValidation,
		},
		{
			name:    "empty_terms",
			actor:   farmer,
			in:      CreateContractInput{CounterpartyID: hhm.ID, Kind: contracts.KindFarmerHHM, Terms: terms(`{}`), DurationDays: 10},
			wantErr: contracts.ErrValidation,
		},
		{
			name:    "zero_duration",
			actor:   farmer,
			in:      CreateContractInput{CounterpartyID: hhm.ID, Kind: contracts.KindFarmerHHM, Terms: goodTerms},
			wantErr: contracts.ErrValidation,
		},
		{
			name:    "negative_grace",
			actor:   farmer,
			in:      CreateContractInput{CounterpartyID: hhm.ID, Kind: contracts.KindFarmerHHM, Terms: goodTerms, DurationDays: 10, GracePeriodDays: -1},
			wantErr: contracts.ErrValidation,
		},
		{
			name:    "farmer_request_to_factory",
			actor:   farmer,
			in:      CreateContractInput{CounterpartyID: factory.ID, Kind: contracts.KindFarmerHHM, Terms: goodTerms, DurationDays: 10},
			wantErr: contracts.ErrValidation,
		},
		{
			name:    "hhm_cannot_send_farmer_request",
			actor:   hhm,
			in:      CreateContractInput{CounterpartyID: factory.ID, Kind: contracts.KindFarmerHHM, Terms: goodTerms, DurationDays: 10},
			wantErr: contracts.ErrForbidden,
		},
		{
			name:    "partnership_needs_factory",
			actor:   hhm,
			in:      CreateContractInput{CounterpartyID: farmer.ID, Kind: contracts.KindHHMFactory, Terms: goodTerms},
			wantErr: contracts.ErrValidation,
		},
		{
			name:    "partnership_negative_duration",
			actor:   hhm,
			in:      CreateContractInput{CounterpartyID: factory.ID, Kind: contracts.KindHHMFactory, Terms: goodTerms, DurationDays: -5},
			wantErr: contracts.ErrValidation,
		},
		{
			name:    "partnership_negative_grace",
			actor:   hhm,
			in:      CreateContractInput{CounterpartyID: factory.ID, Kind: contracts.KindHHMFactory, Terms: goodTerms, GracePeriodDays: -1},
			wantErr: contracts.ErrValidation,
		},
		{
			name:    "unknown_counterparty",
			actor:   farmer,
			in:      CreateContractInput{CounterpartyID: uuid.New(), Kind: contracts.KindFarmerHHM, Terms: goodTerms, DurationDays: 10},
			wantErr: contracts.ErrValidation,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.service.Request(dbc(), tc.actor.ID, tc.actor.Role, tc.in)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestAcceptCascadesSiblings(t *testing.T) {
	env := newTestEnv(t)
	farmer := env.mustUser(t, user.RoleFarmer)
	hhmA := env.mustUser(t, user.RoleHHM)
	hhmB := env.mustUser(t, user.RoleHHM)

	in := CreateContractInput{
		Kind:         contracts.KindFarmerHHM,
		Terms:        terms(`{"work_type":"harvest","price":45000}`),
		DurationDays: 30, GracePeriodDays: 3,
	}
	in.CounterpartyID = hhmA.ID
	contractA := env.mustRequest(t, farmer, in)
	in.CounterpartyID = hhmB.ID
	contractB := env.mustRequest(t, farmer, in)

	got, cancelled, err := env.service.Respond(dbc(), hhmA.ID, contractA.ID, RespondInput{Action: contracts.ActionAccept})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if got.Status != contracts.StatusAccepted {
		t.Fatalf("status = %q, want accepted", got.Status)
	}
	if len(cancelled) != 1 || cancelled[0] != contractB.ID {
		t.Fatalf("cancelled = %v, want [%s]", cancelled, contractB.ID)
	}

	stored, err := env.contract.GetByID(context.Background(), nil, contractB.ID)
	if err != nil {
		t.Fatalf("reload contract B: %v", err)
	}
	if stored.Status != contracts.StatusAutoCancelled {
		t.Fatalf("contract B status = %q, want auto_cancelled", stored.Status)
	}
	// request + system_cancel
	if got := env.roundCount(t, contractB.ID); got != 2 {
		t.Fatalf("contract B round count = %d, want 2", got)
	}

	// The losing hub manager's response now fails cleanly.
	_, _, err = env.service.Respond(dbc(), hhmB.ID, contractB.ID, RespondInput{Action: contracts.ActionAccept})
	if !errors.Is(err, contracts.ErrInvalidStateTransition) {
		t.Fatalf("late accept: got %v, want ErrInvalidStateTransition", err)
	}
	// The failed attempt must not grow the audit trail.
	if got := env.roundCount(t, contractB.ID); got != 2 {
		t.Fatalf("contract B round count after failed accept = %d, want 2", got)
	}
}

func TestRejectDoesNotCascade(t *testing.T) {
	env := newTestEnv(t)
	farmer := env.mustUser(t, user.RoleFarmer)
	hhmA := env.mustUser(t, user.RoleHHM)
	hhmB := env.mustUser(t, user.RoleHHM)

	in := CreateContractInput{
		Kind:  contracts.KindFarmerHHM,
		Terms: terms(`{"work_type":"weeding"}`), DurationDays: 7,
	}
	in.CounterpartyID = hhmA.ID
	contractA := env.mustRequest(t, farmer, in)
	in.CounterpartyID = hhmB.ID
	contractB := env.mustRequest(t, farmer, in)

	got, cancelled, err := env.service.Respond(dbc(), hhmA.ID, contractA.ID, RespondInput{Action: contracts.ActionReject})
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if got.Status != contracts.StatusRejected {
		t.Fatalf("status = %q, want rejected", got.Status)
	}
	if len(cancelled) != 0 {
		t.Fatalf("reject must not cascade, got %v", cancelled)
	}

	stored, err := env.contract.GetByID(context.Background(), nil, contractB.ID)
	if err != nil {
		t.Fatalf("reload contract B: %v", err)
	}
	if stored.Status != contracts.StatusPending {
		t.Fatalf("contract B status = %q, want pending", stored.Status)
	}
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	farmer := env.mustUser(t, user.RoleFarmer)
	hhmA := env.mustUser(t, user.RoleHHM)
	hhmB := env.mustUser(t, user.RoleHHM)

	in := CreateContractInput{
		Kind:  contracts.KindFarmerHHM,
		Terms: terms(`{"work_type":"harvest"}`), DurationDays: 30,
	}
	in.CounterpartyID = hhmA.ID
	contractA := env.mustRequest(t, farmer, in)
	in.CounterpartyID = hhmB.ID
	contractB := env.mustRequest(t, farmer, in)

	type outcome struct {
		err error
	}
	results := make([]outcome, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _, err := env.service.Respond(dbc(), hhmA.ID, contractA.ID, RespondInput{Action: contracts.ActionAccept})
		results[0] = outcome{err: err}
	}()
	go func() {
		defer wg.Done()
		_, _, err := env.service.Respond(dbc(), hhmB.ID, contractB.ID, RespondInput{Action: contracts.ActionAccept})
		results[1] = outcome{err: err}
	}()
	wg.Wait()

	var okCount, invalidCount int
	for _, r := range results {
		switch {
		case r.err == nil:
			okCount++
		case errors.Is(r.err, contracts.ErrInvalidStateTransition):
			invalidCount++
		default:
			t.Fatalf("unexpected error: %v", r.err)
		}
	}
	if okCount != 1 || invalidCount != 1 {
		t.Fatalf("want exactly one winner and one clean failure, got ok=%d invalid=%d", okCount, invalidCount)
	}

	var accepted, autoCancelled int
	for _, id := range []uuid.UUID{contractA.ID, contractB.ID} {
		stored, err := env.contract.GetByID(context.Background(), nil, id)
		if err != nil {
			t.Fatalf("reload %s: %v", id, err)
		}
		switch stored.Status {
		case contracts.StatusAccepted:
			accepted++
		case contracts.StatusAutoCancelled:
			autoCancelled++
		default:
			t.Fatalf("contract %s in unexpected status %q", id, stored.Status)
		}
	}
	if accepted != 1 || autoCancelled != 1 {
		t.Fatalf("want one accepted and one auto_cancelled, got accepted=%d cancelled=%d", accepted, autoCancelled)
	}
}

func TestHHMFactoryNegotiation(t *testing.T) {
	env := newTestEnv(t)
	hhm := env.mustUser(t, user.RoleHHM)
	factory := env.mustUser(t, user.RoleFactory)

	c := env.mustRequest(t, hhm, CreateContractInput{
		CounterpartyID: factory.ID,
		Kind:           contracts.KindHHMFactory,
		Terms:          terms(`{"price":45000}`),
	})
	if c.Status != contracts.StatusInitiated {
		t.Fatalf("status = %q, want initiated", c.Status)
	}

	offered, cancelled, err := env.service.Respond(dbc(), factory.ID, c.ID, RespondInput{
		Action:  contracts.ActionOffer,
		Payload: terms(`{"price":40000}`),
	})
	if err != nil {
		t.Fatalf("counter-offer failed: %v", err)
	}
	if len(cancelled) != 0 {
		t.Fatalf("counter-offer must not cascade, got %v", cancelled)
	}
	if offered.Status != contracts.StatusOffered {
		t.Fatalf("status = %q, want offered", offered.Status)
	}
	if string(offered.Terms) != `{"price":40000}` {
		t.Fatalf("terms not replaced: %s", offered.Terms)
	}
	if offered.OfferRounds != 1 {
		t.Fatalf("offer_rounds = %d, want 1", offered.OfferRounds)
	}

	final, _, err := env.service.Respond(dbc(), hhm.ID, c.ID, RespondInput{Action: contracts.ActionAccept})
	if err != nil {
		t.Fatalf("initiator accept failed: %v", err)
	}
	if final.Status != contracts.StatusInitiatorAccepted {
		t.Fatalf("status = %q, want initiator_accepted", final.Status)
	}

	_, _, err = env.service.Respond(dbc(), factory.ID, c.ID, RespondInput{Action: contracts.ActionReject})
	if !errors.Is(err, contracts.ErrInvalidStateTransition) {
		t.Fatalf("reject after finalize: got %v, want ErrInvalidStateTransition", err)
	}

	// request + offer + accept
	if got := env.roundCount(t, c.ID); got != 3 {
		t.Fatalf("round count = %d, want 3", got)
	}
}

func TestHHMFactoryNoExclusivity(t *testing.T) {
	env := newTestEnv(t)
	hhm := env.mustUser(t, user.RoleHHM)
	factoryA := env.mustUser(t, user.RoleFactory)
	factoryB := env.mustUser(t, user.RoleFactory)

	in := CreateContractInput{Kind: contracts.KindHHMFactory, Terms: terms(`{"price":1}`)}
	in.CounterpartyID = factoryA.ID
	cA := env.mustRequest(t, hhm, in)
	in.CounterpartyID = factoryB.ID
	cB := env.mustRequest(t, hhm, in)

	for i, pair := range []struct {
		factory *user.User
		id      uuid.UUID
	}{{factoryA, cA.ID}, {factoryB, cB.ID}} {
		got, cancelled, err := env.service.Respond(dbc(), pair.factory.ID, pair.id, RespondInput{Action: contracts.ActionAccept})
		if err != nil {
			t.Fatalf("accept %d failed: %v", i, err)
		}
		if got.Status != contracts.StatusInitiatorAccepted {
			t.Fatalf("accept %d: status %q", i, got.Status)
		}
		if len(cancelled) != 0 {
			t.Fatalf("partnership acceptance must not cascade, got %v", cancelled)
		}
	}
}

func TestAdvanceLifecycleThroughService(t *testing.T) {
	env := newTestEnv(t)
	farmer := env.mustUser(t, user.RoleFarmer)
	hhm := env.mustUser(t, user.RoleHHM)
	stranger := env.mustUser(t, user.RoleFactory)

	c := env.mustRequest(t, farmer, CreateContractInput{
		CounterpartyID: hhm.ID,
		Kind:           contracts.KindFarmerHHM,
		Terms:          terms(`{"work_type":"harvest"}`),
		DurationDays:   30,
	})
	if _, _, err := env.service.Respond(dbc(), hhm.ID, c.ID, RespondInput{Action: contracts.ActionAccept}); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	// Payment cannot precede delivery.
	if _, err := env.service.Advance(dbc(), farmer.ID, c.ID, contracts.ActionMarkPaid); !errors.Is(err, contracts.ErrInvalidStateTransition) {
		t.Fatalf("mark_paid before delivery: got %v, want ErrInvalidStateTransition", err)
	}

	// Non-parties never advance the lifecycle.
	if _, err := env.service.Advance(dbc(), stranger.ID, c.ID, contracts.ActionMarkDelivered); !errors.Is(err, contracts.ErrForbidden) {
		t.Fatalf("stranger advance: got %v, want ErrForbidden", err)
	}

	delivered, err := env.service.Advance(dbc(), hhm.ID, c.ID, contracts.ActionMarkDelivered)
	if err != nil {
		t.Fatalf("mark_delivered failed: %v", err)
	}
	if delivered.Status != contracts.StatusDelivered || delivered.DeliveryDate == nil {
		t.Fatalf("delivery not stamped: status=%q", delivered.Status)
	}

	if _, err := env.service.Advance(dbc(), hhm.ID, c.ID, contracts.ActionMarkDelivered); !errors.Is(err, contracts.ErrAlreadyInState) {
		t.Fatalf("duplicate mark_delivered: got %v, want ErrAlreadyInState", err)
	}

	paid, err := env.service.Advance(dbc(), farmer.ID, c.ID, contracts.ActionMarkPaid)
	if err != nil {
		t.Fatalf("mark_paid failed: %v", err)
	}
	if paid.PaymentStatus != contracts.PaymentPaid || paid.PaymentDate == nil {
		t.Fatalf("payment not stamped: %q", paid.PaymentStatus)
	}

	completed, err := env.service.Advance(dbc(), farmer.ID, c.ID, contracts.ActionMarkCompleted)
	if err != nil {
		t.Fatalf("mark_completed failed: %v", err)
	}
	if completed.Status != contracts.StatusCompleted || completed.FinalizedAt == nil {
		t.Fatalf("completion not stamped: status=%q", completed.Status)
	}

	// request + accept + delivered + paid + completed. Failed attempts do
	// not append.
	if got := env.roundCount(t, c.ID); got != 5 {
		t.Fatalf("round count = %d, want 5", got)
	}
}

func TestListAndGetForActor(t *testing.T) {
	env := newTestEnv(t)
	farmer := env.mustUser(t, user.RoleFarmer)
	hhmA := env.mustUser(t, user.RoleHHM)
	hhmB := env.mustUser(t, user.RoleHHM)
	stranger := env.mustUser(t, user.RoleFactory)

	in := CreateContractInput{
		Kind:  contracts.KindFarmerHHM,
		Terms: terms(`{"work_type":"harvest"}`), DurationDays: 30,
	}
	in.CounterpartyID = hhmA.ID
	cA := env.mustRequest(t, farmer, in)
	in.CounterpartyID = hhmB.ID
	env.mustRequest(t, farmer, in)

	if _, _, err := env.service.Respond(dbc(), hhmA.ID, cA.ID, RespondInput{Action: contracts.ActionAccept}); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	all, err := env.service.ListForActor(dbc(), farmer.ID, repos.ContractFilter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("farmer sees %d contracts, want 2", len(all))
	}

	acceptedOnly, err := env.service.ListForActor(dbc(), farmer.ID, repos.ContractFilter{Status: contracts.StatusAccepted})
	if err != nil {
		t.Fatalf("list accepted: %v", err)
	}
	if len(acceptedOnly) != 1 || acceptedOnly[0].ID != cA.ID {
		t.Fatalf("accepted filter returned %d contracts", len(acceptedOnly))
	}

	asCounterparty, err := env.service.ListForActor(dbc(), hhmA.ID, repos.ContractFilter{Role: "counterparty"})
	if err != nil {
		t.Fatalf("list counterparty: %v", err)
	}
	if len(asCounterparty) != 1 {
		t.Fatalf("hhmA counterparty filter returned %d contracts", len(asCounterparty))
	}
	asInitiator, err := env.service.ListForActor(dbc(), hhmA.ID, repos.ContractFilter{Role: "initiator"})
	if err != nil {
		t.Fatalf("list initiator: %v", err)
	}
	if len(asInitiator) != 0 {
		t.Fatalf("hhmA initiated %d contracts, want 0", len(asInitiator))
	}

	full, err := env.service.GetForActor(dbc(), farmer.ID, cA.ID)
	if err != nil {
		t.Fatalf("get for actor: %v", err)
	}
	if len(full.Rounds) != 2 {
		t.Fatalf("loaded %d rounds, want 2", len(full.Rounds))
	}
	// History is returned oldest first.
	if full.Rounds[0].Action != contracts.ActionRequest || full.Rounds[1].Action != contracts.ActionAccept {
		t.Fatalf("round order wrong: %s, %s", full.Rounds[0].Action, full.Rounds[1].Action)
	}

	if _, err := env.service.GetForActor(dbc(), stranger.ID, cA.ID); !errors.Is(err, contracts.ErrForbidden) {
		t.Fatalf("stranger get: got %v, want ErrForbidden", err)
	}
	if _, err := env.service.GetForActor(dbc(), farmer.ID, uuid.New()); !errors.Is(err, contracts.ErrNotFound) {
		t.Fatalf("unknown id: got %v, want ErrNotFound", err)
	}
}

func TestRespondRejectsNonNegotiationActions(t *testing.T) {
	env := newTestEnv(t)
	farmer := env.mustUser(t, user.RoleFarmer)
	hhm := env.mustUser(t, user.RoleHHM)

	c := env.mustRequest(t, farmer, CreateContractInput{
		CounterpartyID: hhm.ID,
		Kind:           contracts.KindFarmerHHM,
		Terms:          terms(`{"work_type":"harvest"}`),
		DurationDays:   30,
	})

	for _, action := range []string{contracts.ActionSystemCancel, contracts.ActionMarkDelivered} {
		if _, _, err := env.service.Respond(dbc(), hhm.ID, c.ID, RespondInput{Action: action}); !errors.Is(err, contracts.ErrValidation) {
			t.Fatalf("%s via Respond: got %v, want ErrValidation", action, err)
		}
	}
}

func TestRespondLockContention(t *testing.T) {
	env := newTestEnv(t)
	farmer := env.mustUser(t, user.RoleFarmer)
	hhm := env.mustUser(t, user.RoleHHM)

	c := env.mustRequest(t, farmer, CreateContractInput{
		CounterpartyID: hhm.ID,
		Kind:           contracts.KindFarmerHHM,
		Terms:          terms(`{"work_type":"harvest"}`),
		DurationDays:   30,
	})

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	svc := NewContractService(
		env.db, log,
		env.contract, env.rounds, env.users,
		NewExclusivityCoordinator(log, env.contract, env.rounds),
		NopContractNotifier{},
		200*time.Millisecond, 3,
	)

	// Hold the farmer's lock so Respond has to wait.
	holder, err := svc.(*contractService).farmerLocks.Acquire(context.Background(), farmer.ID)
	if err != nil {
		t.Fatalf("acquire farmer lock: %v", err)
	}

	// A held lock surfaces as Busy once the wait budget runs out.
	if _, _, err := svc.Respond(dbc(), hhm.ID, c.ID, RespondInput{Action: contracts.ActionAccept}); !errors.Is(err, contracts.ErrBusy) {
		t.Fatalf("contended respond: got %v, want ErrBusy", err)
	}

	// The caller withdrawing mid-wait is its own cancellation, not Busy.
	cctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, _, err = svc.Respond(dbctx.Context{Ctx: cctx}, hhm.ID, c.ID, RespondInput{Action: contracts.ActionAccept})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled respond: got %v, want context.Canceled", err)
	}
	if errors.Is(err, contracts.ErrBusy) {
		t.Fatalf("cancellation misreported as busy: %v", err)
	}

	holder()

	// With the lock free the same response goes through.
	got, _, err := svc.Respond(dbc(), hhm.ID, c.ID, RespondInput{Action: contracts.ActionAccept})
	if err != nil {
		t.Fatalf("respond after release: %v", err)
	}
	if got.Status != contracts.StatusAccepted {
		t.Fatalf("status = %q, want accepted", got.Status)
	}
}

func TestExpireOverdue(t *testing.T) {
	env := newTestEnv(t)
	farmer := env.mustUser(t, user.RoleFarmer)
	hhm := env.mustUser(t, user.RoleHHM)

	stale := env.mustRequest(t, farmer, CreateContractInput{
		CounterpartyID:  hhm.ID,
		Kind:            contracts.KindFarmerHHM,
		Terms:           terms(`{"work_type":"harvest"}`),
		DurationDays:    30,
		GracePeriodDays: 1,
	})
	fresh := env.mustRequest(t, farmer, CreateContractInput{
		CounterpartyID:  hhm.ID,
		Kind:            contracts.KindFarmerHHM,
		Terms:           terms(`{"work_type":"harvest"}`),
		DurationDays:    30,
		GracePeriodDays: 5,
	})

	// Backdate the stale request past its grace period.
	backdated := time.Now().UTC().AddDate(0, 0, -2)
	if err := env.db.Model(&contracts.Contract{}).Where("id = ?", stale.ID).Update("created_at", backdated).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}

	n, err := env.service.ExpireOverdue(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("expire sweep failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d contracts, want 1", n)
	}

	staleStored, err := env.contract.GetByID(context.Background(), nil, stale.ID)
	if err != nil {
		t.Fatalf("reload stale: %v", err)
	}
	if staleStored.Status != contracts.StatusAutoCancelled {
		t.Fatalf("stale status = %q, want auto_cancelled", staleStored.Status)
	}
	if got := env.roundCount(t, stale.ID); got != 2 {
		t.Fatalf("stale round count = %d, want 2", got)
	}

	freshStored, err := env.contract.GetByID(context.Background(), nil, fresh.ID)
	if err != nil {
		t.Fatalf("reload fresh: %v", err)
	}
	if freshStored.Status != contracts.StatusPending {
		t.Fatalf("fresh status = %q, want pending", freshStored.Status)
	}
}
