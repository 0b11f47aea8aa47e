package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/harvestlink/harvestlink-backend/internal/data/repos"
	"github.com/harvestlink/harvestlink-backend/internal/domain/contracts"
	"github.com/harvestlink/harvestlink-backend/internal/platform/dbctx"
	"github.com/harvestlink/harvestlink-backend/internal/platform/logger"
	"github.com/harvestlink/harvestlink-backend/internal/platform/requestdata"
	"github.com/harvestlink/harvestlink-backend/internal/services"
)

type ContractHandler struct {
	log       *logger.Logger
	contracts services.ContractService
}

func NewContractHandler(log *logger.Logger, contractService services.ContractService) *ContractHandler {
	return &ContractHandler{
		log:       log.With("handler", "ContractHandler"),
		contracts: contractService,
	}
}

func actor(c *gin.Context) (*requestdata.RequestData, bool) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.ActorID == uuid.Nil {
		RespondError(c, http.StatusForbidden, "forbidden", fmt.Errorf("missing actor identity"))
		return nil, false
	}
	return rd, true
}

func contractID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid contract id"))
		return uuid.Nil, false
	}
	return id, true
}

func (ch *ContractHandler) Create(c *gin.Context) {
	rd, ok := actor(c)
	if !ok {
		return
	}
	var req struct {
		CounterpartyID  uuid.UUID       `json:"counterparty_id"`
		Kind            string          `json:"kind"`
		Terms           json.RawMessage `json:"terms"`
		DurationDays    int             `json:"duration_days"`
		GracePeriodDays int             `json:"grace_period_days"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	created, err := ch.contracts.Request(dbctx.New(c.Request.Context()), rd.ActorID, rd.Role, services.CreateContractInput{
		CounterpartyID:  req.CounterpartyID,
		Kind:            req.Kind,
		Terms:           datatypes.JSON(req.Terms),
		DurationDays:    req.DurationDays,
		GracePeriodDays: req.GracePeriodDays,
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"contract": created})
}

func (ch *ContractHandler) Respond(c *gin.Context) {
	rd, ok := actor(c)
	if !ok {
		return
	}
	id, ok := contractID(c)
	if !ok {
		return
	}
	var req struct {
		Action  string          `json:"action"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	updated, cancelled, err := ch.contracts.Respond(dbctx.New(c.Request.Context()), rd.ActorID, id, services.RespondInput{
		Action:  req.Action,
		Payload: datatypes.JSON(req.Payload),
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"contract":               updated,
		"cancelled_contract_ids": cancelled,
	})
}

func (ch *ContractHandler) Advance(c *gin.Context) {
	rd, ok := actor(c)
	if !ok {
		return
	}
	id, ok := contractID(c)
	if !ok {
		return
	}
	var req struct {
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	updated, err := ch.contracts.Advance(dbctx.New(c.Request.Context()), rd.ActorID, id, req.Action)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"contract": updated})
}

func (ch *ContractHandler) Get(c *gin.Context) {
	rd, ok := actor(c)
	if !ok {
		return
	}
	id, ok := contractID(c)
	if !ok {
		return
	}
	found, err := ch.contracts.GetForActor(dbctx.New(c.Request.Context()), rd.ActorID, id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"contract": found})
}

func (ch *ContractHandler) List(c *gin.Context) {
	rd, ok := actor(c)
	if !ok {
		return
	}
	filter := repos.ContractFilter{
		Status: c.Query("status"),
		Role:   c.Query("role"),
		Kind:   c.Query("kind"),
	}
	if filter.Role != "" && filter.Role != "initiator" && filter.Role != "counterparty" {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("role must be initiator or counterparty"))
		return
	}
	if filter.Kind != "" && filter.Kind != contracts.KindFarmerHHM && filter.Kind != contracts.KindHHMFactory {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("unknown contract kind %q", filter.Kind))
		return
	}
	list, err := ch.contracts.ListForActor(dbctx.New(c.Request.Context()), rd.ActorID, filter)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"contracts": list})
}
