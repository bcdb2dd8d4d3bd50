package handlers

import (
	"github.com/saathi/saathi-core/internal/conversation"
	"github.com/saathi/saathi-core/internal/gateway"
	"github.com/saathi/saathi-core/internal/ratelimit"
	"github.com/saathi/saathi-core/internal/repository"
)

// GatewayStatus reports the health of the upstream messaging session.
type GatewayStatus interface {
	Status() gateway.Status
	ReconnectAttempts() int
}

// API is the operator-facing read surface: job outcomes, conversation
// snapshots and quota standing. It never mutates pipeline state.
type API struct {
	archive       repository.Archive
	conversations conversation.Store
	limiter       *ratelimit.Limiter
	gateway       GatewayStatus
	verifyToken   string
}

func NewAPI(
	archive repository.Archive,
	conversations conversation.Store,
	limiter *ratelimit.Limiter,
	gateway GatewayStatus,
	verifyToken string,
) *API {
	return &API{
		archive:       archive,
		conversations: conversations,
		limiter:       limiter,
		gateway:       gateway,
		verifyToken:   verifyToken,
	}
}
