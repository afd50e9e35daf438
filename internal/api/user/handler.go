package user

import (
	"github.com/olytrack/olytrack/internal/auth"
	"github.com/olytrack/olytrack/internal/config"
	"github.com/olytrack/olytrack/internal/judge"
	"github.com/olytrack/olytrack/internal/practice"
	"github.com/olytrack/olytrack/internal/pubsub"
	"github.com/olytrack/olytrack/internal/virtual"
	"gorm.io/gorm"
)

// Services are the domain services behind the user API.
type Services struct {
	Virtual  *virtual.Service
	Practice *practice.Service
	Judges   *judge.Registry
	Broker   *pubsub.Broker
	GitHub   *auth.GitHubHandler
}

// Handler holds all dependencies for the user API handlers.
type Handler struct {
	cfg      *config.Config
	db       *gorm.DB
	virtual  *virtual.Service
	practice *practice.Service
	judges   *judge.Registry
	broker   *pubsub.Broker
	github   *auth.GitHubHandler
	accounts *auth.Accounts
}

func NewHandler(cfg *config.Config, db *gorm.DB, svc Services) *Handler {
	broker := svc.Broker
	if broker == nil {
		broker = pubsub.GetBroker()
	}
	return &Handler{
		cfg:      cfg,
		db:       db,
		virtual:  svc.Virtual,
		practice: svc.Practice,
		judges:   svc.Judges,
		broker:   broker,
		github:   svc.GitHub,
		accounts: auth.NewAccounts(db, cfg.Auth.JWT),
	}
}

func (h *Handler) enabledPlatforms() []string {
	enabled := []string{}
	if h.judges == nil {
		return enabled
	}
	for _, client := range h.judges.Clients() {
		enabled = append(enabled, client.Platform())
	}
	return enabled
}
