package handler

import (
	"github.com/mailgraph/mailgraph/internal/config"
	"github.com/mailgraph/mailgraph/internal/database"
	"github.com/mailgraph/mailgraph/internal/graph"
	"github.com/mailgraph/mailgraph/internal/logger"
	"github.com/mailgraph/mailgraph/internal/repository"
	"github.com/mailgraph/mailgraph/internal/service"
)

// Handler holds all HTTP handlers
type Handler struct {
	db            *database.Postgres
	rdb           *database.Redis
	log           *logger.Logger
	cfg           *config.Config
	transportRepo *repository.TransportRepository
	messageRepo   *repository.MessageRepository
	apiLogRepo    *repository.APILogRepository
	dispatcher    *service.Dispatcher
	oauthSvc      *service.OAuthService
	tokens        *graph.TokenManager
	graphClient   *graph.Client
}

// New creates a new Handler instance
func New(
	db *database.Postgres,
	rdb *database.Redis,
	log *logger.Logger,
	cfg *config.Config,
	transportRepo *repository.TransportRepository,
	messageRepo *repository.MessageRepository,
	apiLogRepo *repository.APILogRepository,
	dispatcher *service.Dispatcher,
	oauthSvc *service.OAuthService,
	tokens *graph.TokenManager,
	graphClient *graph.Client,
) *Handler {
	return &Handler{
		db:            db,
		rdb:           rdb,
		log:           log,
		cfg:           cfg,
		transportRepo: transportRepo,
		messageRepo:   messageRepo,
		apiLogRepo:    apiLogRepo,
		dispatcher:    dispatcher,
		oauthSvc:      oauthSvc,
		tokens:        tokens,
		graphClient:   graphClient,
	}
}
