package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"FinWindow/internal/domain/models"
	domrepo "FinWindow/internal/domain/repository"
	pkgkafka "FinWindow/pkg/kafka"
	"FinWindow/pkg/logger"
)

// InvalidationHandler consumes history.invalidated messages: it drops the portfolio's
// cached ranges, then refetches every open session on it.
type InvalidationHandler struct {
	topic    string
	cache    domrepo.HistoryCache
	registry *SessionRegistry
	metrics  domrepo.Metrics
	log      *logger.Logger
	validate *validator.Validate
}

func NewInvalidationHandler(topic string, cache domrepo.HistoryCache, registry *SessionRegistry, metrics domrepo.Metrics, log *logger.Logger) *InvalidationHandler {
	return &InvalidationHandler{
		topic:    topic,
		cache:    cache,
		registry: registry,
		metrics:  metrics,
		log:      log,
		validate: validator.New(),
	}
}

func (h *InvalidationHandler) Topic() string { return h.topic }

// message schema: {"portfolio_id": "..."}
func (h *InvalidationHandler) Handle(ctx context.Context, b []byte) error {
	var evt models.InvalidationEvent
	if err := json.Unmarshal(b, &evt); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode invalidation: %w", err)
	}
	if err := h.validate.Struct(evt); err != nil {
		h.metrics.RecordError("consumer_validate")
		return fmt.Errorf("validate invalidation: %w", err)
	}

	if h.cache != nil {
		if err := h.cache.Invalidate(ctx, evt.PortfolioID); err != nil {
			h.metrics.RecordError("cache_invalidate")
			return fmt.Errorf("invalidate cache for %s: %w", evt.PortfolioID, err)
		}
	}
	n := h.registry.RefetchPortfolio(ctx, evt.PortfolioID)
	h.log.Info("history invalidated", logger.String("portfolio", evt.PortfolioID), logger.Int("sessions_refetched", n))
	return nil
}

var _ pkgkafka.MessageHandler = (*InvalidationHandler)(nil)
