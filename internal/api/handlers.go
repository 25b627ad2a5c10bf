package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dealsignal/internal/clock"
	"dealsignal/internal/deals"
	"dealsignal/internal/pricing"
	"dealsignal/internal/storage"
)

// DealLister is the read side the handlers depend on.
type DealLister interface {
	List(ctx context.Context, q deals.Query) ([]deals.Deal, error)
	Categories(ctx context.Context) ([]string, error)
}

// ClickSink accepts clicks without blocking.
type ClickSink interface {
	Record(click storage.Click) bool
}

// Handlers serves the widget and deals page endpoints.
type Handlers struct {
	deals    DealLister
	clicks   ClickSink
	clock    clock.Clock
	maxLimit int
	logger   zerolog.Logger
}

type clickRequest struct {
	ProductID   string `json:"product_id"`
	PartnerSite string `json:"partner_site"`
}

func errorBody(msg string) gin.H {
	return gin.H{"error": msg}
}

// ListDeals handles GET /api/deals.
func (h *Handlers) ListDeals(c *gin.Context) {
	q := deals.Query{
		Category: strings.TrimSpace(c.Query("category")),
		Platform: strings.TrimSpace(c.Query("platform")),
		Limit:    h.maxLimit,
	}

	if raw, ok := c.GetQuery("limit"); ok {
		limit, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, errorBody("limit must be a positive integer"))
			return
		}
		if h.maxLimit <= 0 || limit < h.maxLimit {
			q.Limit = limit
		}
	}

	if raw := strings.TrimSpace(c.Query("signal")); raw != "" {
		signal, err := pricing.ParseSignal(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		q.Signal = signal
	}

	list, err := h.deals.List(c.Request.Context(), q)
	if err != nil {
		h.logger.Error().Err(err).Msg("list deals failed")
		c.JSON(http.StatusInternalServerError, errorBody("failed to load deals"))
		return
	}
	c.JSON(http.StatusOK, list)
}

// ListCategories handles GET /api/categories.
func (h *Handlers) ListCategories(c *gin.Context) {
	categories, err := h.deals.Categories(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list categories failed")
		c.JSON(http.StatusInternalServerError, errorBody("failed to load categories"))
		return
	}
	c.JSON(http.StatusOK, categories)
}

// RecordClick handles POST /api/clicks. It answers before the click is stored.
func (h *Handlers) RecordClick(c *gin.Context) {
	var req clickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid json body"))
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(req.ProductID))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("product_id must be a uuid"))
		return
	}

	click := storage.Click{
		ProductID:   id.String(),
		PartnerSite: storage.NullString(strings.TrimSpace(req.PartnerSite)),
		ClickedAt:   h.clock.Now(),
	}
	h.clicks.Record(click)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// Ping handles GET /api/ping.
func (h *Handlers) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong", "time": h.clock.Now().Format(time.RFC3339)})
}
