package livehttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"oitrader/internal/logger"
	"oitrader/internal/pkg/symbol"
	"oitrader/internal/position"
	"oitrader/internal/store"
	"oitrader/internal/store/auditlog"
	"oitrader/internal/trader"
	"oitrader/internal/types"
)

// Engine is the part of the trading system the HTTP surface drives.
type Engine interface {
	Status() trader.Status
	RequestClose(ctx context.Context, positionID, reason string) error
}

// Positions reads ledger snapshots.
type Positions interface {
	OpenPositions() []types.Position
	ClosedPositions() []types.Position
}

// Stats reads the persisted order history.
type Stats interface {
	GetStatistics(ctx context.Context, mode string, since time.Time) (store.Statistics, error)
	OrdersForPosition(ctx context.Context, positionID string) ([]store.OrderRecord, error)
}

type Audit interface {
	Recent(ctx context.Context, q auditlog.Query) ([]auditlog.Entry, error)
	Counts(ctx context.Context, since time.Time) (map[string]int, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodyBytes     = 1 << 20
	closeTimeout     = 30 * time.Second
)

// Router serves the /api/live group.
type Router struct {
	engine    Engine
	positions Positions
	stats     Stats
	audit     Audit
	anomalies chan<- types.AnomalyEvent
	now       func() time.Time
}

func NewRouter(cfg ServerConfig) *Router {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Router{
		engine:    cfg.Engine,
		positions: cfg.Positions,
		stats:     cfg.Stats,
		audit:     cfg.Audit,
		anomalies: cfg.Anomalies,
		now:       now,
	}
}

// Register mounts the routes on group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/positions", r.handlePositions)
	group.GET("/positions/closed", r.handleClosedPositions)
	group.POST("/positions/:id/close", r.handleClosePosition)
	if r.stats != nil {
		group.GET("/stats", r.handleStats)
		group.GET("/positions/:id/orders", r.handlePositionOrders)
	}
	if r.audit != nil {
		group.GET("/audit", r.handleAudit)
		group.GET("/audit/counts", r.handleAuditCounts)
	}
	if r.anomalies != nil {
		group.POST("/anomalies", r.handleAnomalies)
	}
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.engine.Status())
}

func (r *Router) handlePositions(c *gin.Context) {
	positions := r.positions.OpenPositions()
	if raw := strings.TrimSpace(c.Query("symbol")); raw != "" {
		sym := symbol.Normalize(raw)
		filtered := positions[:0]
		for _, p := range positions {
			if p.Symbol == sym {
				filtered = append(filtered, p)
			}
		}
		positions = filtered
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

func (r *Router) handleClosedPositions(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	closed := r.positions.ClosedPositions()
	if len(closed) > limit {
		closed = closed[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"positions": closed, "count": len(closed)})
}

type closeRequest struct {
	Reason string `json:"reason"`
}

func (r *Router) handleClosePosition(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	var req closeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = position.ReasonManual
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), closeTimeout)
	defer cancel()
	err := r.engine.RequestClose(ctx, id, reason)
	switch {
	case err == nil:
		logger.Infof("[api] manual close id=%s reason=%s ip=%s", id, reason, c.ClientIP())
		c.JSON(http.StatusOK, gin.H{"status": "closed", "id": id})
	case errors.Is(err, position.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, position.ErrPositionClosed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, trader.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logger.Errorf("[api] manual close failed id=%s err=%v", id, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func (r *Router) handleStats(c *gin.Context) {
	since, ok := r.parseSince(c)
	if !ok {
		return
	}
	mode := c.DefaultQuery("mode", r.engine.Status().Mode)
	stats, err := r.stats.GetStatistics(c.Request.Context(), mode, since)
	if err != nil {
		logger.Errorf("[api] stats failed mode=%s err=%v", mode, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode, "stats": stats})
}

func (r *Router) handlePositionOrders(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	orders, err := r.stats.OrdersForPosition(c.Request.Context(), id)
	if err != nil {
		logger.Errorf("[api] orders for position %s failed err=%v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(orders) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no orders recorded for position " + id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"position_id": id, "orders": orders, "count": len(orders)})
}

func (r *Router) handleAudit(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	q := auditlog.Query{
		Action: strings.ToUpper(strings.TrimSpace(c.Query("action"))),
		Limit:  limit,
	}
	if raw := strings.TrimSpace(c.Query("symbol")); raw != "" {
		q.Symbol = symbol.Normalize(raw)
	}
	entries, err := r.audit.Recent(c.Request.Context(), q)
	if err != nil {
		logger.Errorf("[api] audit query failed err=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (r *Router) handleAuditCounts(c *gin.Context) {
	since, ok := r.parseSince(c)
	if !ok {
		return
	}
	counts, err := r.audit.Counts(c.Request.Context(), since)
	if err != nil {
		logger.Errorf("[api] audit counts failed err=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (r *Router) handleAnomalies(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	events, err := decodeAnomalies(raw, r.now())
	if err != nil {
		logger.Warnf("[api] anomaly rejected ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	accepted := 0
	for _, ev := range events {
		select {
		case r.anomalies <- ev:
			accepted++
		default:
			logger.Warnf("[api] anomaly queue full, dropped %d of %d", len(events)-accepted, len(events))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "anomaly queue full", "accepted": accepted})
			return
		}
	}
	logger.Debugf("[api] accepted %d anomalies ip=%s", accepted, c.ClientIP())
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}

// parseSince reads ?since= as an RFC3339 timestamp or a lookback duration
// like 24h. Empty means all time.
func (r *Router) parseSince(c *gin.Context) (time.Time, bool) {
	since, err := r.sinceFrom(c.Query("since"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
		return time.Time{}, false
	}
	return since, true
}

func (r *Router) sinceFrom(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		if d < 0 {
			d = -d
		}
		return r.now().Add(-d), nil
	}
	return time.Parse(time.RFC3339, raw)
}
