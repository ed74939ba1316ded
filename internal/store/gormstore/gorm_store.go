// Package gormstore implements store.OrderRepository with Gorm on SQLite.
package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"oitrader/internal/store"
)

// ErrOrderNotFound is returned by UpdatePositionID for unknown orders.
var ErrOrderNotFound = errors.New("order not found")

type orderModel struct {
	ID            int64             `gorm:"column:id;primaryKey"`
	OrderID       string            `gorm:"column:order_id;uniqueIndex"`
	ClientOrderID string            `gorm:"column:client_order_id"`
	PositionID    string            `gorm:"column:position_id;index"`
	SignalID      string            `gorm:"column:signal_id"`
	Mode          string            `gorm:"column:mode;index:idx_orders_mode_created"`
	Symbol        string            `gorm:"column:symbol;index"`
	Side          string            `gorm:"column:side"`
	PositionSide  string            `gorm:"column:position_side"`
	Type          string            `gorm:"column:type"`
	Purpose       string            `gorm:"column:purpose"`
	Status        string            `gorm:"column:status"`
	Quantity      float64           `gorm:"column:quantity"`
	Price         float64           `gorm:"column:price"`
	StopPrice     float64           `gorm:"column:stop_price"`
	Commission    float64           `gorm:"column:commission"`
	RealizedPnL   float64           `gorm:"column:realized_pnl"`
	ReduceOnly    bool              `gorm:"column:reduce_only"`
	Meta          datatypes.JSONMap `gorm:"column:meta"`
	CreatedAt     time.Time         `gorm:"column:created_at;index:idx_orders_mode_created"`
	UpdatedAt     time.Time         `gorm:"column:updated_at"`
}

func (orderModel) TableName() string { return "orders" }

// GormStore is the order repository.
type GormStore struct {
	db *gorm.DB
}

var _ store.OrderRepository = (*GormStore)(nil)

// NewGormStore opens (and migrates) the database at path on the pure-Go
// sqlite driver.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&orderModel{}); err != nil {
		return nil, fmt.Errorf("gorm store migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a second connection lets HTTP reads overlap a write.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateOrder inserts rec. A repeated order id updates the mutable fields
// instead of failing, so replays after a restart are harmless.
func (s *GormStore) CreateOrder(ctx context.Context, rec store.OrderRecord) error {
	if strings.TrimSpace(rec.OrderID) == "" {
		return fmt.Errorf("create order: order id is required")
	}
	m := toModel(rec)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "order_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"status":       gorm.Expr("excluded.status"),
				"quantity":     gorm.Expr("excluded.quantity"),
				"price":        gorm.Expr("excluded.price"),
				"commission":   gorm.Expr("excluded.commission"),
				"realized_pnl": gorm.Expr("excluded.realized_pnl"),
				"position_id":  gorm.Expr("COALESCE(NULLIF(excluded.position_id, ''), orders.position_id)"),
				"updated_at":   gorm.Expr("excluded.updated_at"),
			}),
		}).
		Create(&m).Error
}

func (s *GormStore) FindExistingOrderIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var found []string
	if err := s.db.WithContext(ctx).Model(&orderModel{}).
		Where("order_id IN ?", ids).
		Pluck("order_id", &found).Error; err != nil {
		return nil, fmt.Errorf("find order ids: %w", err)
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

func (s *GormStore) UpdatePositionID(ctx context.Context, orderID, positionID string) error {
	res := s.db.WithContext(ctx).Model(&orderModel{}).
		Where("order_id = ?", orderID).
		Updates(map[string]any{"position_id": positionID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("update position id %s: %w", orderID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", orderID, ErrOrderNotFound)
	}
	return nil
}

type pnlRow struct {
	PositionID string  `gorm:"column:position_id"`
	PnL        float64 `gorm:"column:pnl"`
}

// GetStatistics aggregates closed trades for mode since the given time. An
// empty mode covers every mode.
func (s *GormStore) GetStatistics(ctx context.Context, mode string, since time.Time) (store.Statistics, error) {
	var stats store.Statistics
	scoped := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&orderModel{})
		if mode != "" {
			q = q.Where("mode = ?", mode)
		}
		if !since.IsZero() {
			q = q.Where("created_at >= ?", since.UTC())
		}
		return q
	}

	var rows []pnlRow
	if err := scoped().
		Select("position_id, SUM(realized_pnl) AS pnl").
		Where("purpose IN ?", store.ClosingPurposes).
		Group("position_id").
		Scan(&rows).Error; err != nil {
		return stats, fmt.Errorf("statistics pnl: %w", err)
	}
	for _, r := range rows {
		stats.TotalTrades++
		stats.TotalPnL += r.PnL
		switch {
		case r.PnL > 0:
			stats.WinningTrades++
		case r.PnL < 0:
			stats.LosingTrades++
		}
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	}

	var fees sql.NullFloat64
	if err := scoped().Select("SUM(commission)").Row().Scan(&fees); err != nil {
		return stats, fmt.Errorf("statistics commission: %w", err)
	}
	stats.Commission = fees.Float64
	stats.NetPnL = stats.TotalPnL - stats.Commission
	return stats, nil
}

// OrdersForPosition lists the lifecycle of one position, oldest first.
func (s *GormStore) OrdersForPosition(ctx context.Context, positionID string) ([]store.OrderRecord, error) {
	var models []orderModel
	if err := s.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		Order("created_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.OrderRecord, 0, len(models))
	for _, m := range models {
		out = append(out, fromModel(m))
	}
	return out, nil
}

func toModel(rec store.OrderRecord) orderModel {
	now := time.Now().UTC()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	var meta datatypes.JSONMap
	if len(rec.Meta) > 0 {
		meta = datatypes.JSONMap(rec.Meta)
	}
	return orderModel{
		OrderID:       rec.OrderID,
		ClientOrderID: rec.ClientOrderID,
		PositionID:    rec.PositionID,
		SignalID:      rec.SignalID,
		Mode:          rec.Mode,
		Symbol:        rec.Symbol,
		Side:          rec.Side,
		PositionSide:  rec.PositionSide,
		Type:          rec.Type,
		Purpose:       rec.Purpose,
		Status:        rec.Status,
		Quantity:      rec.Quantity,
		Price:         rec.Price,
		StopPrice:     rec.StopPrice,
		Commission:    rec.Commission,
		RealizedPnL:   rec.RealizedPnL,
		ReduceOnly:    rec.ReduceOnly,
		Meta:          meta,
		CreatedAt:     created.UTC(),
		UpdatedAt:     now,
	}
}

func fromModel(m orderModel) store.OrderRecord {
	return store.OrderRecord{
		OrderID:       m.OrderID,
		ClientOrderID: m.ClientOrderID,
		PositionID:    m.PositionID,
		SignalID:      m.SignalID,
		Mode:          m.Mode,
		Symbol:        m.Symbol,
		Side:          m.Side,
		PositionSide:  m.PositionSide,
		Type:          m.Type,
		Purpose:       m.Purpose,
		Status:        m.Status,
		Quantity:      m.Quantity,
		Price:         m.Price,
		StopPrice:     m.StopPrice,
		Commission:    m.Commission,
		RealizedPnL:   m.RealizedPnL,
		ReduceOnly:    m.ReduceOnly,
		Meta:          decodeMeta(m.Meta),
		CreatedAt:     m.CreatedAt,
	}
}

// decodeMeta turns the json.Number values JSONMap scans into float64 so
// callers read back what they stored. An empty map reads as nil.
func decodeMeta(m datatypes.JSONMap) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = decodeMetaValue(v)
	}
	return out
}

func decodeMetaValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = decodeMetaValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = decodeMetaValue(e)
		}
		return out
	default:
		return v
	}
}
