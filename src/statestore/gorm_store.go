package statestore

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradingcore/src/database"
	"tradingcore/src/model"
)

// GormStore implements Store on top of the main gorm connection.
type GormStore struct {
	db  *gorm.DB
	cfg Config
	log *logger.Entry
}

func NewGormStore() *GormStore {
	return NewGormStoreWithDB(database.MainDB)
}

func NewGormStoreWithDB(db *gorm.DB) *GormStore {
	return &GormStore{
		db:  db,
		cfg: GetConfig(),
		log: logger.WithField("component", "statestore"),
	}
}

// withRetry runs fn, retrying transient failures with exponential backoff.
// Context cancellation and record-level errors are not retried.
func (s *GormStore) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	delay := s.cfg.RetryBaseDelay
	for attempt := 0; attempt <= s.cfg.WriteRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}

		s.log.WithError(err).WithFields(logger.Fields{
			"op":      op,
			"attempt": attempt,
		}).Warn("store write failed, retrying")
	}
	return err
}

func (s *GormStore) AppendCandle(ctx context.Context, c model.Candle) error {
	return s.withRetry(ctx, "append_candle", func() error {
		// Replays over the same window overwrite rather than duplicate.
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "interval"}, {Name: "start_at"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "end_at"}),
		}).Create(&c).Error
	})
}

func (s *GormStore) AppendTick(ctx context.Context, t model.Tick) error {
	return s.withRetry(ctx, "append_tick", func() error {
		return s.db.WithContext(ctx).Create(&t).Error
	})
}

func (s *GormStore) AppendTrade(ctx context.Context, t model.Trade) error {
	return s.withRetry(ctx, "append_trade", func() error {
		return s.db.WithContext(ctx).Create(&t).Error
	})
}

func (s *GormStore) AppendEvent(ctx context.Context, e model.Event) error {
	return s.withRetry(ctx, "append_event", func() error {
		return s.db.WithContext(ctx).Create(&e).Error
	})
}

func (s *GormStore) ArchiveSignal(ctx context.Context, sig model.Signal) error {
	return s.withRetry(ctx, "archive_signal", func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&sig).Error
	})
}

func (s *GormStore) SaveOrder(ctx context.Context, o model.Order) error {
	return s.withRetry(ctx, "save_order", func() error {
		return s.db.WithContext(ctx).Save(&o).Error
	})
}

func (s *GormStore) SavePosition(ctx context.Context, p model.Position) error {
	return s.withRetry(ctx, "save_position", func() error {
		return s.db.WithContext(ctx).Save(&p).Error
	})
}

func (s *GormStore) Candles(ctx context.Context, interval string, q HistoryQuery) ([]model.Candle, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}

	var rows []model.Candle
	err := s.db.WithContext(ctx).
		Where(`symbol = ? AND "interval" = ? AND start_at >= ? AND start_at < ?`,
			q.Symbol, interval, q.From, q.To).
		Order("start_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *GormStore) Trades(ctx context.Context, q HistoryQuery) ([]model.Trade, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}

	var rows []model.Trade
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND timestamp >= ? AND timestamp < ?", q.Symbol, q.From, q.To).
		Order("timestamp ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *GormStore) Events(ctx context.Context, typePrefix string, q HistoryQuery) ([]model.Event, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}

	tx := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", q.From, q.To)
	if typePrefix != "" {
		tx = tx.Where("type LIKE ?", typePrefix+"%")
	}

	var rows []model.Event
	err := tx.Order("created_at ASC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *GormStore) Positions(ctx context.Context, symbol string, statuses ...string) ([]model.Position, error) {
	tx := s.db.WithContext(ctx)
	if symbol != "" {
		tx = tx.Where("symbol = ?", symbol)
	}
	if len(statuses) > 0 {
		tx = tx.Where("status IN ?", statuses)
	}

	var rows []model.Position
	err := tx.Order("created_at ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *GormStore) GetState(ctx context.Context, key string) ([]byte, error) {
	var entry model.StateEntry
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if entry.ExpiresAt != nil && entry.ExpiresAt.Before(time.Now().UTC()) {
		// Lazy expiry: drop the stale row and report absence.
		s.db.WithContext(ctx).Where("key = ?", key).Delete(&model.StateEntry{})
		return nil, ErrNotFound
	}
	return entry.Value, nil
}

func (s *GormStore) SetState(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := model.StateEntry{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	if ttl > 0 {
		expires := time.Now().UTC().Add(ttl)
		entry.ExpiresAt = &expires
	}

	return s.withRetry(ctx, "set_state", func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).Create(&entry).Error
	})
}

func (s *GormStore) DeleteState(ctx context.Context, key string) error {
	return s.withRetry(ctx, "delete_state", func() error {
		return s.db.WithContext(ctx).Where("key = ?", key).Delete(&model.StateEntry{}).Error
	})
}

func (s *GormStore) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", olderThan).Delete(&model.Event{})
	return res.RowsAffected, res.Error
}
