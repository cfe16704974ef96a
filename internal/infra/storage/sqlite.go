// Package storage persists the latest quote per instrument and the last known
// state of every connector in a local SQLite database.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"crypto_feed/internal/domain"
	"crypto_feed/internal/event"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is a SQLite-backed snapshot store. It is also a dispatcher sink.
type Storage struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStorage opens (or creates) the database at path.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		return nil, &domain.ConfigError{Field: "storage.path", Err: errors.New("empty path")}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Writes come from the dispatcher and from every connector's state hook;
	// SQLite allows one writer, so all access shares a single connection.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&domain.LatestQuote{}, &domain.ConnectorStatus{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db, now: time.Now}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Quote Operations
// ======================================================================================

// Name implements engine.Sink.
func (s *Storage) Name() string { return "sqlite" }

// Publish folds a batch into the stored quotes, one transaction per batch.
func (s *Storage) Publish(ctx context.Context, events []event.Event) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		quotes := make(map[string]*domain.LatestQuote)
		for _, ev := range events {
			key := ev.GetConnector() + "|" + ev.GetSymbol()
			q, ok := quotes[key]
			if !ok {
				var err error
				if q, err = loadQuote(tx, ev.GetConnector(), ev.GetSymbol()); err != nil {
					return err
				}
				quotes[key] = q
			}
			applyEvent(q, ev)
		}

		for _, q := range quotes {
			q.UpdatedAt = s.now()
			if err := tx.Save(q).Error; err != nil {
				return fmt.Errorf("save quote %s/%s: %w", q.Connector, q.Symbol, err)
			}
		}
		return nil
	})
}

func loadQuote(tx *gorm.DB, connector, symbol string) (*domain.LatestQuote, error) {
	var q domain.LatestQuote
	res := tx.Where("connector = ? AND symbol = ?", connector, symbol).Limit(1).Find(&q)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return &domain.LatestQuote{Connector: connector, Symbol: symbol}, nil
	}
	return &q, nil
}

func applyEvent(q *domain.LatestQuote, ev event.Event) {
	switch e := ev.(type) {
	case *event.TopOfBook:
		q.BidPrice, q.BidSize = e.BidPrice, e.BidSize
		q.AskPrice, q.AskSize = e.AskPrice, e.AskSize
		q.BookTs = e.Timestamp
	case *event.Ticker:
		q.LastPrice = e.LastPrice
		q.TickerTs = e.Timestamp
	case *event.Trade:
		q.LastTrade = e.Price
		q.TradeTs = e.Timestamp
	}
}

// GetQuote retrieves the stored quote for one connector and symbol.
func (s *Storage) GetQuote(connector, symbol string) (*domain.LatestQuote, error) {
	var q domain.LatestQuote
	err := s.db.First(&q, "connector = ? AND symbol = ?", connector, symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &q, err
}

// GetAllQuotes retrieves all stored quotes.
func (s *Storage) GetAllQuotes() ([]domain.LatestQuote, error) {
	var quotes []domain.LatestQuote
	err := s.db.Order("connector, symbol").Find(&quotes).Error
	return quotes, err
}

// ======================================================================================
// Status Operations
// ======================================================================================

// RecordStatus saves the current lifecycle state of a connector.
func (s *Storage) RecordStatus(connector string, state domain.State, cause error) error {
	status := domain.ConnectorStatus{
		Connector: connector,
		State:     state.String(),
		UpdatedAt: s.now(),
	}
	if cause != nil {
		status.LastError = cause.Error()
	}
	return s.db.Save(&status).Error
}

// GetStatus retrieves the last recorded state of a connector.
func (s *Storage) GetStatus(connector string) (*domain.ConnectorStatus, error) {
	var status domain.ConnectorStatus
	err := s.db.First(&status, "connector = ?", connector).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &status, err
}
