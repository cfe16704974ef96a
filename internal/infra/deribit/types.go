package deribit

import (
	"encoding/json"
	"fmt"

	"crypto_feed/internal/domain"

	"github.com/shopspring/decimal"
)

const jsonRPCVersion = "2.0"

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type subscribeParams struct {
	Channels []string `json:"channels"`
}

// rpcMessage covers responses ({id, result|error}) and notifications
// ({method, params}).
type rpcMessage struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      json.RawMessage    `json:"id"`
	Method  string             `json:"method"`
	Params  *notificationParam `json:"params"`
	Result  json.RawMessage    `json:"result"`
	Error   *rpcError          `json:"error"`
}

type notificationParam struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type versionResult struct {
	Version string `json:"version"`
}

type tradeData struct {
	TradeID        string  `json:"trade_id"`
	InstrumentName string  `json:"instrument_name"`
	Timestamp      int64   `json:"timestamp"`
	Price          float64 `json:"price"`
	Amount         float64 `json:"amount"`
	Direction      string  `json:"direction"`
	MarkPrice      float64 `json:"mark_price"`
}

type tickerStats struct {
	Volume      *float64 `json:"volume"`
	PriceChange *float64 `json:"price_change"` // percent over 24h
	High        *float64 `json:"high"`
	Low         *float64 `json:"low"`
}

type tickerData struct {
	InstrumentName string       `json:"instrument_name"`
	Timestamp      int64        `json:"timestamp"`
	LastPrice      *float64     `json:"last_price"`
	MarkPrice      float64      `json:"mark_price"`
	BestBidPrice   *float64     `json:"best_bid_price"`
	BestBidAmount  *float64     `json:"best_bid_amount"`
	BestAskPrice   *float64     `json:"best_ask_price"`
	BestAskAmount  *float64     `json:"best_ask_amount"`
	Stats          *tickerStats `json:"stats"`
}

const (
	bookSnapshot = "snapshot"
	bookChange   = "change"

	actionDelete = "delete"
)

// bookData is one book notification. Grouped books carry no type and are
// full snapshots.
type bookData struct {
	Type           string      `json:"type"`
	Timestamp      int64       `json:"timestamp"`
	InstrumentName string      `json:"instrument_name"`
	ChangeID       int64       `json:"change_id"`
	PrevChangeID   int64       `json:"prev_change_id"`
	Bids           []bookEntry `json:"bids"`
	Asks           []bookEntry `json:"asks"`
}

// bookEntry is [action, price, amount] or, for grouped books, [price, amount].
// Prices and amounts may be JSON numbers or strings.
type bookEntry struct {
	Action string
	Price  decimal.Decimal
	Amount decimal.Decimal
}

func (e *bookEntry) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	var price, amount json.RawMessage
	switch len(raw) {
	case 3:
		if err := json.Unmarshal(raw[0], &e.Action); err != nil {
			return fmt.Errorf("%w: book action: %v", domain.ErrMalformedPayload, err)
		}
		price, amount = raw[1], raw[2]
	case 2:
		price, amount = raw[0], raw[1]
	default:
		return fmt.Errorf("%w: book entry has %d fields", domain.ErrMalformedPayload, len(raw))
	}

	if err := e.Price.UnmarshalJSON(price); err != nil {
		return fmt.Errorf("%w: book price: %v", domain.ErrMalformedPayload, err)
	}
	if err := e.Amount.UnmarshalJSON(amount); err != nil {
		return fmt.Errorf("%w: book amount: %v", domain.ErrMalformedPayload, err)
	}
	return nil
}
