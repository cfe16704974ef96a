package bitfinex

import (
	"encoding/json"
	"fmt"

	"crypto_feed/internal/domain"
)

// eventFrame is any object frame: subscribe acks, info and error notices.
type eventFrame struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	ChanID  int64  `json:"chanId"`
	Symbol  string `json:"symbol"`
	Version int    `json:"version"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
}

type subscribeRequest struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

type unsubscribeRequest struct {
	Event  string `json:"event"`
	ChanID int64  `json:"chanId"`
}

// tradeTuple is [ID, MTS, AMOUNT, PRICE]. A negative amount is a sell.
type tradeTuple struct {
	ID     int64
	Mts    int64
	Amount float64
	Price  float64
}

func decodeTrade(raw json.RawMessage) (tradeTuple, error) {
	var f []float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return tradeTuple{}, fmt.Errorf("%w: trade: %v", domain.ErrMalformedPayload, err)
	}
	if len(f) < 4 {
		return tradeTuple{}, fmt.Errorf("%w: trade has %d fields", domain.ErrMalformedPayload, len(f))
	}
	return tradeTuple{ID: int64(f[0]), Mts: int64(f[1]), Amount: f[2], Price: f[3]}, nil
}

// tickerTuple is [BID, BID_SIZE, ASK, ASK_SIZE, DAILY_CHANGE,
// DAILY_CHANGE_RELATIVE, LAST_PRICE, VOLUME, HIGH, LOW].
type tickerTuple struct {
	Bid                 float64
	BidSize             float64
	Ask                 float64
	AskSize             float64
	DailyChange         float64
	DailyChangeRelative float64
	LastPrice           float64
	Volume              float64
	High                float64
	Low                 float64
}

func decodeTicker(raw json.RawMessage) (tickerTuple, error) {
	var f []float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return tickerTuple{}, fmt.Errorf("%w: ticker: %v", domain.ErrMalformedPayload, err)
	}
	if len(f) < 10 {
		return tickerTuple{}, fmt.Errorf("%w: ticker has %d fields", domain.ErrMalformedPayload, len(f))
	}
	return tickerTuple{
		Bid: f[0], BidSize: f[1], Ask: f[2], AskSize: f[3],
		DailyChange: f[4], DailyChangeRelative: f[5],
		LastPrice: f[6], Volume: f[7], High: f[8], Low: f[9],
	}, nil
}
