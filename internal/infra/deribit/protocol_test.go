package deribit

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"crypto_feed/internal/domain"
	"crypto_feed/internal/event"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testChannels = channelSet("BTC-PERPETUAL", "100ms", "", "")

func newTestProtocol(t *testing.T) *protocol {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newProtocol("deribit:BTC-PERPETUAL", testChannels, NewNormalizer("BTC-PERP", log), log)
}

// subscribe sends the subscribe request and feeds back the server's ack.
func subscribe(t *testing.T, p *protocol) {
	t.Helper()
	msgs, err := p.SubscribeMessages()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var req struct {
		ID     int64           `json:"id"`
		Method string          `json:"method"`
		Params subscribeParams `json:"params"`
	}
	require.NoError(t, json.Unmarshal(msgs[0], &req))
	assert.Equal(t, methodSubscribe, req.Method)

	result, _ := json.Marshal(req.Params.Channels)
	ack := `{"jsonrpc":"2.0","id":` + jsonInt(req.ID) + `,"result":` + string(result) + `}`
	events, err := p.HandleFrame([]byte(ack))
	require.NoError(t, err)
	require.Empty(t, events)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func notification(channel, data string) []byte {
	return []byte(`{"jsonrpc":"2.0","method":"subscription","params":{"channel":"` + channel + `","data":` + data + `}}`)
}

const (
	bookChannel   = "book.BTC-PERPETUAL.100ms"
	tradesChannel = "trades.BTC-PERPETUAL.100ms"
	tickerChannel = "ticker.BTC-PERPETUAL.100ms"
)

func TestChannelSet(t *testing.T) {
	tests := []struct {
		name                      string
		interval, group, depth    string
		wantTrades, wantTk, wantB string
	}{
		{"no interval", "", "", "", "trades.ETH-PERPETUAL", "ticker.ETH-PERPETUAL", "book.ETH-PERPETUAL"},
		{"interval", "100ms", "", "", "trades.ETH-PERPETUAL.100ms", "ticker.ETH-PERPETUAL.100ms", "book.ETH-PERPETUAL.100ms"},
		{"grouped", "100ms", "5", "20", "trades.ETH-PERPETUAL.100ms", "ticker.ETH-PERPETUAL.100ms", "book.ETH-PERPETUAL.5.20.100ms"},
		{"depth only", "100ms", "", "1", "trades.ETH-PERPETUAL.100ms", "ticker.ETH-PERPETUAL.100ms", "book.ETH-PERPETUAL.none.1.100ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := channelSet("ETH-PERPETUAL", tt.interval, tt.group, tt.depth)
			assert.Equal(t, []string{tt.wantTrades, tt.wantTk, tt.wantB}, got)
		})
	}
}

func TestProtocol_DeltaThenRemoveLeavesBookEmpty(t *testing.T) {
	p := newTestProtocol(t)
	subscribe(t, p)

	events, err := p.HandleFrame(notification(bookChannel, `{"type":"change","timestamp":1,"bids":[["1","100",2]],"asks":[]}`))
	require.NoError(t, err)
	assert.Empty(t, events, "ask side is empty")

	events, err = p.HandleFrame(notification(bookChannel, `{"type":"change","timestamp":2,"bids":[["1","100",0]]}`))
	require.NoError(t, err)
	assert.Empty(t, events)

	b := p.normalizer.OrderBook()
	_, ok := b.BestBid()
	assert.False(t, ok)
	_, ok = b.BestAsk()
	assert.False(t, ok)
}

func TestProtocol_UntypedUpdatesAreSnapshots(t *testing.T) {
	p := newTestProtocol(t)
	subscribe(t, p)

	events, err := p.HandleFrame(notification(bookChannel, `{"bids":[["1","100",2]],"asks":[]}`))
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = p.HandleFrame(notification(bookChannel, `{"bids":[["1","100",0]]}`))
	require.NoError(t, err)
	assert.Empty(t, events)

	_, ok := p.normalizer.OrderBook().BestBid()
	assert.False(t, ok)
}

func TestProtocol_SnapshotYieldsTopOfBook(t *testing.T) {
	p := newTestProtocol(t)
	subscribe(t, p)

	events, err := p.HandleFrame(notification(bookChannel,
		`{"type":"snapshot","timestamp":1700000000000,"change_id":10,"bids":[["1",100,2]],"asks":[["2",101,3]]}`))
	require.NoError(t, err)
	require.Len(t, events, 1)

	tob, ok := events[0].(*event.TopOfBook)
	require.True(t, ok)
	assert.Equal(t, 100.0, tob.BidPrice)
	assert.Equal(t, 2.0, tob.BidSize)
	assert.Equal(t, 101.0, tob.AskPrice)
	assert.Equal(t, 3.0, tob.AskSize)
	assert.EqualValues(t, 1700000000000, tob.Timestamp)
	assert.Equal(t, "BTC-PERP", tob.Symbol)
	assert.Equal(t, ConnectorType, tob.Connector)

	b := p.normalizer.OrderBook()
	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, bid.Size.Equal(decimal.NewFromInt(2)))
	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(decimal.NewFromInt(101)))
	assert.True(t, ask.Size.Equal(decimal.NewFromInt(3)))
}

func TestProtocol_BookChanges(t *testing.T) {
	p := newTestProtocol(t)
	subscribe(t, p)

	_, err := p.HandleFrame(notification(bookChannel,
		`{"type":"snapshot","change_id":1,"bids":[["new",100,2],["new",99,1]],"asks":[["new",101,3],["new",102,4]]}`))
	require.NoError(t, err)

	tests := []struct {
		name             string
		data             string
		bidPrice, bidSz  float64
		askPrice, askSz  float64
		wantBids, wantAs int
	}{
		{"zero size on absent level is a no-op",
			`{"type":"change","change_id":2,"prev_change_id":1,"bids":[["delete",98,0]],"asks":[]}`,
			100, 2, 101, 3, 2, 2},
		{"positive size updates existing level",
			`{"type":"change","change_id":3,"prev_change_id":2,"bids":[["change",100,7]],"asks":[]}`,
			100, 7, 101, 3, 2, 2},
		{"better bid inserted at head",
			`{"type":"change","change_id":4,"prev_change_id":3,"bids":[["new","100.5",1]],"asks":[]}`,
			100.5, 1, 101, 3, 3, 2},
		{"delete action removes best ask",
			`{"type":"change","change_id":5,"prev_change_id":4,"bids":[],"asks":[["delete",101,0]]}`,
			100.5, 1, 102, 4, 3, 1},
		{"equivalent price text hits same level",
			`{"type":"change","change_id":6,"prev_change_id":5,"bids":[["change","100.50",2]],"asks":[]}`,
			100.5, 2, 102, 4, 3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := p.HandleFrame(notification(bookChannel, tt.data))
			require.NoError(t, err)
			require.Len(t, events, 1)
			tob := events[0].(*event.TopOfBook)
			assert.Equal(t, tt.bidPrice, tob.BidPrice)
			assert.Equal(t, tt.bidSz, tob.BidSize)
			assert.Equal(t, tt.askPrice, tob.AskPrice)
			assert.Equal(t, tt.askSz, tob.AskSize)

			b := p.normalizer.OrderBook()
			assert.Equal(t, tt.wantBids, b.Bids().Len())
			assert.Equal(t, tt.wantAs, b.Asks().Len())
		})
	}
}

func TestProtocol_GroupedBook(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	channels := channelSet("BTC-PERPETUAL", "100ms", "1", "10")
	p := newProtocol("deribit:BTC-PERPETUAL", channels, NewNormalizer("BTC-PERP", log), log)
	subscribe(t, p)

	events, err := p.HandleFrame(notification(channels[2],
		`{"timestamp":5,"change_id":9,"bids":[[99,1],[100,2]],"asks":[[101,3]]}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 100.0, events[0].(*event.TopOfBook).BidPrice)
}

func TestProtocol_Trades(t *testing.T) {
	p := newTestProtocol(t)
	subscribe(t, p)

	events, err := p.HandleFrame(notification(tradesChannel, `[
		{"trade_id":"1","instrument_name":"BTC-PERPETUAL","timestamp":1700000000001,"price":30000.5,"amount":120,"mark_price":29999,"direction":"buy"},
		{"trade_id":"2","instrument_name":"BTC-PERPETUAL","timestamp":1700000000002,"price":30000,"amount":40,"mark_price":29999,"direction":"sell"},
		{"trade_id":"3","instrument_name":"BTC-PERPETUAL","timestamp":1700000000003,"price":30000,"amount":10,"mark_price":29999},
		{"trade_id":"4","instrument_name":"BTC-PERPETUAL","timestamp":1700000000004,"price":30000,"amount":10,"mark_price":29999,"direction":"sideways"}
	]`))
	require.NoError(t, err)
	require.Len(t, events, 2)

	buy := events[0].(*event.Trade)
	assert.Equal(t, event.SideBuy, buy.Side)
	assert.Equal(t, 120.0, buy.Size)
	assert.Equal(t, 30000.5, buy.Price)
	assert.EqualValues(t, 1700000000001, buy.Timestamp)
	assert.Equal(t, "BTC-PERP", buy.Symbol)

	assert.Equal(t, event.SideSell, events[1].(*event.Trade).Side)
}

func TestProtocol_TradeWithoutDirectionYieldsNothing(t *testing.T) {
	p := newTestProtocol(t)
	subscribe(t, p)

	events, err := p.HandleFrame(notification(tradesChannel,
		`[{"trade_id":"3","timestamp":1,"price":30000,"amount":10,"mark_price":29999}]`))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestProtocol_Ticker(t *testing.T) {
	p := newTestProtocol(t)
	subscribe(t, p)

	t.Run("full payload yields top of book and ticker", func(t *testing.T) {
		events, err := p.HandleFrame(notification(tickerChannel, `{
			"instrument_name":"BTC-PERPETUAL","timestamp":1700000000000,"last_price":30000.5,"mark_price":30000,
			"best_bid_price":30000,"best_bid_amount":1000,"best_ask_price":30001,"best_ask_amount":2000,
			"stats":{"volume":123.4,"price_change":-1.5,"high":31000,"low":29000}}`))
		require.NoError(t, err)
		require.Len(t, events, 2)

		tob := events[0].(*event.TopOfBook)
		assert.Equal(t, 30000.0, tob.BidPrice)
		assert.Equal(t, 1000.0, tob.BidSize)
		assert.Equal(t, 30001.0, tob.AskPrice)
		assert.Equal(t, 2000.0, tob.AskSize)

		tk := events[1].(*event.Ticker)
		assert.Equal(t, 30000.5, tk.LastPrice)
		assert.Equal(t, 123.4, *tk.Volume)
		assert.Equal(t, 31000.0, *tk.High)
		assert.Equal(t, 29000.0, *tk.Low)
		assert.InDelta(t, -0.015, *tk.DailyChangeRelative, 1e-12)
		assert.Nil(t, tk.DailyChange)
	})

	t.Run("empty book side yields ticker only", func(t *testing.T) {
		events, err := p.HandleFrame(notification(tickerChannel,
			`{"timestamp":1,"last_price":30000.5,"best_bid_price":0,"best_bid_amount":0,"best_ask_price":30001,"best_ask_amount":1}`))
		require.NoError(t, err)
		require.Len(t, events, 1)
		tk := events[0].(*event.Ticker)
		assert.Nil(t, tk.Volume, "absent stats are not fabricated")
	})

	t.Run("no last price yields top of book only", func(t *testing.T) {
		events, err := p.HandleFrame(notification(tickerChannel,
			`{"timestamp":1,"last_price":null,"best_bid_price":10,"best_bid_amount":1,"best_ask_price":11,"best_ask_amount":1}`))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, event.TypeTopOfBook, events[0].GetType())
	})
}

func TestProtocol_DroppedFrames(t *testing.T) {
	p := newTestProtocol(t)

	events, err := p.HandleFrame(notification(bookChannel, `{"type":"snapshot","bids":[["1",100,2]],"asks":[["2",101,3]]}`))
	assert.ErrorIs(t, err, domain.ErrUnknownChannel, "data before the ack is dropped")
	assert.Empty(t, events)

	subscribe(t, p)

	for _, frame := range []string{
		`not json`,
		`{"jsonrpc":"2.0"}`,
		`{"jsonrpc":"2.0","method":"subscription"}`,
		string(notification(bookChannel, `{"bids":[[1]]}`)),
		string(notification(bookChannel, `{"bids":[["new","abc",1]]}`)),
		string(notification(tradesChannel, `{"not":"an array"}`)),
		string(notification(tickerChannel, `[1,2]`)),
	} {
		events, err := p.HandleFrame([]byte(frame))
		assert.ErrorIs(t, err, domain.ErrMalformedPayload, "frame %s", frame)
		assert.Empty(t, events)
	}

	events, err = p.HandleFrame(notification("chart.trades.BTC-PERPETUAL.1", `[]`))
	assert.ErrorIs(t, err, domain.ErrUnknownChannel)
	assert.Empty(t, events)
}

func TestProtocol_ResponsesAndErrors(t *testing.T) {
	p := newTestProtocol(t)

	probe, err := p.request(methodTest, struct{}{})
	require.NoError(t, err)
	assert.Contains(t, string(probe), `"method":"public/test"`)

	for _, frame := range []string{
		`{"jsonrpc":"2.0","id":1,"result":{"version":"1.2.26"}}`,
		`{"jsonrpc":"2.0","id":77,"result":"ok"}`,
		`{"jsonrpc":"2.0","id":2,"error":{"code":11050,"message":"bad_request"}}`,
		`{"jsonrpc":"2.0","method":"heartbeat","params":{"type":"heartbeat"}}`,
	} {
		events, err := p.HandleFrame([]byte(frame))
		assert.NoError(t, err, frame)
		assert.Empty(t, events)
	}
}

func TestProtocol_UnsubscribeAndReset(t *testing.T) {
	p := newTestProtocol(t)
	subscribe(t, p)

	_, err := p.HandleFrame(notification(bookChannel, `{"type":"snapshot","bids":[["1",100,2]],"asks":[["2",101,3]]}`))
	require.NoError(t, err)

	msgs, err := p.UnsubscribeMessages()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0]), `"method":"public/unsubscribe_all"`)

	p.Reset()
	assert.Equal(t, 0, p.routes.Len())
	_, ok := p.normalizer.OrderBook().BestBid()
	assert.False(t, ok, "book waits for a fresh snapshot after reset")
}
