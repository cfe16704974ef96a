package bitfinex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"crypto_feed/internal/domain"
	"crypto_feed/internal/event"
	"crypto_feed/internal/router"
)

const (
	channelTrades = "trades"
	channelTicker = "ticker"

	tagHeartbeat   = "hb"
	tagTradeExec   = "te"
	tagTradeUpdate = "tu"
)

// protocol implements connection.Protocol for the Bitfinex v2 public API.
type protocol struct {
	name       string
	symbol     string // exchange symbol, e.g. tBTCUSD
	channels   *router.Router[int64]
	normalizer *Normalizer
	log        *slog.Logger
}

func newProtocol(name, exchangeSymbol string, n *Normalizer, log *slog.Logger) *protocol {
	return &protocol{
		name:       name,
		symbol:     exchangeSymbol,
		channels:   router.New[int64](),
		normalizer: n,
		log:        log,
	}
}

func (p *protocol) Name() string { return p.name }

func (p *protocol) SubscribeMessages() ([][]byte, error) {
	msgs := make([][]byte, 0, 2)
	for _, ch := range []string{channelTrades, channelTicker} {
		b, err := json.Marshal(subscribeRequest{Event: "subscribe", Channel: ch, Symbol: p.symbol})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, b)
	}
	return msgs, nil
}

func (p *protocol) UnsubscribeMessages() ([][]byte, error) {
	ids := p.channels.IDs()
	msgs := make([][]byte, 0, len(ids))
	for _, id := range ids {
		b, err := json.Marshal(unsubscribeRequest{Event: "unsubscribe", ChanID: id})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, b)
	}
	return msgs, nil
}

func (p *protocol) Reset() {
	p.channels.Reset()
}

func (p *protocol) HandleFrame(msg []byte) ([]event.Event, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return nil, fmt.Errorf("%w: empty frame", domain.ErrMalformedPayload)
	}
	switch msg[0] {
	case '{':
		return nil, p.handleEvent(msg)
	case '[':
		return p.handleData(msg)
	default:
		return nil, fmt.Errorf("%w: unexpected frame %q", domain.ErrMalformedPayload, msg[0])
	}
}

func (p *protocol) handleEvent(msg []byte) error {
	var ev eventFrame
	if err := json.Unmarshal(msg, &ev); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	switch ev.Event {
	case "subscribed":
		kind := feedKind(ev.Channel)
		if kind == router.FeedUnknown {
			p.log.Warn("subscribed to unexpected channel", slog.String("channel", ev.Channel))
			return nil
		}
		p.channels.Bind(ev.ChanID, kind)
		p.log.Info("subscribed", slog.String("channel", ev.Channel), slog.Int64("chan_id", ev.ChanID))
	case "unsubscribed":
		p.channels.Unbind(ev.ChanID)
	case "info":
		p.log.Info("exchange info", slog.Int("version", ev.Version), slog.Int("code", ev.Code), slog.String("msg", ev.Msg))
	case "error":
		p.log.Warn("exchange error", slog.Int("code", ev.Code), slog.String("msg", ev.Msg))
	}
	return nil
}

// handleData dispatches [chanId, payload] and [chanId, tag, payload] frames.
func (p *protocol) handleData(msg []byte) ([]event.Event, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if len(frame) < 2 {
		return nil, fmt.Errorf("%w: data frame has %d elements", domain.ErrMalformedPayload, len(frame))
	}

	var chanID int64
	if err := json.Unmarshal(frame[0], &chanID); err != nil {
		return nil, fmt.Errorf("%w: channel id: %v", domain.ErrMalformedPayload, err)
	}

	payload := frame[1]
	tag := ""
	if len(payload) > 0 && payload[0] == '"' {
		if err := json.Unmarshal(payload, &tag); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
		if tag == tagHeartbeat {
			return nil, nil
		}
		if len(frame) < 3 {
			return nil, fmt.Errorf("%w: %q frame without payload", domain.ErrMalformedPayload, tag)
		}
		payload = frame[2]
	}

	kind := p.channels.Lookup(chanID)
	switch kind {
	case router.FeedTrade:
		return p.trades(tag, payload)
	case router.FeedTicker:
		t, err := decodeTicker(payload)
		if err != nil {
			return nil, err
		}
		return p.normalizer.Ticker(t), nil
	default:
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownChannel, chanID)
	}
}

func (p *protocol) trades(tag string, payload json.RawMessage) ([]event.Event, error) {
	switch tag {
	case tagTradeExec:
		t, err := decodeTrade(payload)
		if err != nil {
			return nil, err
		}
		if tr, ok := p.normalizer.Trade(t); ok {
			return []event.Event{tr}, nil
		}
		return nil, nil
	case tagTradeUpdate:
		// Same fill as the preceding "te".
		return nil, nil
	case "":
		// Snapshot: [[ID, MTS, AMOUNT, PRICE], ...]
		var entries []json.RawMessage
		if err := json.Unmarshal(payload, &entries); err != nil {
			return nil, fmt.Errorf("%w: trade snapshot: %v", domain.ErrMalformedPayload, err)
		}
		events := make([]event.Event, 0, len(entries))
		var skipped int
		var firstErr error
		for _, raw := range entries {
			t, err := decodeTrade(raw)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				skipped++
				continue
			}
			if tr, ok := p.normalizer.Trade(t); ok {
				events = append(events, tr)
			}
		}
		if skipped > 0 {
			// Valid entries are still delivered alongside the error.
			return events, fmt.Errorf("skipped %d of %d trade snapshot entries: %w", skipped, len(entries), firstErr)
		}
		return events, nil
	default:
		return nil, fmt.Errorf("%w: trade tag %q", domain.ErrMalformedPayload, tag)
	}
}

func feedKind(channel string) router.FeedKind {
	switch channel {
	case channelTrades:
		return router.FeedTrade
	case channelTicker:
		return router.FeedTicker
	default:
		return router.FeedUnknown
	}
}
