package deribit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"crypto_feed/internal/domain"
	"crypto_feed/internal/event"
	"crypto_feed/internal/router"
)

const (
	methodSubscribe      = "public/subscribe"
	methodUnsubscribeAll = "public/unsubscribe_all"
	methodTest           = "public/test"
	methodSubscription   = "subscription"
	methodHeartbeat      = "heartbeat"

	defaultBookGroup = "none"
	defaultBookDepth = "10"
)

// channelSet builds the channel names for one instrument.
func channelSet(instrument, interval, group, depth string) []string {
	suffix := ""
	if interval != "" {
		suffix = "." + interval
	}
	bookName := "book." + instrument
	if group != "" || depth != "" {
		if group == "" {
			group = defaultBookGroup
		}
		if depth == "" {
			depth = defaultBookDepth
		}
		bookName += "." + group + "." + depth
	}
	return []string{
		"trades." + instrument + suffix,
		"ticker." + instrument + suffix,
		bookName + suffix,
	}
}

func feedKind(channel string) router.FeedKind {
	prefix, _, _ := strings.Cut(channel, ".")
	switch prefix {
	case "trades":
		return router.FeedTrade
	case "ticker":
		return router.FeedTicker
	case "book":
		return router.FeedBook
	default:
		return router.FeedUnknown
	}
}

// protocol implements connection.Protocol for the Deribit v2 JSON-RPC API.
// Request ids are shared with Probe, which runs outside the session loop.
type protocol struct {
	name       string
	channels   []string
	routes     *router.Router[string]
	normalizer *Normalizer
	log        *slog.Logger

	mu      sync.Mutex
	nextID  int64
	pending map[int64]string
}

func newProtocol(name string, channels []string, n *Normalizer, log *slog.Logger) *protocol {
	return &protocol{
		name:       name,
		channels:   channels,
		routes:     router.New[string](),
		normalizer: n,
		log:        log,
		pending:    make(map[int64]string),
	}
}

func (p *protocol) Name() string { return p.name }

func (p *protocol) SubscribeMessages() ([][]byte, error) {
	msg, err := p.request(methodSubscribe, subscribeParams{Channels: p.channels})
	if err != nil {
		return nil, err
	}
	return [][]byte{msg}, nil
}

func (p *protocol) UnsubscribeMessages() ([][]byte, error) {
	msg, err := p.request(methodUnsubscribeAll, struct{}{})
	if err != nil {
		return nil, err
	}
	return [][]byte{msg}, nil
}

// Reset drops channel bindings, pending requests and the book.
func (p *protocol) Reset() {
	p.routes.Reset()
	p.normalizer.Reset()
	p.mu.Lock()
	clear(p.pending)
	p.mu.Unlock()
}

// request encodes a JSON-RPC call and remembers its method for the response.
func (p *protocol) request(method string, params any) ([]byte, error) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.pending[id] = method
	p.mu.Unlock()

	return json.Marshal(rpcRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params})
}

func (p *protocol) takePending(rawID json.RawMessage) (string, bool) {
	id, err := strconv.ParseInt(string(rawID), 10, 64)
	if err != nil {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	method, ok := p.pending[id]
	delete(p.pending, id)
	return method, ok
}

func (p *protocol) HandleFrame(msg []byte) ([]event.Event, error) {
	var m rpcMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	switch {
	case m.Error != nil:
		method, _ := p.takePending(m.ID)
		p.log.Warn("request failed", slog.String("method", method),
			slog.Int("code", m.Error.Code), slog.String("message", m.Error.Message))
		return nil, nil
	case m.Method == methodSubscription:
		return p.handleNotification(m.Params)
	case m.Method == methodHeartbeat:
		return nil, nil
	case len(m.ID) > 0:
		p.handleResponse(m)
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: neither response nor notification", domain.ErrMalformedPayload)
	}
}

func (p *protocol) handleResponse(m rpcMessage) {
	method, ok := p.takePending(m.ID)
	if !ok {
		p.log.Debug("response for unknown request", slog.String("id", string(m.ID)))
		return
	}

	switch method {
	case methodSubscribe:
		var channels []string
		if err := json.Unmarshal(m.Result, &channels); err != nil {
			p.log.Warn("bad subscribe result", slog.Any("error", err))
			return
		}
		for _, ch := range channels {
			p.routes.Bind(ch, feedKind(ch))
		}
		p.log.Info("subscribed", slog.Any("channels", channels))
	case methodUnsubscribeAll:
		p.routes.Reset()
		p.log.Info("unsubscribed from all channels")
	case methodTest:
		var v versionResult
		if err := json.Unmarshal(m.Result, &v); err != nil {
			p.log.Warn("bad version result", slog.Any("error", err))
			return
		}
		p.log.Info("exchange version", slog.String("version", v.Version))
	}
}

func (p *protocol) handleNotification(params *notificationParam) ([]event.Event, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: notification without params", domain.ErrMalformedPayload)
	}

	switch p.routes.Lookup(params.Channel) {
	case router.FeedTrade:
		var trades []tradeData
		if err := json.Unmarshal(params.Data, &trades); err != nil {
			return nil, fmt.Errorf("%w: trades: %v", domain.ErrMalformedPayload, err)
		}
		return p.normalizer.Trades(trades), nil
	case router.FeedTicker:
		var t tickerData
		if err := json.Unmarshal(params.Data, &t); err != nil {
			return nil, fmt.Errorf("%w: ticker: %v", domain.ErrMalformedPayload, err)
		}
		return p.normalizer.Ticker(t), nil
	case router.FeedBook:
		var b bookData
		if err := json.Unmarshal(params.Data, &b); err != nil {
			return nil, fmt.Errorf("%w: book: %v", domain.ErrMalformedPayload, err)
		}
		return p.normalizer.BookUpdate(b), nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownChannel, params.Channel)
	}
}
