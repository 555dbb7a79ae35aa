package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradebotlab/crypto-bot-engine/internal/logger"
	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

// TickHandler receives live price ticks.
type TickHandler func(tick types.Ticker)

// TickerStream delivers miniTicker updates for a set of symbols over the
// Binance combined WebSocket stream, reconnecting with backoff on failure.
// While the socket is down it polls the REST ticker endpoint so executors
// keep receiving prices.
type TickerStream struct {
	wsBase  string
	rest    DataClient
	handler TickHandler
	log     *logger.Logger

	pollInterval time.Duration

	mu      sync.Mutex
	symbols map[string]bool
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTickerStream creates a stream against mainnet or the spot testnet.
// rest serves the polling fallback during WebSocket outages.
func NewTickerStream(testnet bool, rest DataClient, handler TickHandler, log *logger.Logger) *TickerStream {
	wsBase := mainnetWSURL
	if testnet {
		wsBase = testnetWSURL
	}
	return &TickerStream{
		wsBase:       wsBase,
		rest:         rest,
		handler:      handler,
		log:          log,
		pollInterval: 5 * time.Second,
		symbols:      make(map[string]bool),
	}
}

// SetSymbols replaces the watched symbol set; the stream reconnects with the
// new subscription on the next (re)connect.
func (s *TickerStream) SetSymbols(symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		s.symbols[strings.ToUpper(sym)] = true
	}
	// Force a reconnect so the combined stream URL picks up the change.
	if s.conn != nil {
		s.conn.Close()
	}
}

// Start runs the read loop until the context is cancelled.
func (s *TickerStream) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop closes the stream and waits for the read loop to exit.
func (s *TickerStream) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	conn := s.conn
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
}

func (s *TickerStream) run(ctx context.Context) {
	defer close(s.done)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		url := s.streamURL()
		if url == "" {
			// Nothing to watch yet.
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		if err := s.readLoop(ctx, url); err != nil && ctx.Err() == nil {
			s.log.LogWarning("Ticker Stream", "connection lost: %v (reconnecting in %s)", err, backoff)
			s.pollUntilReconnect(ctx, backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

// pollUntilReconnect bridges a WebSocket outage: it fetches REST tickers for
// the watched symbols immediately and then every pollInterval until the
// reconnect delay has elapsed.
func (s *TickerStream) pollUntilReconnect(ctx context.Context, wait time.Duration) {
	deadline := time.Now().Add(wait)
	for {
		s.pollOnce(ctx)

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		if remaining > s.pollInterval {
			remaining = s.pollInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(remaining):
			if time.Now().After(deadline) {
				return
			}
		}
	}
}

// pollOnce feeds one REST price per watched symbol into the tick handler.
func (s *TickerStream) pollOnce(ctx context.Context) {
	if s.rest == nil {
		return
	}
	s.mu.Lock()
	symbols := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		symbols = append(symbols, sym)
	}
	s.mu.Unlock()

	for _, sym := range symbols {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		tick, err := s.rest.GetTicker(reqCtx, sym)
		cancel()
		if err != nil {
			s.log.Debug("ticker poll %s: %v", sym, err)
			continue
		}
		s.handler(*tick)
	}
}

// streamURL builds the combined miniTicker stream URL for the current set.
func (s *TickerStream) streamURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.symbols) == 0 {
		return ""
	}
	streams := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		streams = append(streams, strings.ToLower(sym)+"@miniTicker")
	}
	return fmt.Sprintf("%s/stream?streams=%s", s.wsBase, strings.Join(streams, "/"))
}

func (s *TickerStream) readLoop(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	})
	conn.SetReadDeadline(time.Now().Add(90 * time.Second))

	go s.pingLoop(ctx, conn)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		s.handleMessage(payload)
	}
}

func (s *TickerStream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// miniTickerPayload is the combined-stream envelope for 24h mini tickers.
type miniTickerPayload struct {
	Data struct {
		EventType string `json:"e"`
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
	} `json:"data"`
}

func (s *TickerStream) handleMessage(payload []byte) {
	var msg miniTickerPayload
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Data.Symbol == "" {
		return
	}
	price, err := strconv.ParseFloat(msg.Data.Close, 64)
	if err != nil {
		return
	}
	volume, _ := strconv.ParseFloat(msg.Data.Volume, 64)

	s.handler(types.Ticker{
		Symbol:    msg.Data.Symbol,
		Price:     price,
		Volume:    volume,
		Timestamp: time.UnixMilli(msg.Data.EventTime).UTC(),
	})
}
