// Package chainfeed supplies the chain-ingress half of C1: a websocket
// subscription to a node's eth_subscribe("logs", ...) feed, and a
// config-backed decoder.ChainReader. Both are thin, reconnecting
// collaborators — the supervisor owns all retry/backoff decisions for the
// pipeline itself.
package chainfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// Subscriber maintains an eth_subscribe("logs", ...) websocket connection
// against a single contract address, reconnecting with exponential backoff
// on any read or dial failure, and emitting every log it receives on Logs().
// It never filters by topic itself; decoder.Decoder does that.
type Subscriber struct {
	wsURL   string
	address common.Address
	logger  *slog.Logger

	logs chan types.Log
	errs chan error
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// New creates a Subscriber targeting wsURL (spec §6's ws_rpc_url) and the
// configured orderbook contract address.
func New(wsURL string, address common.Address, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		wsURL:   wsURL,
		address: address,
		logger:  logger,
		logs:    make(chan types.Log, 256),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
}

// Logs returns the channel new logs are published on.
func (s *Subscriber) Logs() <-chan types.Log { return s.logs }

// Err returns the error channel the supervisor's EventStream reads. Nothing
// is ever sent on it; Run reports its terminal error as its return value.
func (s *Subscriber) Err() <-chan error { return s.errs }

// Run dials and reads until ctx is cancelled, reconnecting on failure.
func (s *Subscriber) Run(ctx context.Context) error {
	defer close(s.logs)

	delay := reconnectDelay
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-s.done:
			return nil
		default:
		}
		if err != nil {
			s.logger.WarnContext(ctx, "chainfeed: connection lost, reconnecting",
				slog.String("error", err.Error()), slog.Duration("delay", delay))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

type rpcRequest struct {
	ID      int    `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcNotification struct {
	Method string `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

func (s *Subscriber) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("chainfeed: dial: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	filter := map[string]any{"address": s.address}
	req := rpcRequest{ID: 1, JSONRPC: "2.0", Method: "eth_subscribe", Params: []any{"logs", filter}}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("chainfeed: send eth_subscribe: %w", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go s.pingLoop(conn, stop)

	// ReadMessage below blocks regardless of ctx; closing the connection on
	// cancellation is what actually unblocks it.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-s.done:
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("chainfeed: read: %w", err)
		}

		var notif rpcNotification
		if err := json.Unmarshal(message, &notif); err != nil || notif.Method != "eth_subscription" {
			continue
		}

		var log types.Log
		if err := json.Unmarshal(notif.Params.Result, &log); err != nil {
			s.logger.WarnContext(ctx, "chainfeed: dropping unparseable log", slog.String("error", err.Error()))
			continue
		}

		select {
		case s.logs <- log:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Subscriber) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close signals Run to stop after its current read. Safe to call more than
// once.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}
