package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const gatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// Gateway intents.
const (
	IntentGuilds         = 1 << 0
	IntentGuildMessages  = 1 << 9
	IntentMessageContent = 1 << 15
)

type gatewayPayload struct {
	Op        int             `json:"op"`
	Data      json.RawMessage `json:"d,omitempty"`
	Sequence  *int64          `json:"s,omitempty"`
	EventName string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type readyData struct {
	SessionID string `json:"session_id"`
	User      *User  `json:"user"`
}

// Gateway holds the websocket connection to Discord and dispatches gateway
// events to registered handlers.
type Gateway struct {
	token   string
	intents int
	logger  *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	sequence int64

	handlerMu sync.RWMutex
	handlers  map[string][]func(json.RawMessage)
}

func NewGateway(token string, intents int, logger *slog.Logger) *Gateway {
	return &Gateway{
		token:    token,
		intents:  intents,
		logger:   logger,
		handlers: make(map[string][]func(json.RawMessage)),
	}
}

// On registers a handler for a dispatch event such as MESSAGE_CREATE.
func (g *Gateway) On(event string, handler func(json.RawMessage)) {
	g.handlerMu.Lock()
	defer g.handlerMu.Unlock()
	g.handlers[event] = append(g.handlers[event], handler)
}

const reconnectDelay = 5 * time.Second

// Run connects to the gateway and keeps the connection alive until ctx is
// canceled, reconnecting after connection loss.
func (g *Gateway) Run(ctx context.Context) error {
	for {
		err := g.connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.logger.Error("gateway connection lost, reconnecting", slog.Any("error", err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (g *Gateway) connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, gatewayURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("discord: dialing gateway: %w", err)
	}

	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	defer conn.Close(websocket.StatusNormalClosure, "closing")

	for {
		var payload gatewayPayload
		if err := wsjson.Read(ctx, conn, &payload); err != nil {
			return fmt.Errorf("discord: reading gateway payload: %w", err)
		}
		g.handlePayload(ctx, &payload)
	}
}

func (g *Gateway) handlePayload(ctx context.Context, p *gatewayPayload) {
	if p.Sequence != nil {
		g.mu.Lock()
		g.sequence = *p.Sequence
		g.mu.Unlock()
	}

	switch p.Op {
	case opHello:
		var hello helloData
		if err := json.Unmarshal(p.Data, &hello); err != nil {
			g.logger.Error("parsing hello payload", slog.Any("error", err))
			return
		}
		go g.heartbeatLoop(ctx, time.Duration(hello.HeartbeatInterval)*time.Millisecond)
		g.identify(ctx)

	case opHeartbeat:
		g.sendHeartbeat(ctx)

	case opHeartbeatAck:

	case opReconnect:
		g.logger.Info("gateway requested reconnect")

	case opInvalidSession:
		g.logger.Warn("gateway session invalid, re-identifying")
		g.identify(ctx)

	case opDispatch:
		g.dispatch(p.EventName, p.Data)
	}
}

func (g *Gateway) dispatch(event string, data json.RawMessage) {
	if event == "READY" {
		var ready readyData
		if err := json.Unmarshal(data, &ready); err == nil && ready.User != nil {
			g.logger.Info("gateway ready", slog.String("user", ready.User.Username))
		}
	}

	g.handlerMu.RLock()
	handlers := g.handlers[event]
	g.handlerMu.RUnlock()

	for _, h := range handlers {
		go h(data)
	}
}

func (g *Gateway) identify(ctx context.Context) {
	data, err := json.Marshal(identifyData{
		Token:   g.token,
		Intents: g.intents,
		Properties: identifyProperties{
			OS:      "linux",
			Browser: "guildcal",
			Device:  "guildcal",
		},
	})
	if err != nil {
		g.logger.Error("marshaling identify payload", slog.Any("error", err))
		return
	}
	if err := g.send(ctx, opIdentify, data); err != nil {
		g.logger.Error("sending identify payload", slog.Any("error", err))
	}
}

func (g *Gateway) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sendHeartbeat(ctx)
		}
	}
}

func (g *Gateway) sendHeartbeat(ctx context.Context) {
	g.mu.Lock()
	seq := g.sequence
	g.mu.Unlock()

	data, _ := json.Marshal(seq)
	if err := g.send(ctx, opHeartbeat, data); err != nil {
		g.logger.Error("sending heartbeat", slog.Any("error", err))
	}
}

func (g *Gateway) send(ctx context.Context, op int, data json.RawMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		return errors.New("discord: gateway not connected")
	}
	return wsjson.Write(ctx, g.conn, gatewayPayload{Op: op, Data: data})
}
