// Package rislive streams BGP announcements from the RIPE RIS Live
// websocket service.
package rislive

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hervehildenbrand/origin-guard/pkg/models"
)

const (
	// RISLiveURL is the WebSocket endpoint for RIS Live.
	RISLiveURL = "wss://ris-live.ripe.net/v1/ws/"

	// Connection settings
	initialReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 5 * time.Minute
	reconnectBackoff      = 2.0
	pingInterval          = 30 * time.Second
	connectionTimeout     = 60 * time.Second
	writeTimeout          = 10 * time.Second
)

// ClientConfig configures a single collector client.  Zero durations select
// the package defaults.
type ClientConfig struct {
	URL            string
	Collector      string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PingInterval   time.Duration
}

func (cfg *ClientConfig) applyDefaults() {
	if cfg.URL == "" {
		cfg.URL = RISLiveURL
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = initialReconnectDelay
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = maxReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = pingInterval
	}
}

// nextDelay doubles delay up to max.
func nextDelay(delay, max time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * reconnectBackoff)
	if delay > max {
		delay = max
	}
	return delay
}

// Client is a WebSocket client for RIS Live with automatic reconnection.
type Client struct {
	cfg     ClientConfig
	updates chan<- models.Announcement
	done    chan struct{}
	wg      sync.WaitGroup

	// Stats
	messagesReceived atomic.Uint64
	updatesParsed    atomic.Uint64
	dropped          atomic.Uint64
	errors           atomic.Uint64
	reconnects       atomic.Uint64

	// State
	running   atomic.Bool
	connected atomic.Bool
}

// NewClient creates a new RIS Live client for one collector.
func NewClient(cfg ClientConfig, updates chan<- models.Announcement) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:     cfg,
		updates: updates,
		done:    make(chan struct{}),
	}
}

// Start begins the WebSocket connection in a goroutine.
func (c *Client) Start() {
	if c.running.Swap(true) {
		log.Warnf("[%s] Client already running", c.cfg.Collector)
		return
	}

	c.wg.Add(1)
	go c.runLoop()
	log.Infof("[%s] Client started", c.cfg.Collector)
}

// Stop gracefully shuts down the client.
func (c *Client) Stop() {
	if !c.running.Swap(false) {
		return
	}
	close(c.done)
	c.wg.Wait()
	log.Infof("[%s] Client stopped", c.cfg.Collector)
}

// Connected reports whether the client currently holds a subscription.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Stats returns current statistics.
func (c *Client) Stats() map[string]interface{} {
	return map[string]interface{}{
		"collector":         c.cfg.Collector,
		"connected":         c.connected.Load(),
		"messages_received": c.messagesReceived.Load(),
		"updates_parsed":    c.updatesParsed.Load(),
		"dropped":           c.dropped.Load(),
		"errors":            c.errors.Load(),
		"reconnects":        c.reconnects.Load(),
	}
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	reconnectDelay := c.cfg.InitialBackoff

	for c.running.Load() {
		err := c.connectAndStream()
		if err != nil {
			c.errors.Add(1)
			c.reconnects.Add(1)
			log.Warnf("[%s] Connection error: %v, reconnecting in %v",
				c.cfg.Collector, err, reconnectDelay)
		}

		select {
		case <-c.done:
			return
		case <-time.After(reconnectDelay):
			reconnectDelay = nextDelay(reconnectDelay, c.cfg.MaxBackoff)
		}
	}
}

func (c *Client) connectAndStream() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: connectionTimeout,
	}

	log.Debugf("[%s] Connecting to %s", c.cfg.Collector, c.cfg.URL)
	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	subscribeMsg := map[string]interface{}{
		"type": "ris_subscribe",
		"data": map[string]interface{}{
			"type": "UPDATE",
			"host": c.cfg.Collector,
		},
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	c.connected.Store(true)
	defer c.connected.Store(false)
	log.Infof("[%s] Connected and subscribed", c.cfg.Collector)

	// Writes are serialized through this goroutine after the subscription.
	pingDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-c.done:
				// Close connection to unblock ReadMessage
				conn.Close()
				return
			}
		}
	}()
	defer close(pingDone)

	for c.running.Load() {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if !c.running.Load() {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		received := c.messagesReceived.Add(1)
		anns, err := ParseMessage(message, c.cfg.Collector)
		if err != nil {
			if received <= 10 {
				log.Debugf("[%s] Parse error: %v", c.cfg.Collector, err)
			}
			continue
		}
		for _, ann := range anns {
			parsed := c.updatesParsed.Add(1)
			// Non-blocking send to channel
			select {
			case c.updates <- ann:
			default:
				c.dropped.Add(1)
				if parsed%10000 == 0 {
					log.Warnf("[%s] Update channel full, dropping announcements", c.cfg.Collector)
				}
			}
		}
	}
	return nil
}
