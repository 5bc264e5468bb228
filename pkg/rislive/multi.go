package rislive

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hervehildenbrand/origin-guard/pkg/metrics"
	"github.com/hervehildenbrand/origin-guard/pkg/models"
)

// MultiConfig configures a MultiClient.
type MultiConfig struct {
	URL           string
	Collectors    []string
	BufferSize    int
	DedupWindow   time.Duration
	DedupCapacity uint
}

// MultiClient fans in announcements from several collectors and drops the
// duplicates they share.
type MultiClient struct {
	clients []*Client
	raw     chan models.Announcement
	updates chan models.Announcement
	dedup   *Deduplicator
	wg      sync.WaitGroup
	running atomic.Bool

	duplicates atomic.Uint64
}

// NewMultiClient creates a client that connects to multiple collectors.
func NewMultiClient(cfg MultiConfig) *MultiClient {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100000
	}
	raw := make(chan models.Announcement, cfg.BufferSize)
	clients := make([]*Client, len(cfg.Collectors))
	for i, collector := range cfg.Collectors {
		clients[i] = NewClient(ClientConfig{URL: cfg.URL, Collector: collector}, raw)
	}

	return &MultiClient{
		clients: clients,
		raw:     raw,
		updates: make(chan models.Announcement, cfg.BufferSize),
		dedup:   NewDeduplicator(cfg.DedupWindow, cfg.DedupCapacity),
	}
}

// Updates returns the channel of deduplicated announcements.  It is closed
// by Stop.
func (mc *MultiClient) Updates() <-chan models.Announcement {
	return mc.updates
}

// Start begins all collector clients.
func (mc *MultiClient) Start() {
	if mc.running.Swap(true) {
		return
	}
	mc.wg.Add(1)
	go mc.dedupLoop()
	for _, client := range mc.clients {
		client.Start()
	}
	log.Infof("MultiClient started with %d collectors", len(mc.clients))
}

// Stop gracefully shuts down all clients.
func (mc *MultiClient) Stop() {
	if !mc.running.Swap(false) {
		return
	}
	for _, client := range mc.clients {
		client.Stop()
	}
	close(mc.raw)
	mc.wg.Wait()
	close(mc.updates)
	log.Infof("MultiClient stopped")
}

func (mc *MultiClient) dedupLoop() {
	defer mc.wg.Done()
	for ann := range mc.raw {
		if mc.dedup.Seen(ann) {
			mc.duplicates.Add(1)
			metrics.DuplicateUpdates.Inc()
			continue
		}
		mc.updates <- ann
	}
}

// Stats returns aggregated statistics from all clients.
func (mc *MultiClient) Stats() map[string]interface{} {
	var totalMessages, totalUpdates, totalErrors, totalReconnects uint64
	clientStats := make([]map[string]interface{}, len(mc.clients))

	for i, client := range mc.clients {
		stats := client.Stats()
		clientStats[i] = stats
		totalMessages += stats["messages_received"].(uint64)
		totalUpdates += stats["updates_parsed"].(uint64)
		totalErrors += stats["errors"].(uint64)
		totalReconnects += stats["reconnects"].(uint64)
	}

	return map[string]interface{}{
		"running":          mc.running.Load(),
		"collectors":       clientStats,
		"total_messages":   totalMessages,
		"total_updates":    totalUpdates,
		"total_errors":     totalErrors,
		"total_reconnects": totalReconnects,
		"duplicates":       mc.duplicates.Load(),
		"channel_len":      len(mc.updates),
		"channel_cap":      cap(mc.updates),
	}
}
