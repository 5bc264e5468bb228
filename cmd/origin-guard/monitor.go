package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hervehildenbrand/origin-guard/pkg/api"
	"github.com/hervehildenbrand/origin-guard/pkg/database"
	"github.com/hervehildenbrand/origin-guard/pkg/detector"
	"github.com/hervehildenbrand/origin-guard/pkg/models"
	"github.com/hervehildenbrand/origin-guard/pkg/rislive"
)

const eventBufferSize = 10000

type monitorCmd struct {
	Collectors    []string      `long:"collector" description:"RIS Live collector to subscribe to; may be repeated"`
	URL           string        `long:"url" description:"RIS Live websocket URL"`
	Workers       int           `long:"workers" default:"8" description:"Number of detector worker goroutines"`
	Buffer        int           `long:"buffer" default:"100000" description:"Announcement channel buffer size"`
	DatabaseURL   string        `long:"database" description:"PostgreSQL URL receiving hijack events"`
	ASNData       string        `long:"asn-data" description:"ASN-country CSV file (asn,country_code)"`
	AlertTTL      time.Duration `long:"alert-ttl" description:"Suppress repeated alerts for the same prefix and origin for this long"`
	DedupWindow   time.Duration `long:"dedup-window" description:"Window in which duplicate announcements across collectors are dropped"`
	Listen        string        `long:"listen" description:"Also serve the HTTP API on this address"`
	StatsInterval time.Duration `long:"stats" default:"30s" description:"Stats logging interval"`
}

func (c *monitorCmd) applyConfig() {
	if !flagSet("collector") {
		c.Collectors = cfg.Collectors
	}
	if !flagSet("database") {
		c.DatabaseURL = cfg.DatabaseURL
	}
	if !flagSet("asn-data") {
		c.ASNData = cfg.ASNData
	}
	if !flagSet("alert-ttl") {
		c.AlertTTL = cfg.AlertTTL
	}
	if !flagSet("dedup-window") {
		c.DedupWindow = cfg.DedupWindow
	}
}

// openResolver picks the country source: CSV file, then the events
// database, then none.
func openResolver(path string, writer *database.VerdictWriter) database.CountryResolver {
	if path != "" {
		r, err := database.NewFileResolver(path)
		if err == nil {
			ogrdLog.Infof("Using file-based ASN resolver: %s (%d ASNs)", path, r.Count())
			return r
		}
		ogrdLog.Warnf("Failed to load ASN data from %s: %v", path, err)
	}
	if writer != nil {
		r, err := database.NewDatabaseResolver(writer.DB(), "")
		if err == nil {
			r.Start()
			ogrdLog.Infof("Using database ASN resolver (%d ASNs)", r.Count())
			return r
		}
		ogrdLog.Warnf("Failed to create database ASN resolver: %v", err)
	}
	ogrdLog.Infof("No ASN resolver configured - country codes will be '%s'",
		database.UnknownCountry)
	return database.NewNullResolver()
}

func (c *monitorCmd) Execute(args []string) error {
	ctx := shutdownListener()
	c.applyConfig()

	trie, err := loadDecisionTrie(ctx)
	if err != nil {
		return err
	}

	var writer *database.VerdictWriter
	if c.DatabaseURL != "" {
		writer, err = database.NewVerdictWriter(c.DatabaseURL)
		if err != nil {
			ogrdLog.Warnf("Database connection failed: %v", err)
			writer = nil
		} else {
			if err := writer.EnsureSchema(); err != nil {
				ogrdLog.Warnf("Unable to create hijack_events table: %v", err)
			}
			writer.Start()
		}
	}
	resolver := openResolver(c.ASNData, writer)

	events := make(chan models.BGPEvent, eventBufferSize)
	client := rislive.NewMultiClient(rislive.MultiConfig{
		URL:         c.URL,
		Collectors:  c.Collectors,
		BufferSize:  c.Buffer,
		DedupWindow: c.DedupWindow,
	})
	hijacks := detector.NewHijackDetector(trie, events, detector.Config{AlertTTL: c.AlertTTL})
	ogrdLog.Infof("Monitoring collectors %v (run %s)", c.Collectors, hijacks.RunID())

	var workers sync.WaitGroup
	for i := 0; i < c.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for a := range client.Updates() {
				hijacks.Process(a)
			}
		}()
	}

	var sink sync.WaitGroup
	sink.Add(1)
	go func() {
		defer sink.Done()
		for event := range events {
			database.Enrich(resolver, &event)
			if writer != nil {
				writer.Write(event)
			}
			eventJSON, _ := json.Marshal(map[string]interface{}{
				"id":              event.ID,
				"type":            event.EventType,
				"severity":        event.Severity,
				"country":         event.CountryCode,
				"affected_prefix": event.AffectedPrefix,
				"affected_asn":    event.AffectedASN,
				"hijacking_asn":   event.HijackingASN,
				"legal_origins":   event.LegalOrigins,
				"detected_at":     event.DetectedAt.Format(time.RFC3339),
				"details":         event.Details,
			})
			ogrdLog.Infof("EVENT: %s", eventJSON)
		}
	}()

	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		logStats(ctx, c.StatsInterval, client, hijacks)
	}()
	if c.Listen != "" {
		background.Add(1)
		go func() {
			defer background.Done()
			if err := api.NewServer(trie).ListenAndServe(ctx, c.Listen); err != nil {
				ogrdLog.Errorf("HTTP API: %v", err)
			}
		}()
	}

	client.Start()
	<-ctx.Done()

	client.Stop()
	workers.Wait()
	close(events)
	sink.Wait()
	background.Wait()

	resolver.Stop()
	if writer != nil {
		writer.Stop()
	}

	stats := hijacks.Stats()
	ogrdLog.Infof("Final stats: announcements=%d, hijacks=%d, suppressed=%d, dropped=%d",
		stats.Processed, stats.Hijacks, stats.Suppressed, stats.Dropped)
	return nil
}

func logStats(ctx context.Context, interval time.Duration, client *rislive.MultiClient,
	hijacks *detector.HijackDetector) {

	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastProcessed uint64
	lastTime := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		stats := hijacks.Stats()
		clientStats := client.Stats()
		elapsed := time.Since(lastTime).Seconds()
		rate := float64(stats.Processed-lastProcessed) / elapsed
		ogrdLog.Infof("STATS: announcements=%d (%.0f/s), hijacks=%d, suppressed=%d, "+
			"duplicates=%v, channel=%v/%v", stats.Processed, rate, stats.Hijacks,
			stats.Suppressed, clientStats["duplicates"], clientStats["channel_len"],
			clientStats["channel_cap"])
		lastProcessed = stats.Processed
		lastTime = time.Now()
	}
}

type serveCmd struct {
	Listen string `long:"listen" description:"Address to serve the HTTP API on"`
}

func (c *serveCmd) Execute(args []string) error {
	ctx := shutdownListener()
	listen := cfg.Listen
	if flagSet("listen") {
		listen = c.Listen
	}
	trie, err := loadDecisionTrie(ctx)
	if err != nil {
		return err
	}
	return api.NewServer(trie).ListenAndServe(ctx, listen)
}
