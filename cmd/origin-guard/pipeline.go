package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hervehildenbrand/origin-guard/pkg/cloud"
	"github.com/hervehildenbrand/origin-guard/pkg/decision"
	"github.com/hervehildenbrand/origin-guard/pkg/evidence"
	"github.com/hervehildenbrand/origin-guard/pkg/export"
	"github.com/hervehildenbrand/origin-guard/pkg/ingest"
	"github.com/hervehildenbrand/origin-guard/pkg/store"
)

type buildEvidenceCmd struct {
	Workers      int  `long:"workers" description:"Maximum number of files read concurrently"`
	DateFromName bool `long:"date-from-name" description:"Date rows without a date column from the date embedded in their file name"`
	Args         struct {
		Files []string `positional-arg-name:"file" required:"1"`
	} `positional-args:"yes"`
}

func (c *buildEvidenceCmd) Execute(args []string) error {
	ctx := shutdownListener()
	workers := cfg.Workers
	if flagSet("workers") {
		workers = c.Workers
	}

	sources := make([]ingest.Source, len(c.Args.Files))
	for i, path := range c.Args.Files {
		sources[i] = ingest.FileSource(path)
	}
	trie, stats, err := ingest.New(ingest.Config{
		Workers:      workers,
		DateFromName: c.DateFromName,
	}).Run(ctx, sources)
	if err != nil {
		return err
	}
	if len(stats.FailedSources) == stats.Sources {
		return fmt.Errorf("no evidence source could be read")
	}

	blob, err := trie.Bytes()
	if err != nil {
		return err
	}
	st, release, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := st.Put(ctx, store.KeyEvidenceTrie, blob); err != nil {
		return err
	}

	ogrdLog.Infof("Stored evidence trie: %d prefixes, %d nodes, %d bytes "+
		"(%d rows read, %d inserted, %d skipped)", trie.Prefixes(), trie.Len(),
		len(blob), stats.Read, stats.Inserted, stats.TotalSkipped())
	if len(stats.FailedSources) > 0 {
		ogrdLog.Warnf("Failed sources: %s", strings.Join(stats.FailedSources, ", "))
	}
	return nil
}

type scoreCmd struct {
	Simulations int    `long:"simulations" description:"Monte-Carlo draws per membership estimate"`
	Bootstraps  int    `long:"bootstraps" description:"Bootstrap resamples used to estimate hyper-entropy"`
	Seed        uint64 `long:"seed" description:"Base random seed"`
	Workers     int    `long:"workers" description:"Score pairs in parallel with per-pair generators"`
	AllPairs    bool   `long:"all-pairs" description:"Fit the space and source clouds on every pair instead of only live-table pairs"`
	ParamsFile  string `long:"params-file" description:"Also write the cloud parameters to this file (.json or .yaml)"`
}

func (c *scoreCmd) cloudConfig() cloud.Config {
	cc := cloud.Config{
		Bootstraps:    cfg.Bootstraps,
		Simulations:   cfg.Simulations,
		Seed:          cfg.Seed,
		Workers:       cfg.Workers,
		LiveTableOnly: cfg.LiveTableOnly,
	}
	if flagSet("simulations") {
		cc.Simulations = c.Simulations
	}
	if flagSet("bootstraps") {
		cc.Bootstraps = c.Bootstraps
	}
	if flagSet("seed") {
		cc.Seed = c.Seed
	}
	if flagSet("workers") {
		cc.Workers = c.Workers
	}
	if c.AllPairs {
		cc.LiveTableOnly = false
	}
	return cc
}

func (c *scoreCmd) Execute(args []string) error {
	ctx := shutdownListener()
	st, release, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer release()

	blob, err := st.Get(ctx, store.KeyEvidenceTrie)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no evidence trie found, run build-evidence first: %w", err)
	}
	if err != nil {
		return err
	}
	trie, err := evidence.FromBytes(blob)
	if err != nil {
		return err
	}

	cc := c.cloudConfig()
	if cc.Simulations < 1 || cc.Bootstraps < 1 {
		return fmt.Errorf("simulations and bootstraps must be positive")
	}
	pairs := trie.PoPairs()
	model := cloud.Fit(pairs, cc)
	scored, err := cloud.ScoreAll(ctx, pairs, &model, cc)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := export.WriteRecords(&buf, export.Records(scored)); err != nil {
		return err
	}
	if err := st.Put(ctx, store.KeyScores, buf.Bytes()); err != nil {
		return err
	}
	buf.Reset()
	if err := export.WriteModel(&buf, &model, export.FormatJSON); err != nil {
		return err
	}
	if err := st.Put(ctx, store.KeyCloudParams, buf.Bytes()); err != nil {
		return err
	}
	if c.ParamsFile != "" {
		if err := writeModelFile(c.ParamsFile, &model); err != nil {
			return err
		}
	}

	ogrdLog.Infof("Scored %d PO pairs (time Ex=%.4f, space Ex=%.4f, source Ex=%.4f)",
		len(scored), model.Time.Ex, model.Space.Ex, model.Source.Ex)
	return nil
}

func writeModelFile(path string, model *cloud.Model) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteModel(f, model, export.FormatForPath(path)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type buildDecisionCmd struct {
	Threshold   float64 `long:"threshold" description:"Minimum confidence for a PO pair to be authorized"`
	MultiOrigin bool    `long:"multi-origin" description:"Authorize every confident origin of a prefix instead of the first one"`
	Scores      string  `long:"scores" description:"Read PO-score records from this file instead of the store"`
}

func (c *buildDecisionCmd) Execute(args []string) error {
	ctx := shutdownListener()
	threshold := cfg.Threshold
	if flagSet("threshold") {
		threshold = c.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold %v is outside [0, 1]", threshold)
	}
	opts := decision.Options{AllowMultipleOrigins: cfg.MultiOrigin || c.MultiOrigin}

	st, release, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer release()

	var raw []byte
	if c.Scores != "" {
		raw, err = os.ReadFile(c.Scores)
	} else {
		raw, err = st.Get(ctx, store.KeyScores)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no PO scores found, run score first: %w", err)
		}
	}
	if err != nil {
		return err
	}
	records, err := export.ReadRecords(bytes.NewReader(raw))
	if err != nil {
		return err
	}

	trie, stats := decision.Build(export.Candidates(records), threshold, opts)
	blob, err := trie.Bytes()
	if err != nil {
		return err
	}
	if err := st.Put(ctx, store.KeyDecisionTrie, blob); err != nil {
		return err
	}

	ogrdLog.Infof("Stored decision trie: %d prefixes from %d of %d candidates, "+
		"%d conflicting prefixes, %d invalid", trie.Prefixes(), stats.Accepted(),
		stats.Considered, trie.ConflictCount(), stats.Invalid)
	return nil
}
