// origin-guard builds evidence of which autonomous systems legitimately
// originate each IPv4 prefix and classifies announcements against it.
//
// The batch pipeline runs as three commands sharing a blob store:
//
//	origin-guard build-evidence feeds/*.csv
//	origin-guard score
//	origin-guard build-decision
//
// The decision trie is then used by classify, monitor (RIS Live) and serve
// (HTTP API).  Settings come from origin-guard.yaml and ORIGIN_GUARD_*
// environment variables; explicit flags take precedence.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hervehildenbrand/origin-guard/internal/config"
	"github.com/hervehildenbrand/origin-guard/pkg/decision"
	"github.com/hervehildenbrand/origin-guard/pkg/store"
	flags "github.com/jessevdk/go-flags"
)

const logFilename = "origin-guard.log"

type globalOptions struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	LogDir     string `long:"logdir" description:"Directory to write a rotated log file to"`
	DataDir    string `long:"datadir" description:"Directory holding the tries and score exports"`
	RedisURL   string `long:"redis" description:"Keep tries and exports in Redis instead of the data directory"`
}

var (
	opts   globalOptions
	parser = flags.NewParser(&opts, flags.Default)
	cfg    *config.Config
)

// flagSet reports whether the long option was given on the command line of
// the active command or its parents.
func flagSet(long string) bool {
	if parser.Active == nil {
		return false
	}
	opt := parser.Active.FindOptionByLongName(long)
	return opt != nil && opt.IsSet()
}

// setup loads the configuration, applies the global flags and starts
// logging.
func setup() error {
	var err error
	cfg, err = config.Load(opts.ConfigFile)
	if err != nil {
		return err
	}
	if opts.DebugLevel != "" {
		cfg.DebugLevel = opts.DebugLevel
	}
	if opts.LogDir != "" {
		cfg.LogDir = opts.LogDir
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.RedisURL != "" {
		cfg.RedisURL = opts.RedisURL
	}

	if cfg.LogDir != "" {
		if err := initLogRotator(filepath.Join(cfg.LogDir, logFilename)); err != nil {
			return err
		}
	}
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return err
	}
	return nil
}

// openStore returns the blob store selected by the configuration and a
// function releasing it.
func openStore(ctx context.Context) (store.BlobStore, func(), error) {
	if cfg.RedisURL != "" {
		client, err := store.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		ogrdLog.Debugf("Using Redis blob store")
		return store.NewRedisStore(client, store.DefaultKeyPrefix, 0), func() { client.Close() }, nil
	}
	fs, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	ogrdLog.Debugf("Using blob store in %s", fs.Dir())
	return fs, func() {}, nil
}

// loadDecisionTrie reads the decision trie written by build-decision.
func loadDecisionTrie(ctx context.Context) (*decision.Trie, error) {
	st, release, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	blob, err := st.Get(ctx, store.KeyDecisionTrie)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no decision trie found, run build-decision first: %w", err)
	}
	if err != nil {
		return nil, err
	}
	trie, err := decision.FromBytes(blob)
	if err != nil {
		return nil, err
	}
	ogrdLog.Infof("Loaded decision trie: %d prefixes, %d conflicts",
		trie.Prefixes(), trie.ConflictCount())
	return trie, nil
}

func addCommand(name, short, long string, cmd interface{}) {
	if _, err := parser.AddCommand(name, short, long, cmd); err != nil {
		panic(err)
	}
}

func main() {
	addCommand("build-evidence", "Aggregate evidence files into an evidence trie",
		"Reads normalized evidence CSV files (prefix,origin,source,announced,date,peer) "+
			"and stores the merged evidence trie.", &buildEvidenceCmd{})
	addCommand("score", "Fit the cloud model and score every PO pair",
		"Derives PO pairs from the evidence trie, fits the cloud model and stores "+
			"the PO-score records and cloud parameters.", &scoreCmd{})
	addCommand("build-decision", "Compile confident PO pairs into a decision trie",
		"Inserts every scored pair whose confidence reaches the threshold into the "+
			"decision trie, in score order.", &buildDecisionCmd{})
	addCommand("classify", "Classify announcements against the decision trie",
		"Classifies PREFIX ORIGIN argument pairs or a JSON announcement list and "+
			"prints a report.", &classifyCmd{})
	addCommand("monitor", "Classify live RIS announcements",
		"Streams announcements from RIS Live collectors and reports hijacks.",
		&monitorCmd{})
	addCommand("serve", "Serve the classification HTTP API",
		"Serves classification, conflict listing, health and metrics over HTTP.",
		&serveCmd{})

	parser.CommandHandler = func(command flags.Commander, args []string) error {
		if command == nil {
			return nil
		}
		if err := setup(); err != nil {
			return err
		}
		defer func() {
			if logRotator != nil {
				logRotator.Close()
			}
		}()
		return command.Execute(args)
	}

	// Parse prints errors, including those returned by commands.
	if _, err := parser.Parse(); err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
