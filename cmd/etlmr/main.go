// Command etlmr drives one phase of a distributed dimensional load:
// dimension loading under one of the three distribution strategies, or
// fact loading once dimensions are settled. It mirrors etlmr.py's CLI
// surface, translated from disco's job-submission model to an
// in-process (or future cluster-backed) internal/strategy.Runner.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/etlmr-go/etlmr/internal/config"
	"github.com/etlmr-go/etlmr/internal/driver"
	"github.com/etlmr-go/etlmr/internal/keyserver"
	"github.com/etlmr-go/etlmr/internal/mr"
	"github.com/etlmr-go/etlmr/internal/postfix"
	"github.com/etlmr-go/etlmr/internal/row"
	"github.com/etlmr-go/etlmr/internal/sqlconn"
	"github.com/etlmr-go/etlmr/internal/strategy"
)

// Options mirrors etlmr.py's OptionParser block. --disco-master,
// --nr-reducers and --profile only matter to a real cluster-backed
// strategy.Runner; they are still accepted, and then ignored, so a job
// script need not branch on which runner it targets.
type Options struct {
	DiscoMaster     string `long:"disco-master" description:"address of the cluster master (ignored by the in-process runner)"`
	NrMaps          int    `long:"nr-maps" default:"2" description:"number of map tasks; also the partition count Offline-Big-Dim expects its input pre-hashed for"`
	NrReducers      int    `long:"nr-reducers" default:"2" description:"number of reduce tasks"`
	LoadStep        int    `long:"load-step" default:"1" description:"1=dimensions, 2=facts"`
	LoadMethod      int    `long:"load-method" default:"1" description:"1=ODOT, 2=ODAT, 3=Offline-Big-Dim"`
	PostFix         int    `long:"post-fix" default:"1" description:"1=yes, 2=no (ODAT only)"`
	GoLive          int    `long:"go-live" default:"1" description:"1=yes, 2=no (Offline-Big-Dim only)"`
	GoLiveHost      string `long:"go-live-host" description:"if set, scp each big-dim task shelve here (user@host) before going live (Offline-Big-Dim only)"`
	GoLiveRemoteDir string `long:"go-live-remote-dir" default:"./shelve-golive" description:"remote directory SyncShelves copies task shelves into"`
	Profile         bool   `long:"profile" description:"ignored; kept for CLI compatibility"`
	ConfigName      string `long:"config" default:"demo" description:"named config entry to run (see configRegistry); ODAT and Offline-Big-Dim ignore this and always run the demo schema"`
	DSN             string `long:"dsn" env:"ETLMR_DSN" default:"file:etlmr.db?cache=shared" description:"database/sql driver DSN for the target warehouse"`
	DriverName      string `long:"driver" env:"ETLMR_DRIVER" default:"sqlite3" description:"database/sql driver name for the target warehouse"`
	ShelveDir       string `long:"shelve-dir" default:"./shelve" description:"root directory for on-disk dimension shelves"`
	CacheSize       int    `long:"cache-size" default:"100000" description:"per-dimension LRU cache capacity"`

	Args struct {
		Inputs []string `positional-arg-name:"input" description:"tab-separated input files (stdin if none given; Offline-Big-Dim treats each file as one pre-hashed partition)"`
	} `positional-args:"yes"`
}

// configEntry builds one named job configuration against an open
// connection, matching what importing a different conf/*.py module
// selects in pyetlmr. Only ODOT jobs go through this registry: ODAT and
// Offline-Big-Dim need extra dependencies (a keyserver.Client, a
// partition count) a configEntry's signature has no room for, so they
// are built directly in runODAT/runOfflineBigDim instead.
type configEntry func(con *sqlconn.Connection, shelveDir string, cacheSize int) (*config.Config, error)

// configRegistry is this Go port's equivalent of pointing --config at
// a file path: since there is no dynamic loading of Go source at run
// time, a job is named and looked up here instead. Configuration stays
// code either way.
var configRegistry = map[string]configEntry{
	"demo": buildDemoConfig,
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		logrus.WithError(err).Error("etlmr: run failed")
		var cerr *config.ConfigError
		if errors.As(err, &cerr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(opts Options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	con, err := sqlconn.Open(ctx, opts.DriverName, opts.DSN)
	if err != nil {
		return fmt.Errorf("etlmr: opening connection: %w", err)
	}
	defer con.Close()

	switch driver.LoadMethod(opts.LoadMethod) {
	case driver.LoadMethodODAT:
		return runODAT(ctx, opts, con)
	case driver.LoadMethodOfflineBigDim:
		return runOfflineBigDim(ctx, opts, con)
	default:
		return runODOT(ctx, opts, con)
	}
}

// runODOT is load-method 1: the named config's dimensions are shelve-
// backed and reduced through a single internal/mr.Job per dimension
// level, the way odotetlmr.py's tasks do.
func runODOT(ctx context.Context, opts Options, con *sqlconn.Connection) error {
	build, ok := configRegistry[opts.ConfigName]
	if !ok {
		return config.NewConfigError("etlmr: unknown --config %q", opts.ConfigName)
	}
	cfg, err := build(con, opts.ShelveDir, opts.CacheSize)
	if err != nil {
		return fmt.Errorf("etlmr: building config: %w", err)
	}

	rows, err := readRows(opts.Args.Inputs)
	if err != nil {
		return fmt.Errorf("etlmr: reading input: %w", err)
	}

	d := driver.New(cfg, &mr.Local{})
	runOpts := driver.Options{
		LoadStep:   driver.LoadStep(opts.LoadStep),
		LoadMethod: driver.LoadMethodODOT,
	}
	return d.Run(ctx, runOpts, rows, nil)
}

// runODAT is load-method 2: every dimension in the demo schema ensures
// straight against the live warehouse through a strategy.DirectStore,
// drawing surrogate keys from a keyserver.Server started and seeded
// right here. Post-fix then collapses whatever duplicates concurrent
// tasks raced to insert, matching odatetlmr.py's seq_server +
// odat_ensure + postfix sequence. Only the dimension-load step needs
// the key server: fact loading only calls Lookup, which never draws a
// fresh key.
func runODAT(ctx context.Context, opts Options, con *sqlconn.Connection) error {
	var keys *keyserver.Client
	if driver.LoadStep(opts.LoadStep) == driver.LoadStepDimensions {
		addr := fmt.Sprintf(":%d", keyserver.DefaultPort)
		errCh := make(chan error, 1)
		go func() {
			if err := driver.RunKeyServer(ctx, con, odatKeyServerSpecs(), addr); err != nil {
				select {
				case errCh <- err:
				default:
				}
			}
		}()
		dialed, err := dialKeyServer(fmt.Sprintf("127.0.0.1:%d", keyserver.DefaultPort), errCh)
		if err != nil {
			return fmt.Errorf("etlmr: connecting to key server: %w", err)
		}
		keys = dialed
		defer keys.Close()
	}

	cfg, err := buildDemoODATConfig(ctx, con, keys)
	if err != nil {
		return fmt.Errorf("etlmr: building config: %w", err)
	}

	var driverOpts []driver.Option
	if opts.PostFix == 1 {
		driverOpts = append(driverOpts, driver.WithPostfixRoot(postfix.BuildSnowflake(odatPostfixSpec(), con)))
	}
	d := driver.New(cfg, &mr.Local{}, driverOpts...)

	rows, err := readRows(opts.Args.Inputs)
	if err != nil {
		return fmt.Errorf("etlmr: reading input: %w", err)
	}
	runOpts := driver.Options{
		LoadStep:   driver.LoadStep(opts.LoadStep),
		LoadMethod: driver.LoadMethodODAT,
		PostFix:    opts.PostFix == 1,
	}
	return d.Run(ctx, runOpts, rows, nil)
}

// dialKeyServer retries dialing addr for a couple seconds while
// Server.Serve binds and starts accepting, since RunKeyServer runs
// concurrently in its own goroutine rather than signaling readiness
// back. errCh carries a fatal startup error (e.g. a bind failure) so a
// broken server is reported immediately instead of exhausting the
// retry budget.
func dialKeyServer(addr string, errCh <-chan error) (*keyserver.Client, error) {
	deadline := time.Now().Add(2 * time.Second)
	for {
		client, dialErr := keyserver.Dial(addr)
		if dialErr == nil {
			return client, nil
		}
		select {
		case srvErr := <-errCh:
			return nil, fmt.Errorf("key server failed to start: %w", srvErr)
		default:
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out dialing key server at %s: %w", addr, dialErr)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// runOfflineBigDim is load-method 3: pagedim is partitioned across
// --nr-maps independent per-task shelves, one input file per partition,
// while testdim and datedim reduce into a single shared shelve the
// ODOT way, matching offdimetlmr.py. When --go-live is set, every
// task's shelve is optionally synced to --go-live-host and then
// bulk-loaded into the warehouse table, matching offdimetlmr.py's
// sync_dims_across_servers + go-live step.
func runOfflineBigDim(ctx context.Context, opts Options, con *sqlconn.Connection) error {
	built, err := buildOfflineBigDimConfig(con, opts.ShelveDir, opts.CacheSize, opts.NrMaps)
	if err != nil {
		return fmt.Errorf("etlmr: building config: %w", err)
	}

	var driverOpts []driver.Option
	driverOpts = append(driverOpts, driver.WithBigDim(built.spec))
	if opts.GoLive == 1 {
		stores := built.stores
		driverOpts = append(driverOpts, driver.WithGoLive(func(ctx context.Context) error {
			for p, store := range stores {
				if opts.GoLiveHost != "" {
					local := fmt.Sprintf("%s/pagedim-%d", opts.ShelveDir, p)
					if err := strategy.SyncShelves(ctx, local, opts.GoLiveHost, opts.GoLiveRemoteDir); err != nil {
						return fmt.Errorf("go-live: syncing partition %d: %w", p, err)
					}
				}
				if err := strategy.GoLive(ctx, con, "pagedim", offlinePageAllAttrs, store); err != nil {
					return fmt.Errorf("go-live: loading partition %d: %w", p, err)
				}
			}
			return nil
		}))
	}
	d := driver.New(built.cfg, &mr.Local{}, driverOpts...)

	runOpts := driver.Options{
		LoadStep:   driver.LoadStep(opts.LoadStep),
		LoadMethod: driver.LoadMethodOfflineBigDim,
		GoLive:     opts.GoLive == 1,
	}

	if driver.LoadStep(opts.LoadStep) != driver.LoadStepDimensions {
		rows, err := readRows(opts.Args.Inputs)
		if err != nil {
			return fmt.Errorf("etlmr: reading input: %w", err)
		}
		return d.Run(ctx, runOpts, rows, nil)
	}

	partitions, err := readPartitionedRows(opts.Args.Inputs)
	if err != nil {
		return fmt.Errorf("etlmr: reading input: %w", err)
	}
	if len(partitions) != opts.NrMaps {
		return config.NewConfigError(
			"etlmr: offline-big-dim expects one input file per --nr-maps partition (%d), got %d", opts.NrMaps, len(partitions))
	}
	return d.Run(ctx, runOpts, nil, partitions)
}

// readRows reads tab-separated rows, one per line, first line a
// header naming each column. With no paths given it reads stdin,
// matching pyetlmr's chunked-file convention of one input stream per
// map task collapsed here into a single in-process read.
func readRows(paths []string) ([]row.Row, error) {
	if len(paths) == 0 {
		return readRowsFrom(os.Stdin)
	}
	var all []row.Row
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", p, err)
		}
		rows, err := readRowsFrom(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		all = append(all, rows...)
	}
	return all, nil
}

// readPartitionedRows reads each path as its own pre-hashed partition,
// the Offline-Big-Dim equivalent of one chunk file per map task.
// Unlike readRows it cannot fall back to stdin: a partition count needs
// one stream per partition.
func readPartitionedRows(paths []string) ([][]row.Row, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("offline-big-dim requires at least one input file (stdin cannot be split into partitions)")
	}
	partitions := make([][]row.Row, len(paths))
	for i, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", p, err)
		}
		rows, err := readRowsFrom(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		partitions[i] = rows
	}
	return partitions, nil
}

func readRowsFrom(f *os.File) ([]row.Row, error) {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var header []string
	var rows []row.Row
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if header == nil {
			header = fields
			continue
		}
		r := make(row.Row, len(fields))
		for i, f := range fields {
			if i >= len(header) {
				break
			}
			if f == "" {
				r[header[i]] = row.Null
				continue
			}
			r[header[i]] = row.String(f)
		}
		rows = append(rows, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
