// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// The keelsbot command is a chat bot for the Jabber network.
//
// It connects to any service that speaks the XMPP protocol, joins the
// configured multi-user chat rooms and answers commands sent to it directly or
// in those rooms.
package main // import "mellium.im/keelsbot/cmd/keelsbot"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"mellium.im/keelsbot/adhoc"
	"mellium.im/keelsbot/bot"
	"mellium.im/keelsbot/bot/definitions"
	"mellium.im/keelsbot/bot/feeds"
	"mellium.im/keelsbot/bot/paste"
	"mellium.im/keelsbot/bot/remote"
	"mellium.im/keelsbot/bot/seen"
	"mellium.im/keelsbot/disco"
	"mellium.im/keelsbot/internal/pool"
	"mellium.im/keelsbot/muc"
	"mellium.im/keelsbot/ping"
	"mellium.im/keelsbot/plugin"
	"mellium.im/keelsbot/storage"
	"mellium.im/keelsbot/version"
	"mellium.im/keelsbot/xmpp"
	"mellium.im/keelsbot/xtime"
)

const (
	appName = "keelsbot"
)

// Set at build time while linking.
var (
	Version = "devel"
	Commit  = "unknown commit"
)

// core plugins are always loaded and survive a rehash.
var core = []string{disco.Name, muc.Name, version.Name, ping.Name, adhoc.Name}

type loggers struct {
	logger *log.Logger
	debug  *log.Logger
	recv   *log.Logger
	sent   *log.Logger
}

func printHelp(flags *flag.FlagSet, w io.Writer) {
	flags.SetOutput(w)
	fmt.Fprint(w, `Usage of keelsbot:

`)
	flags.PrintDefaults()
}

func main() {
	logs := loggers{
		logger: log.New(os.Stderr, "", log.LstdFlags),
		debug:  log.New(io.Discard, "DEBUG ", log.LstdFlags),
		recv:   log.New(io.Discard, "RECV ", log.LstdFlags),
		sent:   log.New(io.Discard, "SENT ", log.LstdFlags),
	}

	var (
		configPath string
		h          bool
		help       bool
		genConfig  bool
		verbose    bool
		xml        bool
		quiet      bool
	)
	flags := flag.NewFlagSet(appName, flag.ContinueOnError)
	flags.StringVar(&configPath, "c", configPath, "the config file to load")
	flags.BoolVar(&h, "h", h, "print this help message")
	flags.BoolVar(&help, "help", help, "print this help message")
	flags.BoolVar(&genConfig, "config", genConfig, "print a default config file to stdout")
	flags.BoolVar(&verbose, "d", verbose, "log debugging output")
	flags.BoolVar(&xml, "v", xml, "log debugging output and all XML sent and received")
	flags.BoolVar(&quiet, "q", quiet, "only log errors")
	// Even with ContinueOnError set, it still prints for some reason. Discard the
	// first defaults so we can write our own.
	flags.SetOutput(io.Discard)
	err := flags.Parse(os.Args[1:])
	if err != nil {
		logs.logger.Println(err)
		printHelp(flags, os.Stderr)
		os.Exit(2)
	}

	if help || h {
		printHelp(flags, os.Stdout)
		return
	}

	if genConfig {
		err = printConfig(os.Stdout)
		if err != nil {
			logs.logger.Fatalf("Error writing default config: %v", err)
		}
		return
	}

	if verbose || xml {
		logs.debug.SetOutput(os.Stderr)
	}
	if xml {
		logs.recv.SetOutput(os.Stderr)
		logs.sent.SetOutput(os.Stderr)
	}
	errLog := logs.logger
	if quiet {
		logs.logger = log.New(io.Discard, "", 0)
	}

	f, fpath, err := configFile(configPath)
	if err != nil {
		errLog.Fatalf(`%v

Try running '%s -config' to generate a default config file.`, err, os.Args[0])
	}
	if err = f.Close(); err != nil {
		logs.debug.Printf("error closing config file: %v", err)
	}
	logs.debug.Printf("%s %s (%s), Go %s %s", appName, Version, Commit, runtime.Version(), runtime.Compiler)
	logs.debug.Printf("using config file %s", fpath)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)

	for {
		restart, err := run(context.Background(), fpath, sigs, logs)
		if err != nil {
			errLog.Fatal(err)
		}
		if !restart {
			return
		}
		logs.logger.Println("restarting")
	}
}

// run connects the bot and processes the session until the bot dies or the
// connection fails for good.
// It reports whether the bot asked to be restarted.
func run(ctx context.Context, fpath string, sigs <-chan os.Signal, logs loggers) (bool, error) {
	cfg, err := loadConfig(fpath)
	if err != nil {
		return false, err
	}
	opts, err := cfg.clientOptions()
	if err != nil {
		return false, err
	}
	opts.Pool = pool.New(pool.DefaultSize)
	opts.Logger = logs.logger
	opts.Debug = logs.debug
	opts.Recv = logs.recv
	opts.Sent = logs.sent

	dbFile := cfg.Storage.File
	if dbFile == "" {
		dbFile = appName + ".db"
	}
	if dbFile != ":memory:" && !filepath.IsAbs(dbFile) {
		dbFile = filepath.Join(filepath.Dir(fpath), dbFile)
	}
	dbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	db, err := storage.Open(dbCtx, dbFile, logs.debug)
	cancel()
	if err != nil {
		return false, fmt.Errorf("error opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logs.debug.Printf("error closing database: %v", err)
		}
	}()

	client := xmpp.New(opts)
	reg := plugin.NewRegistry(client, logs.logger, logs.debug)
	b := bot.New(client, reg, bot.Options{
		Config: cfg.botConfig(),
		Reload: func() (bot.Config, error) {
			c, err := loadConfig(fpath)
			if err != nil {
				return bot.Config{}, err
			}
			return c.botConfig(), nil
		},
		Core:   core,
		Logger: logs.logger,
		Debug:  logs.debug,
	})
	for _, f := range []plugin.Factory{
		disco.Factory(),
		muc.Factory(),
		version.Factory(cfg.versionQuery()),
		ping.Factory(),
		adhoc.Factory(),
		seen.Factory(b, db),
		definitions.Factory(b, db),
		feeds.Factory(db),
		paste.Factory(b),
		remote.Factory(b),
		xtime.Factory(nil),
	} {
		if err := reg.Add(f); err != nil {
			return false, err
		}
	}
	if err := b.Load(); err != nil {
		logs.logger.Printf("some plugins could not be loaded: %v", err)
	}
	logs.logger.Printf("connecting as %s", opts.JID)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer stop()
		return client.Run(gctx)
	})
	g.Go(func() error {
		select {
		case sig := <-sigs:
			logs.debug.Printf("received %v, shutting down", sig)
			b.Die()
		case <-gctx.Done():
		}
		return nil
	})
	err = g.Wait()
	reg.DeregisterAll()
	opts.Pool.Wait()
	if err != nil {
		return false, err
	}
	return b.Restarting(), nil
}
