// Command fsy runs one peer-to-peer file synchronization node: it loads the
// configuration, brings up the transport and watcher, and runs the
// dispatcher loop until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/ipfs/go-datastore"
	leveldb "github.com/ipfs/go-ds-leveldb"
	"github.com/urfave/cli"

	"github.com/fsyio/fsy/internal/config"
	"github.com/fsyio/fsy/pkg/fsy/action"
	"github.com/fsyio/fsy/pkg/fsy/definition"
	"github.com/fsyio/fsy/pkg/fsy/dispatcher"
	"github.com/fsyio/fsy/pkg/fsy/handler"
	"github.com/fsyio/fsy/pkg/fsy/queue"
	"github.com/fsyio/fsy/pkg/fsy/registry"
	"github.com/fsyio/fsy/pkg/fsy/ticket"
	"github.com/fsyio/fsy/pkg/fsy/transport"
	"github.com/fsyio/fsy/pkg/fsy/watcher"
)

var configFlag = cli.StringFlag{
	Name:  "config",
	Usage: "path to the TOML configuration file, overriding the default location",
}

func main() {
	app := cli.NewApp()
	app.Name = "fsy"
	app.Usage = "peer-to-peer file synchronization daemon"
	app.Flags = []cli.Flag{configFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fsy:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	var log definition.Logger = definition.NewDefaultLogger()

	path := c.String(configFlag.Name)
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolve config path: %w", err)
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config %q: %w", path, err)
	}
	log = log.WithField("node_id", cfg.Identity.NodeID)
	log.Infof("fsy: config %s", path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ds, err := openDatastore(path)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	tickets, err := ticket.New(ds, 1024, log)
	if err != nil {
		return fmt.Errorf("new ticket store: %w", err)
	}

	tp, err := transport.New(ctx, cfg.Identity.PrivateKey(), "/ip4/0.0.0.0/tcp/0", tickets, log)
	if err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	tp.ServeBlobs(log)

	w, err := watcher.New(log, pushPathsOf(cfg.Registry), cfg.Identity.PushDebounce)
	if err != nil {
		tp.Close()
		return fmt.Errorf("start watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		w.Close()
		tp.Close()
		return fmt.Errorf("watch push paths: %w", err)
	}

	actionQueue := queue.New[action.CommAction](queue.MaxCapacity)
	h := handler.New(cfg.Registry, tp, tickets, actionQueue, log)
	d := dispatcher.New(cfg.Identity.NodeID, cfg.Registry, tp, w, h, actionQueue, cfg.Identity.LoopCadence, log)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("fsy: shutting down")
		d.Stop()
		cancel()
	}()

	d.Run(ctx)

	var shutdownErr *multierror.Error
	if err := w.Close(); err != nil {
		shutdownErr = multierror.Append(shutdownErr, fmt.Errorf("close watcher: %w", err))
	}
	if err := tp.Close(); err != nil {
		shutdownErr = multierror.Append(shutdownErr, fmt.Errorf("close transport: %w", err))
	}
	if shutdownErr.ErrorOrNil() != nil {
		log.Errorf("fsy: shutdown: %v", shutdownErr)
	}

	return nil
}

func pushPathsOf(reg *registry.Registry) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, g := range reg.PushGroups() {
		if _, ok := seen[g.Path]; ok {
			continue
		}
		seen[g.Path] = struct{}{}
		out = append(out, g.Path)
	}
	return out
}

func openDatastore(configPath string) (datastore.Datastore, error) {
	return leveldb.NewDatastore(configPath+".blobs", nil)
}
