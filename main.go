package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/fhost/codec"
	"github.com/cppla/fhost/config"
	"github.com/cppla/fhost/controllers"
	"github.com/cppla/fhost/models"
	"github.com/cppla/fhost/routes"
	"github.com/cppla/fhost/services"
	"github.com/cppla/fhost/storage"
	"github.com/cppla/fhost/utils"
)

const usageText = `usage: fhost [command]

commands:
  serve                                     run the HTTP server (default)
  prune                                     delete expired files from storage
  vscan                                     scan stored files with clamd
  takedown <name>                           remove a file and block its content
  filter add <addr|net|mime|ua> <value> [comment]
  filter list
  filter rm <id>

Configuration is read from config/config.json (FHOST_CONFIG), .env and the
environment.
`

// app holds the components every command needs.
type app struct {
	cfg     config.AppConfig
	db      *gorm.DB
	store   *storage.ContentStore
	codec   *codec.Codec
	filters *services.FilterEngine
	ledger  *services.Ledger
	log     *zap.Logger
}

func newApp(cfg config.AppConfig) (*app, error) {
	c, err := codec.New(cfg.IDAlphabet, cfg.IDMinLength)
	if err != nil {
		return nil, fmt.Errorf("id alphabet: %w", err)
	}
	db, err := config.InitDatabase(cfg, &models.File{}, &models.URL{}, &models.RequestFilter{})
	if err != nil {
		return nil, err
	}
	log := utils.Logger
	store := storage.New(cfg.StoragePath)
	filters := services.NewFilterEngine(db, log)
	ledger := services.NewLedger(db, store, services.NewExpirationPolicy(cfg), filters, c, cfg, log)
	return &app{cfg: cfg, db: db, store: store, codec: c, filters: filters, ledger: ledger, log: log}, nil
}

func main() {
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usageText) }
	flag.Parse()

	cfg := config.Load()
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer utils.Logger.Sync() //nolint:errcheck

	args := flag.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	a, err := newApp(cfg)
	if err != nil {
		utils.Sugar.Fatalf("startup failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		err = a.serve(ctx)
	case "prune":
		err = a.prune(ctx)
	case "vscan":
		err = a.vscan(ctx)
	case "takedown":
		err = a.takedown(ctx, args)
	case "filter":
		err = a.filter(ctx, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		utils.Sugar.Errorf("%s: %v", cmd, err)
		os.Exit(1)
	}
}

func (a *app) serve(ctx context.Context) error {
	a.ledger.WithURLCache(urlCache(a.cfg))
	fetcher := services.NewFetcher(a.cfg)
	ctrl := controllers.NewFhostController(a.cfg, a.db, a.ledger, fetcher, a.store, a.log)
	r := routes.SetupRouter(a.cfg, ctrl, a.filters, a.log)

	pruner := services.NewPruner(a.db, a.store, a.log)
	utils.StartPeriodic(ctx, time.Duration(a.cfg.PruneIntervalMin)*time.Minute, func(ctx context.Context) {
		if _, err := pruner.Prune(ctx); err != nil {
			a.log.Error("scheduled prune failed", zap.Error(err))
		}
	})

	a.log.Info("starting server", zap.String("port", a.cfg.AppPort))
	return utils.GraceServer(ctx, ":"+a.cfg.AppPort, r)
}

// urlCache returns nil (no caching) unless Redis is enabled.
func urlCache(cfg config.AppConfig) services.URLCache {
	c := utils.NewURLCache(utils.NewRedis(cfg), time.Duration(cfg.URLCacheTTLSec)*time.Second)
	if c == nil {
		return nil
	}
	return c
}

func (a *app) prune(ctx context.Context) error {
	res, err := services.NewPruner(a.db, a.store, a.log).Prune(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("expired %d files, skipped %d, took %s\n", res.Expired, res.Skipped, res.Duration.Round(time.Millisecond))
	return nil
}

func (a *app) vscan(ctx context.Context) error {
	if a.cfg.VScanSocket == "" {
		return errors.New("no clamd socket configured (VSCAN_SOCKET)")
	}
	scanner, err := services.NewClamdScanner(a.cfg.VScanSocket)
	if err != nil {
		return err
	}
	sum, err := services.NewVirusScanner(a.db, a.store, a.codec, scanner, a.cfg, a.log).Scan(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("scanned %d: %d clean, %d quarantined, %d ignored, %d failed (%s)\n",
		sum.Scanned, sum.Clean, sum.Quarantined, sum.Ignored, sum.Failed, sum.Duration.Round(time.Millisecond))
	return nil
}

func (a *app) takedown(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: fhost takedown <name>")
	}
	f, err := a.ledger.FindByName(ctx, args[0])
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	if err := a.ledger.Takedown(ctx, f); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", a.ledger.PublicName(f))
	return nil
}

func (a *app) filter(ctx context.Context, args []string) error {
	fs := services.NewFilterStore(a.db)
	if len(args) == 0 {
		return errors.New("usage: fhost filter add|list|rm")
	}
	switch args[0] {
	case "add":
		if len(args) < 3 || len(args) > 4 {
			return errors.New("usage: fhost filter add <addr|net|mime|ua> <value> [comment]")
		}
		comment := ""
		if len(args) == 4 {
			comment = args[3]
		}
		row, err := fs.Add(ctx, args[1], args[2], comment)
		if err != nil {
			return err
		}
		fmt.Printf("added filter %d\n", row.ID)
	case "list":
		rows, err := fs.List(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tVALUE\tCOMMENT")
		for _, row := range rows {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", row.ID, row.Type, filterValue(row), row.Comment)
		}
		return w.Flush()
	case "rm":
		if len(args) != 2 {
			return errors.New("usage: fhost filter rm <id>")
		}
		id, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("bad filter id %q", args[1])
		}
		if err := fs.Remove(ctx, id); err != nil {
			return err
		}
		fmt.Printf("removed filter %d\n", id)
	default:
		return fmt.Errorf("unknown filter command %q", args[0])
	}
	return nil
}

func filterValue(row models.RequestFilter) string {
	switch row.Type {
	case models.FilterTypeAddr:
		return row.Addr.String()
	case models.FilterTypeNet:
		return row.Net.String()
	}
	if row.Regex != nil {
		return *row.Regex
	}
	return ""
}
