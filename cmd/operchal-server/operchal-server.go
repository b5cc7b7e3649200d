package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"code.kerpass.org/operchal/internal/metrics"
	"code.kerpass.org/operchal/internal/observability"
	"code.kerpass.org/operchal/internal/server"
	"code.kerpass.org/operchal/pkg/operauth"
	"code.kerpass.org/operchal/pkg/opercred"
	"code.kerpass.org/operchal/pkg/opercred/boltdb"
	"code.kerpass.org/operchal/pkg/opercred/pgdb"
)

const usageFmt = `
Command Usage: %s [Flags]
  Serve operator CHALLENGE authentication over a line protocol.
  Oper blocks are read from -config, or from a -bolt or -pg database
  that -config populates if both are set.

Flags:
------
`

type Cmd struct {
	Listen       string
	Name         string
	ConfigPath   string
	BoltPath     string
	PgDSN        string
	PgSchema     string
	TLSCert      string
	TLSKey       string
	SecureOnly   bool
	FailureLimit int
	ReapInterval time.Duration
	MetricsAddr  string
	Debug        bool
}

func parseFlags(progname string, args []string) *Cmd {
	cmd := Cmd{}

	flags := flag.NewFlagSet(progname, flag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, usageFmt, path.Base(progname))
		flags.PrintDefaults()
	}

	flags.StringVar(&cmd.Listen, "listen", "127.0.0.1:6667", `address the server listens on`)
	flags.StringVar(&cmd.Name, "name", "irc.localhost", `server name prefixing replies`)
	flags.StringVar(&cmd.ConfigPath, "config", "", `path of a .json or .cbor oper blocks configuration`)
	flags.StringVar(&cmd.BoltPath, "bolt", "", `path of a boltdb oper blocks database`)
	flags.StringVar(&cmd.PgDSN, "pg", "", `postgres DSN of an oper blocks database`)
	flags.StringVar(&cmd.PgSchema, "pg-schema", "operchal", `postgres schema holding the oper table`)
	flags.StringVar(&cmd.TLSCert, "tls-cert", "", `PEM certificate, enables TLS with -tls-key`)
	flags.StringVar(&cmd.TLSKey, "tls-key", "", `PEM private key of -tls-cert`)
	flags.BoolVar(&cmd.SecureOnly, "secure-only", false, `refuse CHALLENGE on plaintext connections`)
	flags.IntVar(&cmd.FailureLimit, "failure-limit", 0, `failed responses after which CHALLENGE is refused, 0 disables`)
	flags.DurationVar(&cmd.ReapInterval, "reap", 30*time.Second, `period of expired challenges removal`)
	flags.StringVar(&cmd.MetricsAddr, "metrics", "", `address serving prometheus metrics on /metrics, disabled if empty`)
	flags.BoolVar(&cmd.Debug, "v", false, `enable debug logging`)

	flags.Parse(args)

	if "" == cmd.ConfigPath && "" == cmd.BoltPath && "" == cmd.PgDSN {
		flags.Usage()
		log.Fatal("one of -config, -bolt or -pg is required")
	}
	if ("" == cmd.TLSCert) != ("" == cmd.TLSKey) {
		log.Fatal("-tls-cert and -tls-key must be set together")
	}

	return &cmd
}

func main() {
	cmd := parseFlags(os.Args[0], os.Args[1:])

	level := slog.LevelInfo
	if cmd.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = observability.SetObservability(ctx, &observability.Observability{Logger: logger})

	store, cfg, err := openStore(ctx, cmd)
	if nil != err {
		log.Fatalf("Failed loading oper blocks, got error %v", err)
	}
	if pgstore, ok := store.(*pgdb.OperStore); ok {
		defer pgstore.Close()
	}

	var audit operauth.AuditSink = operauth.LogAudit{}
	reg := metrics.NewRegistry()
	if "" != cmd.MetricsAddr {
		audit, err = metrics.NewAuditCounter(reg, audit)
		if nil != err {
			log.Fatalf("Failed creating metrics, got error %v", err)
		}
	}

	srv := &server.Server{
		Name: cmd.Name,
		Auth: &operauth.Authenticator{
			Resolver: opercred.StoreResolver{Store: store},
			Config: operauth.Config{
				SecureOnly:   cmd.SecureOnly || cfg.SecureOnly,
				FailureLimit: max(cmd.FailureLimit, cfg.FailureLimit),
			},
			Audit: audit,
		},
		ReapInterval: cmd.ReapInterval,
	}

	ln, err := net.Listen("tcp", cmd.Listen)
	if nil != err {
		log.Fatalf("Failed listening on %s, got error %v", cmd.Listen, err)
	}
	if "" != cmd.TLSCert {
		cert, err := tls.LoadX509KeyPair(cmd.TLSCert, cmd.TLSKey)
		if nil != err {
			log.Fatalf("Failed loading TLS certificate, got error %v", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			ClientAuth:   tls.RequestClientCert,
			MinVersion:   tls.VersionTLS12,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})
	if "" != cmd.MetricsAddr {
		err = metrics.RegisterSessionGauge(reg, srv.SessionCount)
		if nil != err {
			log.Fatalf("Failed creating metrics, got error %v", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		hsrv := &http.Server{Addr: cmd.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", cmd.MetricsAddr)
			err := hsrv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hsrv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	if nil != err {
		log.Fatalf("Server failed, got error %v", err)
	}
	logger.Info("server stopped")
}

// openStore returns the Store selected by cmd flags and the configuration options.
func openStore(ctx context.Context, cmd *Cmd) (opercred.Store, *opercred.FileConfig, error) {
	cfg := &opercred.FileConfig{}
	var err error
	if "" != cmd.ConfigPath {
		cfg, err = opercred.LoadConfig(cmd.ConfigPath)
		if nil != err {
			return nil, nil, err
		}
	}

	var store opercred.Store
	switch {
	case "" != cmd.PgDSN:
		pgstore, err := pgdb.NewOperStore(ctx, cmd.PgDSN, cmd.PgSchema)
		if nil != err {
			return nil, nil, err
		}
		err = pgdb.OperStoreMigrate(ctx, pgstore.DB, cmd.PgSchema)
		if nil != err {
			return nil, nil, err
		}
		store = pgstore
	case "" != cmd.BoltPath:
		store, err = boltdb.New(cmd.BoltPath)
		if nil != err {
			return nil, nil, err
		}
	default:
		store = opercred.NewMemStore()
	}

	if "" != cmd.ConfigPath {
		err = cfg.Populate(ctx, filepath.Dir(cmd.ConfigPath), store)
		if nil != err {
			return nil, nil, err
		}
	}

	return store, cfg, nil
}
