package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lightninglabs/lndclient"
	"github.com/urfave/cli/v2"

	"github.com/lnaddrd/lnaddrd"
	"github.com/lnaddrd/lnaddrd/logger"
)

func main() {
	// A .env next to the binary is handy for deployments; flags and
	// real environment variables win over it.
	_ = godotenv.Load()

	app := cli.NewApp()
	app.Name = "lnaddrd"
	app.Usage = "Lightning Address / LNURL-pay server for lnd with " +
		"Nostr zap support"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "listen",
			Value:   lnaddrd.DefaultListenAddr,
			Usage:   "bind address of the public LNURL listener",
			EnvVars: []string{"LNADDRD_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "admin-listen",
			Value:   lnaddrd.DefaultAdminListenAddr,
			Usage:   "bind address of the admin RPC listener",
			EnvVars: []string{"LNADDRD_ADMIN_LISTEN"},
		},
		&cli.StringFlag{
			Name: "base-url",
			Usage: "externally reachable base URL, e.g. " +
				"https://sub.domain.org/path/",
			EnvVars: []string{"LNADDRD_BASE_URL"},
		},
		&cli.Uint64Flag{
			Name:    "min-receivable",
			Value:   lnaddrd.DefaultMinReceivableMsat,
			Usage:   "minimum receivable amount in msat",
			EnvVars: []string{"LNADDRD_MIN_RECEIVABLE"},
		},
		&cli.Uint64Flag{
			Name:    "max-receivable",
			Value:   lnaddrd.DefaultMaxReceivableMsat,
			Usage:   "maximum receivable amount in msat",
			EnvVars: []string{"LNADDRD_MAX_RECEIVABLE"},
		},
		&cli.StringFlag{
			Name:    "description",
			Value:   lnaddrd.DefaultDescription,
			Usage:   "description shown in wallets",
			EnvVars: []string{"LNADDRD_DESCRIPTION"},
		},
		&cli.StringFlag{
			Name:    "nostr-privkey",
			Usage:   "hex nostr private key for zap receipts",
			EnvVars: []string{"LNADDRD_NOSTR_PRIVKEY"},
		},
		&cli.StringSliceFlag{
			Name: "relay",
			Usage: "default relay to publish zap receipts to, " +
				"may be given multiple times",
			EnvVars: []string{"LNADDRD_RELAYS"},
		},
		&cli.BoolFlag{
			Name:    "skip-zap-sig-check",
			Usage:   "do not verify zap request signatures",
			EnvVars: []string{"LNADDRD_SKIP_ZAP_SIG_CHECK"},
		},
		&cli.StringFlag{
			Name: "workdir",
			Usage: "directory for the user registry and log " +
				"files",
			EnvVars: []string{"LNADDRD_WORKDIR"},
		},
		&cli.StringFlag{
			Name:    "lnd-host",
			Value:   "localhost:10009",
			Usage:   "lnd instance rpc address",
			EnvVars: []string{"LNADDRD_LND_HOST"},
		},
		&cli.StringFlag{
			Name:    "network",
			Value:   "mainnet",
			Usage:   "the bitcoin network lnd runs on",
			EnvVars: []string{"LNADDRD_NETWORK"},
		},
		&cli.StringFlag{
			Name:    "macpath",
			Usage:   "path to lnd's macaroon dir",
			EnvVars: []string{"LNADDRD_MACAROON_DIR"},
		},
		&cli.StringFlag{
			Name:    "tlspath",
			Usage:   "path to lnd's tls cert",
			EnvVars: []string{"LNADDRD_TLS_PATH"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "1",
			Usage:   "log level (-1 trace .. 5 panic)",
			EnvVars: []string{"LNADDRD_LOG_LEVEL"},
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "[lnaddrd] %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger.Init(c.String("log-level"))

	workdir := c.String("workdir")
	if workdir != "" {
		if err := os.MkdirAll(workdir, 0700); err != nil {
			return fmt.Errorf("could not create workdir: %w", err)
		}
		if err := logger.AddFileLogger(workdir); err != nil {
			return err
		}
	}

	cfg := &lnaddrd.Config{
		ListenAddr:            c.String("listen"),
		AdminListenAddr:       c.String("admin-listen"),
		BaseURL:               c.String("base-url"),
		MinReceivableMsat:     c.Uint64("min-receivable"),
		MaxReceivableMsat:     c.Uint64("max-receivable"),
		Description:           c.String("description"),
		NostrPrivKey:          c.String("nostr-privkey"),
		Relays:                c.StringSlice("relay"),
		SkipZapSignatureCheck: c.Bool("skip-zap-sig-check"),
		Workdir:               workdir,
		LndAddr:               c.String("lnd-host"),
		Network:               lndclient.Network(c.String("network")),
		MacaroonDir:           c.String("macpath"),
		TLSPath:               c.String("tlspath"),
	}

	server, err := lnaddrd.NewServer(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	return server.Run(ctx)
}
