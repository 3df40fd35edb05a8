package lnaddrd

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lightninglabs/lndclient"
	"github.com/nbd-wtf/go-nostr"

	"github.com/lnaddrd/lnaddrd/logger"
)

// Server is the Lightning Address / LNURL-pay daemon: a public HTTP
// listener speaking the two-step LNURL-pay protocol, an admin listener
// for user management, and (when a zapper key is configured) the zap
// receipt correlator.
type Server struct {
	cfg     *Config
	baseURL *url.URL

	lnd         LndClient
	lndServices *lndclient.GrpcLndServices

	registry *Registry

	// zaps is nil when no nostr private key is configured, which
	// doubles as the "zaps enabled" switch for the handlers.
	zaps *ZapCorrelator

	public *echo.Echo
	admin  *echo.Echo
}

// NewServer connects to lnd and wires up the full server.
func NewServer(cfg *Config) (*Server, error) {
	lnd, err := connectLnd(cfg)
	if err != nil {
		return nil, err
	}

	s, err := newServer(cfg, lnd.Client)
	if err != nil {
		lnd.Close()
		return nil, err
	}
	s.lndServices = lnd

	return s, nil
}

// newServer wires everything except the lnd connection, so tests can
// inject their own LndClient.
func newServer(cfg *Config, lnd LndClient) (*Server, error) {
	baseURL, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		baseURL:  baseURL,
		lnd:      lnd,
		registry: NewRegistry(cfg.Workdir),
	}

	if err := s.registry.Load(); err != nil {
		return nil, err
	}

	if cfg.NostrPrivKey != "" {
		s.zaps, err = NewZapCorrelator(cfg, lnd)
		if err != nil {
			return nil, err
		}
	}

	s.public = newEcho()
	s.public.GET("/lnurlp", s.lnurlp)
	s.public.GET("/.well-known/lnurlp/:user", s.lnurlp)
	s.public.GET("/invoice", s.invoice)
	s.public.GET("/invoice/:user", s.invoice)

	s.admin = newEcho()
	s.admin.POST("/rpc", s.rpc)

	return s, nil
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogRemoteIP: true,
		LogValuesFunc: func(c echo.Context,
			values middleware.RequestLoggerValues) error {

			logger.HttpLogger.Info().
				Str("uri", values.URI).
				Int("status", values.Status).
				Str("remote_ip", values.RemoteIP).
				Msg("request")
			return nil
		},
	}))
	return e
}

// Run starts both listeners and, when zaps are enabled, the settlement
// listener. It blocks until ctx is cancelled or a listener fails.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	info, err := s.lnd.GetInfo(ctx)
	if err != nil {
		return err
	}
	logger.Logger.Info().
		Str("alias", info.Alias).
		Msg("Connected to lnd node")

	if err := s.printWelcome(); err != nil {
		return err
	}

	if s.zaps != nil {
		s.zaps.pool = nostr.NewSimplePool(ctx)
		go s.zaps.run(ctx)
	}

	go func() {
		err := s.admin.Start(s.cfg.AdminListenAddr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Error().Err(err).
				Msg("Admin listener failed")
			cancel()
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer shutdownCancel()

		_ = s.public.Shutdown(shutdownCtx)
		_ = s.admin.Shutdown(shutdownCtx)

		if s.lndServices != nil {
			s.lndServices.Close()
		}
	}()

	logger.Logger.Info().
		Str("listen", s.cfg.ListenAddr).
		Str("admin_listen", s.cfg.AdminListenAddr).
		Str("base_url", s.baseURL.String()).
		Msg("Starting lnurlp server")

	err = s.public.Start(s.cfg.ListenAddr)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

// printWelcome logs the service's static LNURL-pay code.
func (s *Server) printWelcome() error {
	payCode := s.baseURL.JoinPath("lnurlp").String()

	payLNURL, err := EncodeURL(payCode)
	if err != nil {
		return err
	}

	logger.Logger.Info().
		Str("lnurl", payLNURL).
		Str("url", payCode).
		Msg("Your static LNURL-pay code")

	return nil
}

// addressHost is the domain part of the Lightning Addresses this
// server hosts, including the base URL's port when present.
func (s *Server) addressHost() string {
	return s.baseURL.Host
}
