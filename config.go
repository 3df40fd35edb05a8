package lnaddrd

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lightninglabs/lndclient"
)

const (
	// DefaultListenAddr is the default bind address of the public
	// LNURL listener.
	DefaultListenAddr = "localhost:9797"

	// DefaultAdminListenAddr is the default bind address of the admin
	// RPC listener. It should never be exposed publicly.
	DefaultAdminListenAddr = "127.0.0.1:9898"

	// DefaultDescription is used for the anonymous endpoint and for
	// users registered without their own description.
	DefaultDescription = "Thank you :)"

	DefaultMinReceivableMsat uint64 = 0
	DefaultMaxReceivableMsat uint64 = 100_000_000_000

	// DefaultZapPendingTTL bounds how long an unpaid zap invoice keeps
	// its correlation entry around. Matches lnd's default invoice
	// expiry window.
	DefaultZapPendingTTL = 24 * time.Hour

	// DefaultRelayPublishTimeout bounds a single zap receipt fan-out.
	DefaultRelayPublishTimeout = 10 * time.Second
)

// Config holds the startup options of the daemon. Amounts are
// millisatoshi throughout: the configured bounds are surfaced verbatim
// as minSendable/maxSendable and the callback's amount parameter is
// validated against them in the same unit.
type Config struct {
	// ListenAddr is the public HTTP bind address.
	ListenAddr string

	// AdminListenAddr is the bind address of the adduser/deluser RPC.
	AdminListenAddr string

	// BaseURL is the externally reachable URL of this service, e.g.
	// https://sub.domain.org/path/. Its host also becomes the domain
	// part of the Lightning Addresses served.
	BaseURL string

	MinReceivableMsat uint64
	MaxReceivableMsat uint64

	// Description shown in wallets when no user-specific one applies.
	Description string

	// NostrPrivKey enables zap support when set (hex encoded). Without
	// it, callback requests carrying a zap request are rejected.
	NostrPrivKey string

	// Relays are always included in the receipt publish fan-out, in
	// addition to the relays named in each zap request.
	Relays []string

	// SkipZapSignatureCheck disables zap request signature
	// verification. Verification is on by default; relays verify
	// independently, so it can be switched off for interop debugging.
	SkipZapSignatureCheck bool

	ZapPendingTTL       time.Duration
	RelayPublishTimeout time.Duration

	// Workdir is where the user registry and settle index snapshots
	// live. Empty disables persistence.
	Workdir string

	// Connection details of the backing lnd node.
	LndAddr     string
	Network     lndclient.Network
	MacaroonDir string
	TLSPath     string
}

func (cfg *Config) validate() (*url.URL, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.AdminListenAddr == "" {
		cfg.AdminListenAddr = DefaultAdminListenAddr
	}
	if cfg.Description == "" {
		cfg.Description = DefaultDescription
	}
	if cfg.MaxReceivableMsat == 0 {
		cfg.MaxReceivableMsat = DefaultMaxReceivableMsat
	}
	if cfg.ZapPendingTTL == 0 {
		cfg.ZapPendingTTL = DefaultZapPendingTTL
	}
	if cfg.RelayPublishTimeout == 0 {
		cfg.RelayPublishTimeout = DefaultRelayPublishTimeout
	}

	if cfg.MinReceivableMsat > cfg.MaxReceivableMsat {
		return nil, fmt.Errorf("min receivable %d is greater than "+
			"max receivable %d", cfg.MinReceivableMsat,
			cfg.MaxReceivableMsat)
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("please specify a base URL")
	}
	raw := cfg.BaseURL
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	baseURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if baseURL.Host == "" {
		return nil, fmt.Errorf("invalid base URL, missing host "+
			"part: %s", raw)
	}

	return baseURL, nil
}
