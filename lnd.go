package lnaddrd

import (
	"context"

	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lntypes"
)

// LndClient is the subset of lndclient.LightningClient this daemon
// relies on. lndclient's concrete client satisfies it, and tests
// substitute their own implementation.
type LndClient interface {
	// GetInfo returns general information about the backing node.
	GetInfo(ctx context.Context) (*lndclient.Info, error)

	// AddInvoice creates an invoice and returns its payment hash and
	// bolt11 payment request.
	AddInvoice(ctx context.Context, in *invoicesrpc.AddInvoiceData) (
		lntypes.Hash, string, error)

	// LookupInvoice looks up an invoice by its payment hash.
	LookupInvoice(ctx context.Context, hash lntypes.Hash) (
		*lndclient.Invoice, error)

	// SubscribeInvoices pushes invoice state updates over the
	// returned channel.
	SubscribeInvoices(ctx context.Context,
		req lndclient.InvoiceSubscriptionRequest) (
		<-chan *lndclient.Invoice, <-chan error, error)
}

// connectLnd dials the configured lnd node.
func connectLnd(cfg *Config) (*lndclient.GrpcLndServices, error) {
	return lndclient.NewLndServices(&lndclient.LndServicesConfig{
		LndAddress:  cfg.LndAddr,
		Network:     cfg.Network,
		MacaroonDir: cfg.MacaroonDir,
		TLSPath:     cfg.TLSPath,
	})
}
