package lnaddrd

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/channeldb"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/nbd-wtf/go-nostr"

	"github.com/lnaddrd/lnaddrd/logger"
)

// settleIndexFilename persists the last processed settle index inside
// the workdir, so a restart resumes the settlement stream where it
// left off.
const settleIndexFilename = "settleindex.json"

// publishedGrace is how long a published entry sticks around so
// duplicate settlement notifications stay idempotent.
const publishedGrace = time.Minute

// RelayPool publishes an event to a set of relays. *nostr.SimplePool
// satisfies it; tests use a recording fake.
type RelayPool interface {
	PublishMany(ctx context.Context, urls []string,
		ev nostr.Event) chan nostr.PublishResult
}

// pendingZap correlates an issued invoice with the zap request that
// asked for it.
type pendingZap struct {
	requestJSON string
	request     *nostr.Event
	createdAt   time.Time
	published   bool
	publishedAt time.Time
}

// ZapCorrelator tracks zap-tagged invoices until they settle, then
// signs and publishes the matching zap receipt (NIP-57).
type ZapCorrelator struct {
	lnd  LndClient
	pool RelayPool

	privKey string
	pubKey  string

	verifySignatures bool
	defaultRelays    []string
	ttl              time.Duration
	publishTimeout   time.Duration

	subscribeRetry time.Duration
	streamRetry    time.Duration

	mu      sync.Mutex
	pending map[lntypes.Hash]*pendingZap

	// settleIndex is only touched by the run loop.
	settleIndex     uint64
	settleIndexPath string
}

// NewZapCorrelator derives the zapper public key from the configured
// private key and prepares an empty correlation table.
func NewZapCorrelator(cfg *Config, lnd LndClient) (*ZapCorrelator, error) {
	pubKey, err := nostr.GetPublicKey(cfg.NostrPrivKey)
	if err != nil {
		return nil, fmt.Errorf("invalid nostr private key: %w", err)
	}

	z := &ZapCorrelator{
		lnd:              lnd,
		privKey:          cfg.NostrPrivKey,
		pubKey:           pubKey,
		verifySignatures: !cfg.SkipZapSignatureCheck,
		defaultRelays:    cfg.Relays,
		ttl:              cfg.ZapPendingTTL,
		publishTimeout:   cfg.RelayPublishTimeout,
		subscribeRetry:   10 * time.Second,
		streamRetry:      2 * time.Second,
		pending:          make(map[lntypes.Hash]*pendingZap),
	}
	if cfg.Workdir != "" {
		z.settleIndexPath = filepath.Join(
			cfg.Workdir, settleIndexFilename,
		)
	}

	return z, nil
}

// PubKey is the hex public key receipts are signed with.
func (z *ZapCorrelator) PubKey() string {
	return z.pubKey
}

// ParseZapRequest parses and validates a zap request carried in the
// callback's nostr parameter. amount is the msat amount of the
// callback, which a zap request's amount tag must agree with.
func (z *ZapCorrelator) ParseZapRequest(raw string, amount uint64) (
	*nostr.Event, error) {

	event := &nostr.Event{}
	if err := json.Unmarshal([]byte(raw), event); err != nil {
		return nil, fmt.Errorf("invalid zap request JSON: %w", err)
	}

	if z.verifySignatures {
		if ok, err := event.CheckSignature(); !ok || err != nil {
			return nil, fmt.Errorf("invalid zap request signature")
		}
	}

	if err := validateZapRequest(event, amount); err != nil {
		return nil, err
	}

	return event, nil
}

// validateZapRequest applies the NIP-57 appendix D structural checks.
func validateZapRequest(event *nostr.Event, amount uint64) error {
	if event.Kind != nostr.KindZapRequest {
		return fmt.Errorf("zap request has wrong kind: %d", event.Kind)
	}
	if len(event.Tags) == 0 {
		return fmt.Errorf("zap request must have tags")
	}

	var eTags, pTags, bigPTags int
	var haveRelays bool
	for _, tag := range event.Tags {
		if len(tag) == 0 {
			continue
		}

		switch tag[0] {
		case "amount":
			if len(tag) < 2 {
				return fmt.Errorf("missing value in `amount` tag")
			}
			zapAmount, err := strconv.ParseUint(tag[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid `amount` tag: %w", err)
			}
			if zapAmount != amount {
				return fmt.Errorf("zap request amount does not "+
					"match query amount: %d!=%d", amount,
					zapAmount)
			}

		case "relays":
			if len(tag) > 1 {
				haveRelays = true
			}

		case "e":
			eTags++
			if eTags > 1 {
				return fmt.Errorf("zap request must have 0 or 1 " +
					"e tags")
			}

		case "p":
			pTags++
			if pTags > 1 {
				return fmt.Errorf("zap request must have only " +
					"one p tag")
			}
			if len(tag) < 2 || !validHexKey(tag[1]) {
				return fmt.Errorf("invalid pubkey in `p` tag")
			}

		case "P":
			bigPTags++
			if bigPTags > 1 {
				return fmt.Errorf("zap request has too many `P` " +
					"tags")
			}
			if len(tag) < 2 || !validHexKey(tag[1]) {
				return fmt.Errorf("invalid pubkey in `P` tag")
			}
			if tag[1] != event.PubKey {
				return fmt.Errorf("`P` tag must be equal to the " +
					"zap request pubkey")
			}

		case "a":
			if len(tag) < 2 {
				return fmt.Errorf("missing value in `a` tag")
			}
			if err := validateCoordinate(tag[1]); err != nil {
				return err
			}
		}
	}

	if pTags == 0 {
		return fmt.Errorf("zap request must have only one p tag")
	}
	if !haveRelays {
		return fmt.Errorf("there should be a `relays` tag in the " +
			"zap request")
	}

	return nil
}

// validateCoordinate checks a NIP-01 `a` tag value, kind:pubkey[:d].
func validateCoordinate(coord string) error {
	parts := strings.Split(coord, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return fmt.Errorf("invalid `a` tag format")
	}
	if _, err := strconv.ParseUint(parts[0], 10, 16); err != nil {
		return fmt.Errorf("invalid kind in `a` tag")
	}
	if !validHexKey(parts[1]) {
		return fmt.Errorf("invalid pubkey in `a` tag")
	}
	return nil
}

func validHexKey(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Track registers a pending zap under the payment hash of the invoice
// that was just issued for it.
func (z *ZapCorrelator) Track(hash lntypes.Hash, requestJSON string,
	request *nostr.Event) {

	z.mu.Lock()
	z.pending[hash] = &pendingZap{
		requestJSON: requestJSON,
		request:     request,
		createdAt:   time.Now(),
	}
	z.mu.Unlock()

	logger.Logger.Debug().
		Str("payment_hash", hash.String()).
		Str("sender", request.PubKey).
		Msg("Tracking pending zap")
}

// run subscribes to the node's settlement stream and keeps consuming
// until ctx is cancelled, reconnecting with backoff on stream errors.
func (z *ZapCorrelator) run(ctx context.Context) {
	z.loadSettleIndex()

	go z.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		invoices, errChan, err := z.lnd.SubscribeInvoices(
			ctx, lndclient.InvoiceSubscriptionRequest{
				SettleIndex: z.settleIndex,
			},
		)
		if err != nil {
			logger.Logger.Error().Err(err).
				Msg("Error subscribing to invoices")
			select {
			case <-ctx.Done():
				return
			case <-time.After(z.subscribeRetry):
				continue
			}
		}

		z.consume(ctx, invoices, errChan)
	}
}

func (z *ZapCorrelator) consume(ctx context.Context,
	invoices <-chan *lndclient.Invoice, errChan <-chan error) {

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-errChan:
			logger.Logger.Warn().Err(err).
				Msg("Invoice subscription failed, reconnecting")
			select {
			case <-ctx.Done():
			case <-time.After(z.streamRetry):
			}
			return

		case invoice, ok := <-invoices:
			if !ok {
				return
			}
			if invoice.State != channeldb.ContractSettled {
				continue
			}
			z.handleSettled(ctx, invoice)
		}
	}
}

// handleSettled publishes at most one receipt per payment hash.
// Settled invoices without a correlation entry are not zaps and are
// ignored.
func (z *ZapCorrelator) handleSettled(ctx context.Context,
	invoice *lndclient.Invoice) {

	if invoice.SettleIndex > z.settleIndex {
		z.settleIndex = invoice.SettleIndex
		z.saveSettleIndex()
	}

	z.mu.Lock()
	pending, ok := z.pending[invoice.Hash]
	if !ok || pending.published {
		z.mu.Unlock()
		return
	}
	pending.published = true
	pending.publishedAt = time.Now()
	z.mu.Unlock()

	receipt, err := z.buildReceipt(pending, invoice)
	if err != nil {
		logger.Logger.Warn().Err(err).
			Str("payment_hash", invoice.Hash.String()).
			Msg("Could not build zap receipt")
		return
	}

	z.publish(ctx, receipt, relayList(pending.request))
}

// buildReceipt constructs and signs the kind 9735 zap receipt for a
// settled zap invoice.
func (z *ZapCorrelator) buildReceipt(pending *pendingZap,
	invoice *lndclient.Invoice) (*nostr.Event, error) {

	request := pending.request

	tags := nostr.Tags{}
	if p := request.Tags.GetFirst([]string{"p"}); p != nil && len(*p) > 1 {
		tags = append(tags, nostr.Tag{"p", (*p)[1]})
	}
	if e := request.Tags.GetFirst([]string{"e"}); e != nil && len(*e) > 1 {
		tags = append(tags, nostr.Tag{"e", (*e)[1]})
	}
	tags = append(tags,
		nostr.Tag{"P", request.PubKey},
		nostr.Tag{"bolt11", invoice.PaymentRequest},
		nostr.Tag{"description", pending.requestJSON},
	)
	if invoice.Preimage != nil {
		tags = append(tags, nostr.Tag{
			"preimage", invoice.Preimage.String(),
		})
	}

	receipt := &nostr.Event{
		PubKey:    z.pubKey,
		CreatedAt: nostr.Timestamp(invoice.SettleDate.Unix()),
		Kind:      nostr.KindZap,
		Tags:      tags,
	}

	if err := receipt.Sign(z.privKey); err != nil {
		return nil, fmt.Errorf("could not sign zap receipt: %w", err)
	}

	return receipt, nil
}

// publish fans the receipt out to the zap request's relays plus the
// configured defaults. Failures are logged per relay and never
// propagated: the invoice is already paid, receipts are best-effort.
func (z *ZapCorrelator) publish(ctx context.Context,
	receipt *nostr.Event, requestRelays []string) {

	relays := mergeRelays(requestRelays, z.defaultRelays)
	if len(relays) == 0 {
		logger.Logger.Warn().Str("event_id", receipt.ID).
			Msg("No relays to publish zap receipt to")
		return
	}

	// The invoice is already paid, so a shutdown of the subscription
	// context must not cut the receipt short: the publish gets its full
	// timeout either way.
	publishCtx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx), z.publishTimeout,
	)
	defer cancel()

	published := 0
	results := z.pool.PublishMany(publishCtx, relays, *receipt)
	for result := range results {
		if result.Error != nil {
			logger.Logger.Warn().Err(result.Error).
				Str("relay", result.RelayURL).
				Str("event_id", receipt.ID).
				Msg("Could not publish zap receipt to relay")
			continue
		}
		published++
	}

	logger.Logger.Info().
		Str("event_id", receipt.ID).
		Int("relays_ok", published).
		Int("relays_total", len(relays)).
		Msg("Published zap receipt")
}

// sweep evicts pending entries that outlived the TTL without a
// settlement, and published entries after the idempotency grace
// period.
func (z *ZapCorrelator) sweep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			z.sweepOnce(now)
		}
	}
}

func (z *ZapCorrelator) sweepOnce(now time.Time) {
	z.mu.Lock()
	defer z.mu.Unlock()

	for hash, pending := range z.pending {
		switch {
		case pending.published &&
			now.Sub(pending.publishedAt) > publishedGrace:
			delete(z.pending, hash)

		case !pending.published &&
			now.Sub(pending.createdAt) > z.ttl:
			logger.Logger.Debug().
				Str("payment_hash", hash.String()).
				Msg("Evicting expired pending zap")
			delete(z.pending, hash)
		}
	}
}

func (z *ZapCorrelator) loadSettleIndex() {
	if z.settleIndexPath == "" {
		return
	}

	content, err := os.ReadFile(z.settleIndexPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Logger.Warn().Err(err).
				Msg("Could not read settle index file")
		}
		return
	}
	if err := json.Unmarshal(content, &z.settleIndex); err != nil {
		logger.Logger.Warn().Err(err).
			Msg("Could not parse settle index file")
	}
}

func (z *ZapCorrelator) saveSettleIndex() {
	if z.settleIndexPath == "" {
		return
	}

	serialized, err := json.Marshal(z.settleIndex)
	if err == nil {
		err = os.WriteFile(z.settleIndexPath, serialized, 0600)
	}
	if err != nil {
		logger.Logger.Warn().Err(err).
			Msg("Could not persist settle index")
	}
}

// relayList extracts the relay URLs named in a zap request.
func relayList(request *nostr.Event) []string {
	tag := request.Tags.GetFirst([]string{"relays"})
	if tag == nil || len(*tag) < 2 {
		return nil
	}
	return (*tag)[1:]
}

func mergeRelays(requestRelays, defaults []string) []string {
	seen := make(map[string]struct{})
	var merged []string
	for _, url := range append(requestRelays, defaults...) {
		if url == "" {
			continue
		}
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		merged = append(merged, url)
	}
	return merged
}
