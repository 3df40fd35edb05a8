package lnaddrd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		BaseURL: "https://ln.example.org",
	}
}

func testServer(t *testing.T, cfg *Config) (*Server, *mockLnd) {
	t.Helper()

	lnd := newMockLnd()
	s, err := newServer(cfg, lnd)
	require.NoError(t, err)

	return s, lnd
}

func get(e *echo.Echo, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder,
	out interface{}) {

	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func requireLnurlError(t *testing.T, rec *httptest.ResponseRecorder,
	status int, reason string) {

	t.Helper()
	require.Equal(t, status, rec.Code)

	var body Error
	decodeJSON(t, rec, &body)
	require.Equal(t, "ERROR", body.Status)
	require.Equal(t, reason, body.Reason)
}

func TestDiscoveryAnonymous(t *testing.T) {
	s, _ := testServer(t, testConfig())

	rec := get(s.public, "/lnurlp")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PayResponse
	decodeJSON(t, rec, &resp)

	require.Equal(t, PayResponse{
		Callback:    "https://ln.example.org/invoice",
		MaxSendable: DefaultMaxReceivableMsat,
		MinSendable: 0,
		Metadata:    `[["text/plain","Thank you :)"]]`,
		Tag:         TypePayRequest,
	}, resp)
}

func TestDiscoveryUnknownUser(t *testing.T) {
	s, _ := testServer(t, testConfig())

	rec := get(s.public, "/.well-known/lnurlp/alice")
	requireLnurlError(
		t, rec, http.StatusNotFound, "User `alice` not found!",
	)
}

func TestDiscoveryRegisteredUser(t *testing.T) {
	s, _ := testServer(t, testConfig())

	_, err := s.registry.AddUser("alice", true, "Pay alice")
	require.NoError(t, err)

	rec := get(s.public, "/.well-known/lnurlp/alice")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PayResponse
	decodeJSON(t, rec, &resp)

	require.Equal(
		t, "https://ln.example.org/invoice/alice", resp.Callback,
	)
	require.Equal(
		t, `[["text/plain","Pay alice"],`+
			`["text/email","alice@ln.example.org"]]`,
		resp.Metadata,
	)
}

// A registered user without a description inherits the server-wide one.
func TestDiscoveryUserDefaultDescription(t *testing.T) {
	s, _ := testServer(t, testConfig())

	_, err := s.registry.AddUser("bob", false, "")
	require.NoError(t, err)

	rec := get(s.public, "/.well-known/lnurlp/bob")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PayResponse
	decodeJSON(t, rec, &resp)
	require.Equal(
		t, `[["text/plain","Thank you :)"],`+
			`["text/identifier","bob@ln.example.org"]]`,
		resp.Metadata,
	)
}

func TestDiscoveryWithZaps(t *testing.T) {
	cfg := testConfig()
	cfg.NostrPrivKey = nostr.GeneratePrivateKey()
	s, _ := testServer(t, cfg)

	rec := get(s.public, "/lnurlp")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PayResponse
	decodeJSON(t, rec, &resp)
	require.True(t, resp.AllowsNostr)
	require.Equal(t, s.zaps.PubKey(), resp.NostrPubkey)
}

func TestInvoiceAmountValidation(t *testing.T) {
	cfg := testConfig()
	cfg.MinReceivableMsat = 1000
	cfg.MaxReceivableMsat = 2000
	s, _ := testServer(t, cfg)

	tests := []struct {
		name   string
		target string
		reason string
	}{{
		name:   "missing amount",
		target: "/invoice",
		reason: "missing `amount` parameter",
	}, {
		name:   "non-numeric amount",
		target: "/invoice?amount=bogus",
		reason: "invalid `amount` parameter",
	}, {
		name:   "negative amount",
		target: "/invoice?amount=-1",
		reason: "invalid `amount` parameter",
	}, {
		name:   "below minimum",
		target: "/invoice?amount=999",
		reason: "`amount` below minimum: 999<1000",
	}, {
		name:   "above maximum",
		target: "/invoice?amount=2001",
		reason: "`amount` above maximum: 2001>2000",
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec := get(s.public, test.target)
			requireLnurlError(
				t, rec, http.StatusBadRequest, test.reason,
			)
		})
	}
}

// TestInvoiceAnonymous checks the happy path end to end: the response
// carries the node's invoice and the invoice commits to the same
// metadata bytes the discovery step serves.
func TestInvoiceAnonymous(t *testing.T) {
	s, lnd := testServer(t, testConfig())

	rec := get(s.public, "/invoice?amount=1500")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InvoiceResponse
	decodeJSON(t, rec, &resp)
	require.Equal(t, "lnbcrt1mock1", resp.PayRequest)
	require.NotNil(t, resp.Routes)
	require.Empty(t, resp.Routes)

	in := lnd.lastInvoice()
	require.NotNil(t, in)
	require.Equal(t, lnwire.MilliSatoshi(1500), in.Value)

	expected := Digest(AnonymousMetadata(DefaultDescription).Encode())
	require.Equal(t, expected[:], in.DescriptionHash)
	require.NotEmpty(t, in.Memo)
}

func TestInvoiceUserCommitment(t *testing.T) {
	s, lnd := testServer(t, testConfig())

	_, err := s.registry.AddUser("alice", true, "Pay alice")
	require.NoError(t, err)

	rec := get(s.public, "/invoice/alice?amount=1500")
	require.Equal(t, http.StatusOK, rec.Code)

	expected := Digest(
		`[["text/plain","Pay alice"],` +
			`["text/email","alice@ln.example.org"]]`,
	)
	require.Equal(t, expected[:], lnd.lastInvoice().DescriptionHash)
}

func TestInvoiceUnknownUser(t *testing.T) {
	s, _ := testServer(t, testConfig())

	rec := get(s.public, "/invoice/alice?amount=1500")
	requireLnurlError(
		t, rec, http.StatusNotFound, "User `alice` not found!",
	)
}

func TestInvoiceZapsNotConfigured(t *testing.T) {
	s, _ := testServer(t, testConfig())

	query := url.Values{}
	query.Set("amount", "1500")
	query.Set("nostr", `{"kind":9734}`)

	rec := get(s.public, "/invoice?"+query.Encode())
	requireLnurlError(
		t, rec, http.StatusBadRequest, "Nostr Zaps not configured",
	)
}

// TestInvoiceZapRequest checks that a valid zap request replaces the
// metadata commitment and registers a pending zap for the invoice.
func TestInvoiceZapRequest(t *testing.T) {
	cfg := testConfig()
	cfg.NostrPrivKey = nostr.GeneratePrivateKey()
	s, lnd := testServer(t, cfg)

	senderKey := nostr.GeneratePrivateKey()
	raw := signedZapRequest(t, senderKey, 1500)

	query := url.Values{}
	query.Set("amount", "1500")
	query.Set("nostr", raw)

	rec := get(s.public, "/invoice?"+query.Encode())
	require.Equal(t, http.StatusOK, rec.Code)

	// The invoice commits to the raw zap request bytes.
	expected := Digest(raw)
	require.Equal(t, expected[:], lnd.lastInvoice().DescriptionHash)

	s.zaps.mu.Lock()
	pending, ok := s.zaps.pending[lnd.lastHash()]
	s.zaps.mu.Unlock()
	require.True(t, ok)
	require.Equal(t, raw, pending.requestJSON)
}

func TestInvoiceZapAmountMismatch(t *testing.T) {
	cfg := testConfig()
	cfg.NostrPrivKey = nostr.GeneratePrivateKey()
	s, _ := testServer(t, cfg)

	raw := signedZapRequest(t, nostr.GeneratePrivateKey(), 2000)

	query := url.Values{}
	query.Set("amount", "1500")
	query.Set("nostr", raw)

	rec := get(s.public, "/invoice?"+query.Encode())
	requireLnurlError(
		t, rec, http.StatusBadRequest,
		"zap request amount does not match query amount: 1500!=2000",
	)
}

func TestInvoiceCreationFailure(t *testing.T) {
	s, lnd := testServer(t, testConfig())
	lnd.addErr = errMock

	rec := get(s.public, "/invoice?amount=1500")
	requireLnurlError(
		t, rec, http.StatusInternalServerError,
		"invoice creation failed: mock failure",
	)
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{BaseURL: "https://ln.example.org/addr"}
	baseURL, err := cfg.validate()
	require.NoError(t, err)

	require.Equal(t, "https://ln.example.org/addr/", baseURL.String())
	require.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	require.Equal(t, DefaultAdminListenAddr, cfg.AdminListenAddr)
	require.Equal(t, DefaultDescription, cfg.Description)
	require.Equal(t, DefaultMaxReceivableMsat, cfg.MaxReceivableMsat)
	require.Equal(t, DefaultZapPendingTTL, cfg.ZapPendingTTL)

	_, err = (&Config{}).validate()
	require.ErrorContains(t, err, "base URL")

	_, err = (&Config{BaseURL: "/just/a/path"}).validate()
	require.ErrorContains(t, err, "missing host")

	_, err = (&Config{
		BaseURL:           "https://ln.example.org",
		MinReceivableMsat: 10,
		MaxReceivableMsat: 5,
	}).validate()
	require.ErrorContains(t, err, "greater than")
}
