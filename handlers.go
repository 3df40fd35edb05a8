package lnaddrd

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/nbd-wtf/go-nostr"

	"github.com/lnaddrd/lnaddrd/logger"
)

// lnurlp serves the LNURL-pay discovery step, for the anonymous
// endpoint as well as for /.well-known/lnurlp/:user.
func (s *Server) lnurlp(c echo.Context) error {
	user := c.Param("user")

	var (
		meta     Metadata
		callback string
	)
	if user == "" {
		meta = AnonymousMetadata(s.cfg.Description)
		callback = s.baseURL.JoinPath("invoice").String()
	} else {
		policy, ok := s.registry.Lookup(user)
		if !ok {
			return lnurlError(c, http.StatusNotFound,
				fmt.Sprintf("User `%s` not found!", user))
		}
		meta = s.userMetadata(policy)
		callback = s.baseURL.JoinPath("invoice", user).String()
	}

	resp := &PayResponse{
		Callback:    callback,
		MaxSendable: s.cfg.MaxReceivableMsat,
		MinSendable: s.cfg.MinReceivableMsat,
		Metadata:    meta.Encode(),
		Tag:         TypePayRequest,
		AllowsNostr: s.zaps != nil,
	}
	if s.zaps != nil {
		resp.NostrPubkey = s.zaps.PubKey()
	}

	return c.JSON(http.StatusOK, resp)
}

// invoice serves the LNURL-pay callback step: validate the amount
// against the configured bounds, determine the description commitment,
// have the node create the invoice and only then answer the caller.
func (s *Server) invoice(c echo.Context) error {
	ctx := c.Request().Context()
	user := c.Param("user")

	amountParam := c.QueryParam("amount")
	if amountParam == "" {
		return lnurlError(c, http.StatusBadRequest,
			"missing `amount` parameter")
	}
	amount, err := strconv.ParseUint(amountParam, 10, 64)
	if err != nil {
		return lnurlError(c, http.StatusBadRequest,
			"invalid `amount` parameter")
	}

	if amount < s.cfg.MinReceivableMsat {
		return lnurlError(c, http.StatusBadRequest,
			fmt.Sprintf("`amount` below minimum: %d<%d", amount,
				s.cfg.MinReceivableMsat))
	}
	if amount > s.cfg.MaxReceivableMsat {
		return lnurlError(c, http.StatusBadRequest,
			fmt.Sprintf("`amount` above maximum: %d>%d", amount,
				s.cfg.MaxReceivableMsat))
	}

	// The commitment is what the invoice's description hash is
	// computed over. A zap request replaces the locally built
	// metadata: the sender must be able to recompute the digest from
	// the exact request bytes they produced.
	var (
		commitment string
		zapRequest *nostr.Event
	)
	switch {
	case c.QueryParam("nostr") != "":
		if s.zaps == nil {
			return lnurlError(c, http.StatusBadRequest,
				"Nostr Zaps not configured")
		}
		raw := c.QueryParam("nostr")
		zapRequest, err = s.zaps.ParseZapRequest(raw, amount)
		if err != nil {
			return lnurlError(c, http.StatusBadRequest,
				err.Error())
		}
		commitment = raw

	case user != "":
		policy, ok := s.registry.Lookup(user)
		if !ok {
			return lnurlError(c, http.StatusNotFound,
				fmt.Sprintf("User `%s` not found!", user))
		}
		commitment = s.userMetadata(policy).Encode()

	default:
		commitment = AnonymousMetadata(s.cfg.Description).Encode()
	}

	hash := Digest(commitment)
	paymentHash, payReq, err := s.lnd.AddInvoice(
		ctx, &invoicesrpc.AddInvoiceData{
			Memo:            uuid.New().String(),
			Value:           lnwire.MilliSatoshi(amount),
			DescriptionHash: hash[:],
		},
	)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("user", user).
			Uint64("amount_msat", amount).
			Msg("Invoice creation failed")
		return lnurlError(c, http.StatusInternalServerError,
			fmt.Sprintf("invoice creation failed: %v", err))
	}

	if zapRequest != nil {
		s.zaps.Track(paymentHash, commitment, zapRequest)
	}

	return c.JSON(http.StatusOK, &InvoiceResponse{
		PayRequest: payReq,
		Routes:     []string{},
	})
}

// userMetadata builds the metadata for a registered user, falling back
// to the server-wide description when the user has none.
func (s *Server) userMetadata(policy UserPolicy) Metadata {
	if policy.Description == "" {
		policy.Description = s.cfg.Description
	}
	return BuildMetadata(policy, s.addressHost())
}

// lnurlError answers with the LUD error body. Reasons are structured
// strings, never raw stack traces.
func lnurlError(c echo.Context, status int, reason string) error {
	logger.Logger.Debug().
		Int("status", status).
		Str("reason", reason).
		Msg("lnurl error")

	return c.JSON(status, &Error{Status: "ERROR", Reason: reason})
}
