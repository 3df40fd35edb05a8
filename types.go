package lnaddrd

// PayResponse is the LNURL-pay discovery response (LUD-06/LUD-16).
type PayResponse struct {
	// Callback is the URL which will accept the pay request
	// parameters.
	Callback string `json:"callback"`

	// MaxSendable is the max amount (msat) this service is willing to
	// receive.
	MaxSendable uint64 `json:"maxSendable"`

	// MinSendable is the min amount (msat) this service is willing to
	// receive.
	MinSendable uint64 `json:"minSendable"`

	// Metadata must be presented as a raw JSON string here, this is
	// required for description hash verification at a later step.
	Metadata string `json:"metadata"`

	// Tag of the LNURL sub-protocol, always "payRequest".
	Tag string `json:"tag"`

	// AllowsNostr signals NIP-57 zap support (a zapper key is
	// configured).
	AllowsNostr bool `json:"allowsNostr"`

	// NostrPubkey is the hex public key zap receipts will be signed
	// with, omitted when zaps are disabled.
	NostrPubkey string `json:"nostrPubkey,omitempty"`
}

// InvoiceResponse is the LNURL-pay callback response.
type InvoiceResponse struct {
	// PayRequest is a bech32-serialized lightning invoice.
	PayRequest string `json:"pr"`

	// Routes is always an empty array, kept for wallet compatibility.
	Routes []string `json:"routes"`
}

// TypePayRequest is the tag value of LNURL-pay discovery responses.
const TypePayRequest = "payRequest"

// Error is the LNURL error body returned on every failure path.
type Error struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}
