package lnaddrd

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Metadata is the ordered LNURL-pay metadata array. The first entry is
// always the text/plain description; a Lightning Address adds a
// text/identifier or text/email entry.
type Metadata [][2]string

const (
	metaPlain      = "text/plain"
	metaIdentifier = "text/identifier"
	metaEmail      = "text/email"
)

// AnonymousMetadata is the metadata served by the user-less endpoint.
func AnonymousMetadata(description string) Metadata {
	return Metadata{{metaPlain, description}}
}

// BuildMetadata builds the metadata for a registered user. host is the
// domain part of the Lightning Address, including the port when the
// base URL carries one.
func BuildMetadata(policy UserPolicy, host string) Metadata {
	kind := metaIdentifier
	if policy.IsEmail {
		kind = metaEmail
	}

	return Metadata{
		{metaPlain, policy.Description},
		{kind, fmt.Sprintf("%s@%s", policy.Name, host)},
	}
}

// Encode returns the canonical JSON serialization of the metadata.
// The invoice description hash commits to exactly these bytes, and the
// discovery response serves exactly these bytes, so both sides must go
// through this one function.
func (m Metadata) Encode() string {
	b, err := json.Marshal(m)
	if err != nil {
		// A [][2]string cannot fail to marshal.
		panic(err)
	}
	return string(b)
}

// Digest is the SHA-256 commitment over an invoice description.
func Digest(description string) [32]byte {
	return sha256.Sum256([]byte(description))
}
