package lnaddrd

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/stretchr/testify/require"
)

func TestLNURLRoundTrip(t *testing.T) {
	url := "https://ln.example.org/lnurlp"

	lnurl, err := EncodeURL(url)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(lnurl, "LNURL1"))
	require.Equal(t, strings.ToUpper(lnurl), lnurl)

	decoded, err := DecodeURL(lnurl)
	require.NoError(t, err)
	require.Equal(t, url, decoded)

	// Wallets pass LNURLs in either case.
	decoded, err = DecodeURL(strings.ToLower(lnurl))
	require.NoError(t, err)
	require.Equal(t, url, decoded)
}

// Long URLs exceed the 90 character bech32 limit and must still decode.
func TestLNURLLongURL(t *testing.T) {
	url := "https://ln.example.org/some/deeply/nested/path/invoice/" +
		"averylongusernameindeed?with=query&params=gh"

	lnurl, err := EncodeURL(url)
	require.NoError(t, err)

	decoded, err := DecodeURL(lnurl)
	require.NoError(t, err)
	require.Equal(t, url, decoded)
}

func TestDecodeURLWrongHRP(t *testing.T) {
	data, err := bech32.ConvertBits([]byte("https://x"), 8, 5, true)
	require.NoError(t, err)
	notLNURL, err := bech32.Encode("lnbc", data)
	require.NoError(t, err)

	_, err = DecodeURL(notLNURL)
	require.ErrorContains(t, err, "incorrect hrp")
}

func TestDecodeURLGarbage(t *testing.T) {
	_, err := DecodeURL("not a bech32 string")
	require.Error(t, err)
}
