package lnaddrd

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

const lnurlHRP = "lnurl"

// DecodeURL decodes a bech32 LNURL string into the wrapped URL.
func DecodeURL(lnurl string) (string, error) {
	// LNURLs routinely exceed the 90 character bech32 limit.
	hrp, data, err := bech32.DecodeNoLimit(strings.ToLower(lnurl))
	if err != nil {
		return "", err
	}

	if hrp != lnurlHRP {
		return "", fmt.Errorf("incorrect hrp for LNURL. Expected "+
			"'%s', got '%s'", lnurlHRP, hrp)
	}

	data, err = bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// EncodeURL encodes a URL as an uppercase bech32 LNURL string.
func EncodeURL(url string) (string, error) {
	converted, err := bech32.ConvertBits([]byte(url), 8, 5, true)
	if err != nil {
		return "", err
	}

	str, err := bech32.Encode(lnurlHRP, converted)
	if err != nil {
		return "", err
	}

	return strings.ToUpper(str), nil
}
