package paytrail

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strings"
)

// Provider-namespaced header and parameter names. Only pairs carrying this
// prefix participate in signature computation.
const (
	HeaderPrefix        = "checkout-"
	HeaderAccount       = "checkout-account"
	HeaderAlgorithm     = "checkout-algorithm"
	HeaderMethod        = "checkout-method"
	HeaderNonce         = "checkout-nonce"
	HeaderTimestamp     = "checkout-timestamp"
	HeaderTransactionID = "checkout-transaction-id"
	HeaderSignature     = "signature"

	AlgorithmSHA256 = "sha256"
	AlgorithmSHA512 = "sha512"
)

// Headers is the typed set of provider headers attached to an outbound
// request. TransactionID is optional and omitted from signing when empty.
type Headers struct {
	Account       string
	Algorithm     string
	Method        string
	Nonce         string
	Timestamp     string
	TransactionID string
}

// Pairs expands the typed headers into their wire names.
func (h Headers) Pairs() map[string]string {
	pairs := map[string]string{
		HeaderAccount:   h.Account,
		HeaderAlgorithm: h.Algorithm,
		HeaderMethod:    h.Method,
		HeaderNonce:     h.Nonce,
		HeaderTimestamp: h.Timestamp,
	}
	if h.TransactionID != "" {
		pairs[HeaderTransactionID] = h.TransactionID
	}
	return pairs
}

// Sign computes the request signature for the typed header set and raw body.
func Sign(secret string, headers Headers, body []byte) (string, error) {
	return SignPairs(secret, headers.Algorithm, headers.Pairs(), body)
}

// SignPairs computes the provider signature over explicit header pairs: the
// message is the lexicographically sorted "key:value" lines of the
// provider-namespaced pairs, followed by the raw body, all joined with
// newlines. Pairs outside the provider namespace are ignored.
func SignPairs(secret, algorithm string, pairs map[string]string, body []byte) (string, error) {
	mac, err := newMAC(secret, algorithm)
	if err != nil {
		return "", err
	}

	normalized := make(map[string]string, len(pairs))
	keys := make([]string, 0, len(pairs))
	for key, value := range pairs {
		lower := strings.ToLower(key)
		if !strings.HasPrefix(lower, HeaderPrefix) {
			continue
		}
		if _, exists := normalized[lower]; !exists {
			keys = append(keys, lower)
		}
		normalized[lower] = value
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		lines = append(lines, key+":"+normalized[key])
	}
	lines = append(lines, string(body))

	mac.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyPairs recomputes the signature over the given pairs and body and
// compares it byte-for-byte against the supplied signature.
func VerifyPairs(secret, algorithm string, pairs map[string]string, body []byte, signature string) error {
	if signature == "" {
		return fmt.Errorf("signature missing")
	}
	expected, err := SignPairs(secret, algorithm, pairs, body)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func newMAC(secret, algorithm string) (hash.Hash, error) {
	switch algorithm {
	case AlgorithmSHA256:
		return hmac.New(sha256.New, []byte(secret)), nil
	case AlgorithmSHA512:
		return hmac.New(sha512.New, []byte(secret)), nil
	case "":
		return nil, fmt.Errorf("hash algorithm missing")
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}
