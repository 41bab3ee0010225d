package paytrail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
	"github.com/soihtufest/soihtufest-backend/pkg/logger"
)

const (
	paymentsPath      = "/payments"
	requestIDHeader   = "request-id"
	contentTypeJSON   = "application/json; charset=utf-8"
	responseBodyLimit = 1 << 20
)

// Config carries the merchant credentials and endpoint for the provider.
type Config struct {
	MerchantID string
	Secret     string
	APIURL     string
	Timeout    time.Duration
}

// Client speaks the provider's signed request/response protocol. It is
// stateless: every call signs its own request and verifies the answer.
type Client struct {
	cfg  Config
	http *http.Client
	logg *logger.Logger

	now   func() time.Time
	nonce func() string
}

// NewClient validates the configuration and builds a provider client.
func NewClient(cfg Config, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.MerchantID) == "" {
		return nil, fmt.Errorf("merchant id is required")
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("merchant secret is required")
	}
	if strings.TrimSpace(cfg.APIURL) == "" {
		return nil, fmt.Errorf("api url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: timeout},
		logg:  logg,
		now:   time.Now,
		nonce: uuid.NewString,
	}, nil
}

// MerchantID returns the configured merchant account id.
func (c *Client) MerchantID() string {
	return c.cfg.MerchantID
}

// CreatePayment POSTs a payment to the provider, verifies the signed
// response and returns the redirect target. A transport fault or non-2xx
// status maps to PSP_REQUEST_ERROR ("nothing happened, safe to retry");
// any verification failure maps to PSP_RESPONSE_ERROR ("do not trust it").
func (c *Client) CreatePayment(ctx context.Context, payment Payment) (*CreatePaymentResult, error) {
	body, err := json.Marshal(payment)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePSPRequest, err, "encode payment")
	}

	headers := Headers{
		Account:   c.cfg.MerchantID,
		Algorithm: AlgorithmSHA256,
		Method:    http.MethodPost,
		Nonce:     c.nonce(),
		Timestamp: c.now().UTC().Format(time.RFC3339),
	}
	signature, err := Sign(c.cfg.Secret, headers, body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePSPRequest, err, "sign payment request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.APIURL, "/")+paymentsPath, bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePSPRequest, err, "build payment request")
	}
	for key, value := range headers.Pairs() {
		req.Header.Set(key, value)
	}
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set("Content-Type", contentTypeJSON)

	c.log(ctx, "paytrail.create_payment.request", map[string]any{
		"stamp":  payment.Stamp,
		"amount": payment.Amount,
	})

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePSPRequest, err, "payment request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePSPRequest, err, "read payment response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, pkgerrors.New(pkgerrors.CodePSPRequest,
			fmt.Sprintf("payment request rejected with status %d", resp.StatusCode)).
			WithDetails(map[string]any{"status": resp.StatusCode})
	}

	if err := c.verifyResponse(resp.Header, respBody, http.MethodPost); err != nil {
		return nil, err
	}

	var result CreatePaymentResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePSPResponse, err, "decode payment response")
	}
	if result.Href == "" || result.TransactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodePSPResponse, "payment response missing redirect target")
	}
	result.RequestID = resp.Header.Get(requestIDHeader)

	c.log(ctx, "paytrail.create_payment.response", map[string]any{
		"provider_transaction_id": result.TransactionID,
		"request_id":              result.RequestID,
	})
	return &result, nil
}

// verifyResponse checks the response signature over the provider-namespaced
// response headers plus raw body, then the account and method headers.
func (c *Client) verifyResponse(header http.Header, body []byte, usedMethod string) error {
	algorithm := header.Get(HeaderAlgorithm)
	if algorithm == "" {
		return pkgerrors.New(pkgerrors.CodePSPResponse, "response algorithm header missing")
	}

	pairs := providerHeaderPairs(header)
	if err := VerifyPairs(c.cfg.Secret, algorithm, pairs, body, header.Get(HeaderSignature)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePSPResponse, err, "verify response signature")
	}
	if account := header.Get(HeaderAccount); account != c.cfg.MerchantID {
		return pkgerrors.New(pkgerrors.CodePSPResponse, "response account mismatch")
	}
	if method := header.Get(HeaderMethod); method != usedMethod {
		return pkgerrors.New(pkgerrors.CodePSPResponse, "response method mismatch")
	}
	return nil
}

// PaymentCallback is the verified, typed payload of an inbound redirect or
// server-to-server callback.
type PaymentCallback struct {
	Account       string
	Amount        int64
	Stamp         string
	Reference     string
	TransactionID string
	Status        Status
	Provider      string
}

// VerifyCallback authenticates inbound query parameters and parses them into
// a typed callback. There is no method check: callbacks are
// provider-initiated. Any failure maps to PSP_RESPONSE_ERROR and the payload
// must not be allowed to mutate ledger state.
func (c *Client) VerifyCallback(values url.Values) (*PaymentCallback, error) {
	algorithm := values.Get(HeaderAlgorithm)
	if algorithm == "" {
		return nil, pkgerrors.New(pkgerrors.CodePSPResponse, "callback algorithm missing")
	}

	pairs := make(map[string]string, len(values))
	for key := range values {
		if strings.HasPrefix(strings.ToLower(key), HeaderPrefix) {
			pairs[key] = values.Get(key)
		}
	}
	if err := VerifyPairs(c.cfg.Secret, algorithm, pairs, nil, values.Get(HeaderSignature)); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePSPResponse, err, "verify callback signature")
	}

	account := values.Get(HeaderAccount)
	if account != c.cfg.MerchantID {
		return nil, pkgerrors.New(pkgerrors.CodePSPResponse, "callback account mismatch")
	}

	status, err := ParseStatus(values.Get("checkout-status"))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePSPResponse, err, "parse callback status")
	}

	var amount int64
	if raw := values.Get("checkout-amount"); raw != "" {
		amount, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodePSPResponse, err, "parse callback amount")
		}
	}

	return &PaymentCallback{
		Account:       account,
		Amount:        amount,
		Stamp:         values.Get("checkout-stamp"),
		Reference:     values.Get("checkout-reference"),
		TransactionID: values.Get(HeaderTransactionID),
		Status:        status,
		Provider:      values.Get("checkout-provider"),
	}, nil
}

func providerHeaderPairs(header http.Header) map[string]string {
	pairs := map[string]string{}
	for key := range header {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, HeaderPrefix) {
			pairs[lower] = header.Get(key)
		}
	}
	return pairs
}

func (c *Client) log(ctx context.Context, msg string, fields map[string]any) {
	if c.logg == nil {
		return
	}
	ctx = c.logg.WithFields(ctx, fields)
	c.logg.Info(ctx, msg)
}
