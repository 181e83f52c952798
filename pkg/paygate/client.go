// Package paygate issues signed payment links for a redirect-style online
// banking processor and verifies its callbacks.
package paygate

import (
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/secrets"
)

const responseReadLimit int64 = 1024

// Client talks to the payment processor.
type Client struct {
	httpClient *http.Client
	baseURL    string
	voidURL    string
	secretName string
	secrets    secrets.Store
	fees       FeeTable
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithVoidURL sets the merchant request endpoint used to void transactions.
func WithVoidURL(voidURL string) Option {
	return func(c *Client) { c.voidURL = strings.TrimSpace(voidURL) }
}

// WithFeeTable replaces the default processor fee table.
func WithFeeTable(fees FeeTable) Option {
	return func(c *Client) {
		if fees != nil {
			c.fees = fees
		}
	}
}

// NewClient builds a gateway client. The shared secret is looked up by
// secretName on every digest computation.
func NewClient(baseURL, secretName string, store secrets.Store, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("payment gateway base url is required")
	}
	if strings.TrimSpace(secretName) == "" || store == nil {
		return nil, fmt.Errorf("payment gateway secret source is required")
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimSpace(baseURL),
		secretName: secretName,
		secrets:    store,
		fees:       DefaultFeeTable(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// LinkRequest carries the fields the processor signs.
type LinkRequest struct {
	MerchantKeyID string
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	PayerEmail    string
	ProcessorID   string
	// Param1 and Param2 come back untouched on the callback.
	Param1 string
	Param2 string
}

func (r LinkRequest) validate() error {
	switch {
	case strings.TrimSpace(r.MerchantKeyID) == "":
		return fmt.Errorf("merchant key id is required")
	case strings.TrimSpace(r.TransactionID) == "":
		return fmt.Errorf("transaction id is required")
	case !r.Amount.IsPositive():
		return fmt.Errorf("amount must be positive")
	case strings.TrimSpace(r.Currency) == "":
		return fmt.Errorf("currency is required")
	case strings.TrimSpace(r.PayerEmail) == "":
		return fmt.Errorf("payer email is required")
	}
	return nil
}

// RequestLink returns the processor URL the payer is redirected to.
func (c *Client) RequestLink(ctx context.Context, req LinkRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment link request")
	}
	secret, err := c.secret(ctx)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "parse payment gateway url")
	}
	q := u.Query()
	q.Set("merchantid", req.MerchantKeyID)
	q.Set("txnid", req.TransactionID)
	q.Set("amount", FormatAmount(req.Amount))
	q.Set("ccy", req.Currency)
	q.Set("description", req.Description)
	q.Set("email", req.PayerEmail)
	q.Set("digest", LinkDigest(req, secret))
	if req.ProcessorID != "" {
		q.Set("procid", req.ProcessorID)
	}
	if req.Param1 != "" {
		q.Set("param1", req.Param1)
	}
	if req.Param2 != "" {
		q.Set("param2", req.Param2)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Callback is what the processor posts back (and appends to the return URL).
type Callback struct {
	TxnID   string
	RefNo   string
	Status  string
	Message string
	Digest  string
	Param1  string
	Param2  string
}

// VerifyCallback reports whether the callback digest matches the shared secret.
func (c *Client) VerifyCallback(ctx context.Context, cb Callback) (bool, error) {
	secret, err := c.secret(ctx)
	if err != nil {
		return false, err
	}
	expected := CallbackDigest(cb.TxnID, cb.RefNo, cb.Status, cb.Message, secret)
	got := strings.ToLower(strings.TrimSpace(cb.Digest))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1, nil
}

// Void asks the processor to cancel an unpaid transaction.
func (c *Client) Void(ctx context.Context, merchantKeyID, txnID string) error {
	if c.voidURL == "" {
		return pkgerrors.New(pkgerrors.CodeDependency, "payment gateway void endpoint not configured")
	}
	secret, err := c.secret(ctx)
	if err != nil {
		return err
	}
	u, err := url.Parse(c.voidURL)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "parse void url")
	}
	q := u.Query()
	q.Set("op", "VOID")
	q.Set("merchantid", merchantKeyID)
	q.Set("merchantpwd", secret)
	q.Set("txnid", txnID)
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build void request")
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute void request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseReadLimit))
	result := strings.TrimSpace(string(body))
	if resp.StatusCode != http.StatusOK || result != "0" {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, result), "void rejected")
	}
	return nil
}

// Fees exposes the processor fee table.
func (c *Client) Fees() FeeTable {
	return c.fees
}

func (c *Client) secret(ctx context.Context) (string, error) {
	secret, err := c.secrets.Get(ctx, c.secretName)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment gateway secret")
	}
	return secret, nil
}

// FormatAmount renders an amount with exactly two decimals.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// LinkDigest is SHA1(merchantKeyId:txnId:amount:currency:description:email:secret).
func LinkDigest(req LinkRequest, secret string) string {
	return sha1Hex(strings.Join([]string{
		req.MerchantKeyID,
		req.TransactionID,
		FormatAmount(req.Amount),
		req.Currency,
		req.Description,
		req.PayerEmail,
		secret,
	}, ":"))
}

// CallbackDigest is SHA1(txnid:refno:status:message:secret).
func CallbackDigest(txnID, refNo, status, message, secret string) string {
	return sha1Hex(strings.Join([]string{txnID, refNo, status, message, secret}, ":"))
}

func sha1Hex(value string) string {
	sum := sha1.Sum([]byte(value))
	return hex.EncodeToString(sum[:])
}
