// Package courier quotes, books and cancels deliveries with an on-demand
// courier network.
package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/secrets"
	"github.com/angelmondragon/marketcore-backend/pkg/types"
)

const (
	authHeader              = "X-DV-Auth-Token"
	responseReadLimit int64 = 1 << 20
)

var vehicleTypeIDs = map[enums.VehicleClass]int{
	enums.VehicleMotorbike: 8,
	enums.VehicleSedan:     7,
	enums.VehicleVan:       6,
}

// Client wraps the courier network's order API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokenName  string
	secrets    secrets.Store
	logg       *logger.Logger
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

// WithLogger attaches the logger used for swallowed quote failures.
func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) { c.logg = logg }
}

// NewClient builds the courier client. The auth token is read from the secret
// store on every request.
func NewClient(baseURL, tokenSecretName string, store secrets.Store, timeout time.Duration, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("courier base url is required")
	}
	if store == nil || strings.TrimSpace(tokenSecretName) == "" {
		return nil, fmt.Errorf("courier token source is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    trimmed,
		tokenName:  tokenSecretName,
		secrets:    store,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// QuoteRequest describes a prospective delivery.
type QuoteRequest struct {
	Points        []types.DeliveryPoint
	InsuredAmount decimal.Decimal
	VehicleClass  enums.VehicleClass
	WeightKG      int
	PaymentMethod enums.PaymentMethod
	// CollectAmount is taken from the buyer at drop-off for cash orders.
	CollectAmount decimal.Decimal
}

// BookingRequest places a delivery.
type BookingRequest struct {
	QuoteRequest
	Matter          string
	MotoboxRequired bool
}

// BookingResult is the courier's verdict on a booking.
type BookingResult struct {
	IsSuccessful    bool
	BookingID       string
	Price           decimal.Decimal
	ParameterErrors map[string][]string
}

type apiPoint struct {
	Address         string  `json:"address"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	ContactPerson   contact `json:"contact_person"`
	Note            string  `json:"note,omitempty"`
	ApartmentNumber string  `json:"apartment_number,omitempty"`
	TakingAmount    string  `json:"taking_amount,omitempty"`
}

type contact struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone"`
}

type apiOrder struct {
	Matter          string     `json:"matter,omitempty"`
	VehicleTypeID   int        `json:"vehicle_type_id"`
	TotalWeightKG   int        `json:"total_weight_kg"`
	InsuranceAmount string     `json:"insurance_amount"`
	IsMotoboxNeeded bool       `json:"is_motobox_required"`
	PaymentMethod   string     `json:"payment_method"`
	Points          []apiPoint `json:"points"`
}

type apiOrderResponse struct {
	IsSuccessful bool `json:"is_successful"`
	Order        *struct {
		OrderID       json.Number `json:"order_id"`
		PaymentAmount string      `json:"payment_amount"`
	} `json:"order"`
	Errors          []string        `json:"errors"`
	ParameterErrors json.RawMessage `json:"parameter_errors"`
}

// Quote asks for a price estimate. Provider failures are logged and reported
// as an unknown price (nil, nil) so callers never block on an estimate.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*decimal.Decimal, error) {
	if len(req.Points) < 2 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least pickup and drop-off points are required")
	}
	resp, err := c.post(ctx, "calculate-order", buildOrder(req, "", false))
	if err != nil {
		c.warn(ctx, "courier quote unavailable", err)
		return nil, nil
	}
	if !resp.IsSuccessful || resp.Order == nil {
		c.warn(ctx, "courier quote rejected", fmt.Errorf("errors=%v", resp.Errors))
		return nil, nil
	}
	price, err := decimal.NewFromString(resp.Order.PaymentAmount)
	if err != nil {
		c.warn(ctx, "courier quote unparsable", err)
		return nil, nil
	}
	return &price, nil
}

// Book places the delivery. A rejected booking comes back with
// IsSuccessful=false and field errors; transport failures return an error.
func (c *Client) Book(ctx context.Context, req BookingRequest) (*BookingResult, error) {
	if len(req.Points) < 2 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least pickup and drop-off points are required")
	}
	resp, err := c.post(ctx, "create-order", buildOrder(req.QuoteRequest, req.Matter, req.MotoboxRequired))
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccessful || resp.Order == nil {
		fields := FlattenParameterErrors(resp.ParameterErrors)
		for _, code := range resp.Errors {
			fields["_"] = append(fields["_"], code)
		}
		return &BookingResult{IsSuccessful: false, ParameterErrors: fields}, nil
	}
	price, _ := decimal.NewFromString(resp.Order.PaymentAmount)
	return &BookingResult{
		IsSuccessful: true,
		BookingID:    resp.Order.OrderID.String(),
		Price:        price,
	}, nil
}

// Cancel withdraws a booking.
func (c *Client) Cancel(ctx context.Context, bookingID string) error {
	if strings.TrimSpace(bookingID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "booking id is required")
	}
	resp, err := c.post(ctx, "cancel-order", map[string]string{"order_id": bookingID})
	if err != nil {
		return err
	}
	if !resp.IsSuccessful {
		return pkgerrors.ProviderRejected("courier rejected cancellation", FlattenParameterErrors(resp.ParameterErrors))
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*apiOrderResponse, error) {
	token, err := c.secrets.Get(ctx, c.tokenName)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load courier token")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal courier request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build courier request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(authHeader, token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute courier request")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseReadLimit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read courier response")
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d", resp.StatusCode), "courier unavailable")
	}

	var out apiOrderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode courier response")
	}
	return &out, nil
}

func (c *Client) warn(ctx context.Context, msg string, err error) {
	if c.logg == nil {
		return
	}
	c.logg.WarnErr(ctx, msg, err)
}

func buildOrder(req QuoteRequest, matter string, motobox bool) apiOrder {
	paymentMethod := "balance"
	if req.PaymentMethod.IsCOD() {
		paymentMethod = "cash"
	}
	points := make([]apiPoint, 0, len(req.Points))
	for i, p := range req.Points {
		point := apiPoint{
			Address:         p.Address,
			Latitude:        p.Lat,
			Longitude:       p.Lng,
			ContactPerson:   contact{Name: p.Contact.Name, Phone: p.Contact.Phone},
			Note:            p.Note,
			ApartmentNumber: p.Apartment,
		}
		if i == len(req.Points)-1 && req.PaymentMethod.IsCOD() && req.CollectAmount.IsPositive() {
			point.TakingAmount = req.CollectAmount.StringFixed(2)
		}
		points = append(points, point)
	}
	vehicle, ok := vehicleTypeIDs[req.VehicleClass]
	if !ok {
		vehicle = vehicleTypeIDs[enums.VehicleMotorbike]
	}
	return apiOrder{
		Matter:          matter,
		VehicleTypeID:   vehicle,
		TotalWeightKG:   req.WeightKG,
		InsuranceAmount: req.InsuredAmount.StringFixed(2),
		IsMotoboxNeeded: motobox,
		PaymentMethod:   paymentMethod,
		Points:          points,
	}
}

// FlattenParameterErrors turns the courier's nested parameter_errors document
// into dotted field paths, e.g. {"points.1.address": ["invalid_value"]}.
func FlattenParameterErrors(raw json.RawMessage) map[string][]string {
	out := map[string][]string{}
	if len(raw) == 0 {
		return out
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return out
	}
	flatten("", doc, out)
	for key := range out {
		sort.Strings(out[key])
	}
	return out
}

func flatten(prefix string, node any, out map[string][]string) {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			flatten(join(prefix, key), child, out)
		}
	case []any:
		for i, child := range v {
			if s, ok := child.(string); ok {
				out[prefix] = append(out[prefix], s)
				continue
			}
			if child == nil {
				continue
			}
			flatten(join(prefix, strconv.Itoa(i)), child, out)
		}
	case string:
		out[prefix] = append(out[prefix], v)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
