package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketcore-backend/internal/payments"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/paygate"
)

type stubApplier struct {
	got paygate.Callback
	out *payments.Outcome
	err error
}

func (s *stubApplier) ApplyStatus(ctx context.Context, cb paygate.Callback) (*payments.Outcome, error) {
	s.got = cb
	return s.out, s.err
}

type stubResolver struct {
	target string
	err    error
}

func (s stubResolver) ResolveRedirect(ctx context.Context, cb paygate.Callback) (string, error) {
	return s.target, s.err
}

func formRequest(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestPaymentCallbackAcknowledgesForm(t *testing.T) {
	txnID := uuid.New()
	svc := &stubApplier{out: &payments.Outcome{TransactionID: txnID, Status: enums.PaymentStatusSuccess, Applied: true}}
	values := url.Values{"txnid": {txnID.String()}, "refno": {"R1"}, "status": {"S"}, "message": {"ok"}, "digest": {"abc"}}

	rec := httptest.NewRecorder()
	PaymentCallback(svc, nil).ServeHTTP(rec, formRequest(values))

	if rec.Code != http.StatusOK || rec.Body.String() != CallbackAck {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if svc.got.TxnID != txnID.String() || svc.got.RefNo != "R1" || svc.got.Digest != "abc" {
		t.Fatalf("callback not decoded: %+v", svc.got)
	}
}

func TestPaymentCallbackAcceptsJSON(t *testing.T) {
	svc := &stubApplier{out: &payments.Outcome{}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback",
		strings.NewReader(`{"txnid":"t-1","status":"F","digest":"d","refno":"r","message":"m"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	rec := httptest.NewRecorder()
	PaymentCallback(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.got.Status != "F" || svc.got.TxnID != "t-1" {
		t.Fatalf("callback not decoded: %+v", svc.got)
	}
}

func TestPaymentCallbackMapsErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{pkgerrors.New(pkgerrors.CodeIntegrity, "callback digest mismatch"), http.StatusBadRequest},
		{pkgerrors.New(pkgerrors.CodeNotFound, "payment transaction not found"), http.StatusNotFound},
		{pkgerrors.New(pkgerrors.CodeConflict, "terminal status differs"), http.StatusConflict},
	}
	values := url.Values{"txnid": {"t"}, "status": {"S"}, "digest": {"d"}}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		PaymentCallback(&stubApplier{err: tc.err}, nil).ServeHTTP(rec, formRequest(values))
		if rec.Code != tc.want {
			t.Fatalf("%v: expected %d got %d", tc.err, tc.want, rec.Code)
		}
		if rec.Body.String() == CallbackAck {
			t.Fatalf("error must not acknowledge")
		}
	}
}

func TestPaymentCallbackRequiresFields(t *testing.T) {
	rec := httptest.NewRecorder()
	PaymentCallback(&stubApplier{}, nil).ServeHTTP(rec, formRequest(url.Values{"txnid": {"t"}}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestPaymentResultRedirects(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/result?txnid=t&status=S&digest=d&param1=order", nil)
	rec := httptest.NewRecorder()
	PaymentResult(stubResolver{target: "https://shop.example/order/success"}, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302 got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://shop.example/order/success" {
		t.Fatalf("unexpected location %q", loc)
	}

	rec = httptest.NewRecorder()
	PaymentResult(stubResolver{err: pkgerrors.New(pkgerrors.CodeIntegrity, "callback digest mismatch")}, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}
