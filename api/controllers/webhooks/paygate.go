package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/angelmondragon/marketcore-backend/api/responses"
	"github.com/angelmondragon/marketcore-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/paygate"
)

// CallbackAck is the literal body the processor expects on success.
const CallbackAck = "result=OK"

const maxCallbackBytes = 64 << 10

type StatusApplier interface {
	ApplyStatus(ctx context.Context, cb paygate.Callback) (*payments.Outcome, error)
}

type RedirectResolver interface {
	ResolveRedirect(ctx context.Context, cb paygate.Callback) (string, error)
}

type callbackBody struct {
	TxnID   string `json:"txnid"`
	RefNo   string `json:"refno"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Digest  string `json:"digest"`
	Param1  string `json:"param1"`
	Param2  string `json:"param2"`
}

func (b callbackBody) callback() paygate.Callback {
	return paygate.Callback{
		TxnID:   strings.TrimSpace(b.TxnID),
		RefNo:   strings.TrimSpace(b.RefNo),
		Status:  strings.TrimSpace(b.Status),
		Message: b.Message,
		Digest:  strings.TrimSpace(b.Digest),
		Param1:  strings.TrimSpace(b.Param1),
		Param2:  strings.TrimSpace(b.Param2),
	}
}

func fromValues(v url.Values) callbackBody {
	return callbackBody{
		TxnID:   v.Get("txnid"),
		RefNo:   v.Get("refno"),
		Status:  v.Get("status"),
		Message: v.Get("message"),
		Digest:  v.Get("digest"),
		Param1:  v.Get("param1"),
		Param2:  v.Get("param2"),
	}
}

// PaymentCallback receives the processor's server-to-server status post.
// Errors are answered in plain text so the processor retries on 5xx only.
func PaymentCallback(svc StatusApplier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WritePlain(w, http.StatusInternalServerError, "payment reconciler unavailable")
			return
		}

		body, err := decodeCallback(w, r)
		if err != nil {
			writeCallbackError(ctx, logg, w, err)
			return
		}
		cb := body.callback()
		if cb.TxnID == "" || cb.Digest == "" || cb.Status == "" {
			writeCallbackError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "txnid, status and digest are required"))
			return
		}

		outcome, err := svc.ApplyStatus(ctx, cb)
		if err != nil {
			writeCallbackError(ctx, logg, w, err)
			return
		}
		if logg != nil && outcome != nil && outcome.Duplicate {
			logg.Info(logg.WithField(ctx, "transaction_id", cb.TxnID), "duplicate payment callback acknowledged")
		}
		responses.WritePlain(w, http.StatusOK, CallbackAck)
	}
}

// PaymentResult handles the buyer's browser return and redirects to the
// storefront outcome page.
func PaymentResult(svc RedirectResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment reconciler unavailable"))
			return
		}
		cb := fromValues(r.URL.Query()).callback()
		target, err := svc.ResolveRedirect(r.Context(), cb)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

func decodeCallback(w http.ResponseWriter, r *http.Request) (callbackBody, error) {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body callbackBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return callbackBody{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid callback body")
		}
		return body, nil
	}
	if err := r.ParseForm(); err != nil {
		return callbackBody{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid callback form")
	}
	return fromValues(r.Form), nil
}

func writeCallbackError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	status := responses.StatusFor(err)
	if logg != nil {
		logCtx := logg.WithFields(ctx, map[string]any{"status": status})
		if status >= http.StatusInternalServerError {
			logg.Error(logCtx, "payment callback failed", err)
		} else {
			logg.WarnErr(logCtx, "payment callback rejected", err)
		}
	}
	message := http.StatusText(status)
	if typed := pkgerrors.As(err); typed != nil && pkgerrors.MetadataFor(typed.Code()).PublicMessage != "" {
		message = pkgerrors.MetadataFor(typed.Code()).PublicMessage
	}
	responses.WritePlain(w, status, message)
}
