package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/types"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.APIError {
	t.Helper()
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body types.SuccessEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "world", body.Data.(map[string]any)["hello"])
}

func TestWriteSuccessFallsBackWhenPayloadCannotEncode(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]any{"ch": make(chan int)})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(pkgerrors.CodeInternal), decodeError(t, w).Code)
}

func TestWriteErrorKeepsCallerFacingMessage(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "bad input").
		WithDetails(map[string]string{"field": "demo"})
	WriteError(context.Background(), nil, w, err)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	got := decodeError(t, w)
	assert.Equal(t, string(pkgerrors.CodeValidation), got.Code)
	assert.Equal(t, "bad input", got.Message)
	assert.NotNil(t, got.Details)
}

func TestWriteErrorHidesServerFaults(t *testing.T) {
	cases := map[string]error{
		"untyped":    errors.New("dial tcp 10.0.0.3:5432: refused"),
		"internal":   pkgerrors.New(pkgerrors.CodeInternal, "column buyer_id missing"),
		"dependency": pkgerrors.New(pkgerrors.CodeDependency, "redis timeout"),
	}
	for name, err := range cases {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(context.Background(), nil, w, err)

			got := decodeError(t, w)
			meta := pkgerrors.MetadataFor(pkgerrors.Code(got.Code))
			assert.GreaterOrEqual(t, w.Code, http.StatusInternalServerError)
			assert.Equal(t, meta.PublicMessage, got.Message)
		})
	}
}

func TestWriteErrorOmitsDetailsForInternal(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeInternal, "x").WithDetails(map[string]any{"query": "select"})
	WriteError(context.Background(), nil, w, err)

	assert.Nil(t, decodeError(t, w).Details)
}

func TestWriteErrorLogLevelFollowsStatus(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})

	WriteError(context.Background(), logg, httptest.NewRecorder(), pkgerrors.NotFound("order"))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"request.rejected"`)

	buf.Reset()
	WriteError(context.Background(), logg, httptest.NewRecorder(), errors.New("boom"))
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"status":500`)
}

func TestWritePlainAndStatusFor(t *testing.T) {
	w := httptest.NewRecorder()
	WritePlain(w, http.StatusOK, "result=OK")
	assert.Equal(t, "result=OK", w.Body.String())

	cases := map[pkgerrors.Code]int{
		pkgerrors.CodeIntegrity: http.StatusBadRequest,
		pkgerrors.CodeNotFound:  http.StatusNotFound,
		pkgerrors.CodeConflict:  http.StatusConflict,
	}
	for code, want := range cases {
		assert.Equal(t, want, StatusFor(pkgerrors.New(code, "x")), code)
	}
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("plain")))
}

func TestWriteErrorEchoesRequestIDAndRetryable(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(types.RequestIDHeader, "req-42")
	WriteError(context.Background(), nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "slow down"))

	got := decodeError(t, w)
	assert.Equal(t, "req-42", got.RequestID)
	assert.True(t, got.Retryable)
}
