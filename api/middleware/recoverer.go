package middleware

import (
	"errors"
	"fmt"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/angelmondragon/marketcore-backend/api/responses"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
)

// Recoverer turns a handler panic into a 500 envelope, unless the handler
// already started its response, in which case the panic is only logged.
// http.ErrAbortHandler is re-raised so net/http drops the connection.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				err := pkgerrors.Wrap(pkgerrors.CodeInternal, fmt.Errorf("panic: %v", rec), "internal error")
				ctx := r.Context()
				if ww.Status() != 0 {
					if logg != nil {
						logg.Error(logg.WithField(ctx, "status_sent", ww.Status()), "panic.after_write", err)
					}
					return
				}
				responses.WriteError(ctx, logg, ww, err)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
