package api

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/pokt-network/pocket-faucet/logging"
)

// recoveryMiddleware turns a panicking handler into a 500 response.
func recoveryMiddleware(logger logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.PanicRecoveriesTotal.WithLabelValues(logging.ComponentWebAPI).Inc()
				logger.Error().
					Str(logging.FieldPath, r.URL.Path).
					Str(logging.FieldMethod, r.Method).
					Str("panic_value", fmt.Sprintf("%v", rec)).
					Str("stack_trace", string(debug.Stack())).
					Msg("PANIC RECOVERED in api handler")
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
