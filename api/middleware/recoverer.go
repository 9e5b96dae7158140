package middleware

import (
	"fmt"
	"net/http"

	"github.com/angelmondragon/catalogsync/api/responses"
	pkgerrors "github.com/angelmondragon/catalogsync/pkg/errors"
	"github.com/angelmondragon/catalogsync/pkg/logger"
)

// Recoverer turns a panicking ops handler into a 500 envelope. The sync loop
// runs in the same process, so a bad inspection query must not take it down.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err := pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("ops handler panicked: %v", rec))
				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithFields(ctx, map[string]any{
						"method":     r.Method,
						"path":       r.URL.Path,
						"route":      routePattern(r),
						"panic":      fmt.Sprint(rec),
						"error_code": pkgerrors.CodeInternal,
					})
					logg.Error(ctx, "ops handler panicked", err)
				}
				responses.WriteError(ctx, nil, w, err)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
