package middleware

import (
	"net/http"
	"runtime/debug"

	"perpctl/pkg/utils"
)

// Recovery catches a panic in any handler, logs it with a stack trace
// through the structured logger, and returns 500 instead of taking the
// process down.
func Recovery(next http.Handler) http.Handler {
	log := utils.L().WithComponent("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Sugar().Errorf("panic in %s %s: %v\n%s", r.Method, r.URL.Path, err, debug.Stack())
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
