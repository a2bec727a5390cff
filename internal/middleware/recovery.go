package middleware

import (
	"net/http"
	"runtime/debug"

	"acctshop-api/pkg/apierror"

	"github.com/sirupsen/logrus"
)

// Recovery turns a handler panic into a 500 response.
func Recovery(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.WithFields(logrus.Fields{
						"request_id": GetRequestID(r.Context()),
						"panic":      err,
						"stack":      string(debug.Stack()),
					}).Error("handler panicked")

					writeError(w, apierror.InternalError("internal server error"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
