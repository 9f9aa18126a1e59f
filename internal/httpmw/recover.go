package httpmw

import (
	"net/http"

	"github.com/keithlinneman/pkgres/internal/log"
	"github.com/keithlinneman/pkgres/internal/xerrors"
)

// Recover catches handler panics, logs them with a stack, and serves a 500
// if the response hasn't started. onPanic (optional) runs after logging,
// used to bump counters or trigger alerts.
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw, ok := w.(*responseWriter)
			if !ok {
				rw = &responseWriter{ResponseWriter: w}
			}

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// http.ErrAbortHandler is the sanctioned way to abort a
				// response; let the server handle it
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err := xerrors.Newf("panic: %v", rec)
				if logger != nil {
					logger.Error(r.Context(), err, "http handler panicked",
						"http.request.method", r.Method,
						"url.path", r.URL.Path,
					)
				}
				if onPanic != nil {
					onPanic()
				}

				if rw.status == 0 {
					http.Error(rw, "internal server error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
