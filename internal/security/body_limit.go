package security

import "net/http"

// BodySizeLimit caps request body size via http.MaxBytesReader. Reads past
// the limit fail with *http.MaxBytesError, which the JSON validator maps to
// a 413. A non-positive limit disables the cap.
func BodySizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
