package middleware

import (
	"net/http"
	"strings"
)

// MethodOverride lets HTML forms, which can only GET or POST, send PATCH
// and DELETE: a POST whose form carries _method=PATCH or _method=DELETE is
// routed as that method. Other values are ignored.
func MethodOverride(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && isForm(r) {
			switch m := strings.ToUpper(r.PostFormValue("_method")); m {
			case http.MethodPatch, http.MethodDelete, http.MethodPut:
				r.Method = m
			}
		}
		next.ServeHTTP(w, r)
	})
}

func isForm(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data")
}
