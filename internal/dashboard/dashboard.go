// Package dashboard serves the bundled dashboard document.
package dashboard

import (
	_ "embed"
	"net/http"
)

//go:embed dashboard.html
var document []byte

// Handler serves the dashboard at the root path.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(document)
	}
}
