package http

import (
	"net/http"
)

// Banner is served on the root path
const Banner = "Ferryx Hub is running 🚢"

func (a *Adapter) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != RootPath {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		w.Write([]byte(Banner))
	}
}
