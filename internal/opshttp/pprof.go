package opshttp

import (
	"net/http"
	"net/http/pprof"
)

// RegisterPprof mounts the pprof handlers on a non-default mux. The import
// side effect of net/http/pprof only touches http.DefaultServeMux, which we
// never serve.
func RegisterPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
