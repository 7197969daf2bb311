package routers

import (
	"net/http"

	"aggtree/handlers"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up all the HTTP routes for the aggregation host
func RegisterRoutes(r *mux.Router, h *handlers.Handler, metrics http.Handler) {

	// Creates a node with no parent, optionally seeded with a value
	r.HandleFunc("/nodes", h.CreateNode).Methods("POST")
	r.HandleFunc("/nodes", h.ListNodes).Methods("GET")

	// Current value and parent of one node
	r.HandleFunc("/nodes/{id}", h.GetNode).Methods("GET")

	// Node operations
	r.HandleFunc("/nodes/{id}/parent", h.ConnectToParent).Methods("POST")
	r.HandleFunc("/nodes/{id}/submit", h.Submit).Methods("POST")
	r.HandleFunc("/nodes/{id}/flush", h.Flush).Methods("POST")
	r.HandleFunc("/nodes/{id}/operations", h.ExecuteOperation).Methods("POST")

	// Messages flushed by children hosted on other processes
	r.HandleFunc("/nodes/{id}/messages", h.ReceiveMessage).Methods("POST")

	// Checks that hosted parent links form a forest
	r.HandleFunc("/topology/validate", h.ValidateTopology).Methods("GET")

	r.HandleFunc("/livez", h.Livez).Methods("GET")
	r.HandleFunc("/readyz", h.Readyz).Methods("GET")
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}
}
