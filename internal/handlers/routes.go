package handlers

import (
	"net/http"
)

// Routes bundles the handlers mounted by NewRouter
type Routes struct {
	Tasks      *TaskHandler
	Ledger     *LedgerHandler
	Middleware *Middleware
	Startup    *StartupStatus
	DB         Pinger
	Metrics    http.Handler
}

// NewRouter registers the API on a ServeMux and wraps it with logging and rate limiting
func NewRouter(rt Routes) http.Handler {
	mux := http.NewServeMux()
	auth := rt.Middleware.RequireAuth

	mux.HandleFunc("GET /healthz", rt.Startup.Health(rt.DB))
	if rt.Metrics != nil {
		mux.Handle("GET /metrics", rt.Metrics)
	}

	// Daily tasks
	mux.HandleFunc("POST /api/tasks/daily/generate", auth(rt.Tasks.GenerateDaily))
	mux.HandleFunc("GET /api/tasks/daily", auth(rt.Tasks.GetDaily))
	mux.HandleFunc("DELETE /api/tasks/daily", auth(rt.Tasks.ResetDaily))
	mux.HandleFunc("POST /api/tasks/{taskId}/start", auth(rt.Tasks.StartTask))
	mux.HandleFunc("POST /api/tasks/{taskId}/submit", auth(rt.Tasks.SubmitTask))
	mux.HandleFunc("POST /api/tasks/{taskId}/skip", auth(rt.Tasks.SkipTask))

	// Ledger and profile
	mux.HandleFunc("POST /api/ledger/activity", auth(rt.Ledger.RecordActivity))
	mux.HandleFunc("GET /api/ledger/transactions", auth(rt.Ledger.Transactions))
	mux.HandleFunc("GET /api/users/me", auth(rt.Ledger.Me))

	return rt.Middleware.Logging(rt.Middleware.RateLimit(mux))
}
