package receipt

import (
	"log/slog"
	"net/http"

	"github.com/zombor/expense-splitter/internal/auth"
	"github.com/zombor/expense-splitter/internal/ingest"
)

// maxUploadSize bounds multipart uploads; phone photos run large
const maxUploadSize = int64(50 << 20) // 50MB

// Server handles HTTP requests for groups, receipts and uploads
type Server struct {
	service  *Service
	uploads  *ingest.Manager
	verifier *auth.Verifier
	metrics  http.Handler
	mux      *http.ServeMux
}

// NewServer creates a new Server with default mux. metrics may be nil.
func NewServer(service *Service, uploads *ingest.Manager, verifier *auth.Verifier, metrics http.Handler) *Server {
	return NewServerWithMux(service, uploads, verifier, metrics, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, uploads *ingest.Manager, verifier *auth.Verifier, metrics http.Handler, mux *http.ServeMux) *Server {
	s := &Server{
		service:  service,
		uploads:  uploads,
		verifier: verifier,
		metrics:  metrics,
		mux:      mux,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withSession resolves the optional bearer token. No token means anonymous use;
// a bad token is refused.
func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.verifier.FromRequest(r)
		if err != nil {
			slog.Warn("Rejected bearer token", "path", r.URL.Path, "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="expense-splitter"`)
			writeError(w, err)
			return
		}
		next(w, r.WithContext(auth.WithSession(r.Context(), session)))
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Groups
	s.mux.HandleFunc("POST /api/groups", s.withSession(s.handleCreateGroup))
	s.mux.HandleFunc("GET /api/groups", s.withSession(s.handleListGroups))
	s.mux.HandleFunc("GET /api/groups/{id}", s.withSession(s.handleGetGroup))
	s.mux.HandleFunc("POST /api/groups/{id}/members", s.withSession(s.handleAddMember))
	s.mux.HandleFunc("GET /api/groups/{id}/receipts", s.withSession(s.handleListGroupReceipts))
	s.mux.HandleFunc("POST /api/groups/{id}/receipts", s.withSession(s.handleCreateManualReceipt))
	s.mux.HandleFunc("GET /api/groups/{id}/export.xlsx", s.withSession(s.handleExportGroup))
	s.mux.HandleFunc("POST /api/groups/{id}/uploads", s.withSession(s.handleUpload))

	// Receipts
	s.mux.HandleFunc("GET /api/receipts/{id}", s.withSession(s.handleGetReceipt))
	s.mux.HandleFunc("DELETE /api/receipts/{id}", s.withSession(s.handleDeleteReceipt))

	// Uploads under review
	s.mux.HandleFunc("GET /api/uploads/{id}", s.withSession(s.handleGetUpload))
	s.mux.HandleFunc("PATCH /api/uploads/{id}", s.withSession(s.handleEditUpload))
	s.mux.HandleFunc("POST /api/uploads/{id}/items", s.withSession(s.handleAddItem))
	s.mux.HandleFunc("PATCH /api/uploads/{id}/items/{index}", s.withSession(s.handleUpdateItem))
	s.mux.HandleFunc("DELETE /api/uploads/{id}/items/{index}", s.withSession(s.handleRemoveItem))
	s.mux.HandleFunc("POST /api/uploads/{id}/submit", s.withSession(s.handleSubmitUpload))
	s.mux.HandleFunc("POST /api/uploads/{id}/cancel", s.withSession(s.handleCancelUpload))

	// Stored originals are public; their URLs are unguessable
	s.mux.HandleFunc("GET /files/{name}", s.handleGetFile)

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns the full handler chain
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
