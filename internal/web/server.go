package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/keeperlabs/reallocator/internal/engine"
	"github.com/keeperlabs/reallocator/internal/logger"
	"github.com/keeperlabs/reallocator/internal/state"
	"github.com/keeperlabs/reallocator/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes the read-only status API over the engine and the
// persisted sweep history.
type WebServer struct {
	router  *mux.Router
	port    string
	engine  *engine.Engine
	started time.Time
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, eng *engine.Engine) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:  mux.NewRouter(),
		port:    port,
		engine:  eng,
		started: time.Now(),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/protocol", ws.handleGetProtocol).Methods("GET")
	api.HandleFunc("/protocol/summary", ws.handleGetProtocolSummary).Methods("GET")
	api.HandleFunc("/positions", ws.handleGetPositions).Methods("GET")
	api.HandleFunc("/positions/{owner}/{id}", ws.handleGetPosition).Methods("GET")
	api.HandleFunc("/users", ws.handleGetUsers).Methods("GET")
	api.HandleFunc("/sweeps", ws.handleGetSweeps).Methods("GET")
	api.HandleFunc("/receipts", ws.handleGetReceipts).Methods("GET")
	api.HandleFunc("/metrics", ws.handleGetSweepMetrics).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server and database health plus runtime stats.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
	}

	protocol := ws.engine.Protocol()

	overallStatus := "OK"
	statusCode := http.StatusOK
	if !dbHealthy {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":           runtime.Version(),
			"goroutines_count":  runtime.NumGoroutine(),
			"alloc_bytes":       memStats.Alloc,
			"total_alloc_bytes": memStats.TotalAlloc,
			"sys_bytes":         memStats.Sys,
			"gc_cycles":         memStats.NumGC,
			"uptime_seconds":    int64(time.Since(ws.started).Seconds()),
		},
		"component": map[string]interface{}{
			"name":    "reallocator-decision-engine",
			"version": "1.0.0",
		},
		"protocol_status": map[string]interface{}{
			"database_healthy": dbHealthy,
			"total_positions":  protocol.TotalPositions,
			"fee_bps":          protocol.FeeBps,
		},
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetProtocol returns the live protocol config.
func (ws *WebServer) handleGetProtocol(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, ws.engine.Protocol())
}

// handleGetProtocolSummary returns aggregated protocol statistics.
func (ws *WebServer) handleGetProtocolSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := state.GetProtocolSummary()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get protocol summary")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve protocol summary")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, summary)
}

// handleGetPositions returns all open positions.
func (ws *WebServer) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions := ws.engine.Positions()

	response := map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetPosition returns a single position by owner and ID.
func (ws *WebServer) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid position ID")
		return
	}

	key := types.PositionKey{Owner: vars["owner"], PositionID: id}
	position, err := ws.engine.Position(key)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusNotFound, "Position not found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, position)
}

// handleGetUsers returns all user accounts.
func (ws *WebServer) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	users := ws.engine.Users()

	response := map[string]interface{}{
		"users": users,
		"count": len(users),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetSweeps returns paginated sweep snapshots.
func (ws *WebServer) handleGetSweeps(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	sweeps, err := state.GetRecentSweeps(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent sweeps")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve sweeps")
		return
	}

	response := map[string]interface{}{
		"sweeps": sweeps,
		"count":  len(sweeps),
		"limit":  limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetReceipts returns the newest rebalance receipts.
func (ws *WebServer) handleGetReceipts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 500 {
			limit = parsedLimit
		}
	}

	receipts, err := state.GetRecentReceipts(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent receipts")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve receipts")
		return
	}

	response := map[string]interface{}{
		"receipts": receipts,
		"count":    len(receipts),
		"limit":    limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetSweepMetrics returns aggregated keeper outcomes.
func (ws *WebServer) handleGetSweepMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := state.GetSweepMetrics()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get sweep metrics")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve sweep metrics")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, metrics)
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap the response writer to capture the status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
