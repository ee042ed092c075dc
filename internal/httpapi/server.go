package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/accesstable"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/service"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/store"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/types"
)

// maxRequestBody caps update_table uploads. 255 rows of JSON fit in well
// under 32 KiB.
const maxRequestBody = 64 << 10

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 5000
)

type Dependencies struct {
	Logger  zerolog.Logger
	Addr    string
	Service *service.CommutatorService

	// AccessTablePath is read when update_table is posted without a body.
	AccessTablePath string

	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	Now func() time.Time
}

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
	mux        *http.ServeMux
	svc        *service.CommutatorService
	tablePath  string
	now        func() time.Time
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()
	if d.Now == nil {
		d.Now = time.Now
	}
	logger := d.Logger.With().Str("component", "httpapi").Logger()

	s := &Server{
		logger:    logger,
		mux:       mux,
		svc:       d.Service,
		tablePath: d.AccessTablePath,
		now:       d.Now,
	}

	mux.HandleFunc("GET /v1/units", s.handleListUnits)
	mux.HandleFunc("GET /v1/units/{name}/memory", s.handleCheckMemory)
	mux.HandleFunc("GET /v1/units/{name}/events", s.handleListEvents)
	mux.HandleFunc("POST /v1/units/{name}/dump_log", s.handleDumpLog)
	mux.HandleFunc("POST /v1/units/{name}/update_table", s.handleUpdateTable)
	mux.HandleFunc("POST /v1/units/{name}/{op}", s.handleCommand)
	if d.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	handler := loggingMiddleware(logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) serverTime() string {
	return s.now().UTC().Format(time.RFC3339)
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.Registry().Snapshots(r.Context())
	if err != nil {
		s.internalError(w, "list units", err)
		return
	}

	resp := types.UnitsResponse{
		Units:      make([]types.UnitView, 0, len(records)),
		ServerTime: s.serverTime(),
	}
	for _, rec := range records {
		resp.Units = append(resp.Units, unitViewFromRecord(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	op, ok := link.ParseOpcode(r.PathValue("op"))
	if !ok || !service.IsSingleCommand(op) {
		writeError(w, http.StatusNotFound, "unsupported_op", "unknown command "+r.PathValue("op"))
		return
	}

	results, err := s.svc.Command(r.Context(), r.PathValue("name"), op)
	if err != nil {
		s.serviceError(w, "command", err)
		return
	}
	writeJSON(w, http.StatusOK, types.CommandResponse{
		Results:    commandViews(results),
		ServerTime: s.serverTime(),
	})
}

func (s *Server) handleCheckMemory(w http.ResponseWriter, r *http.Request) {
	results, err := s.svc.CheckMemory(r.Context(), r.PathValue("name"))
	if err != nil {
		s.serviceError(w, "check memory", err)
		return
	}
	writeJSON(w, http.StatusOK, types.MemoryResponse{
		Results:    memoryViews(results),
		ServerTime: s.serverTime(),
	})
}

func (s *Server) handleDumpLog(w http.ResponseWriter, r *http.Request) {
	results, err := s.svc.DumpLog(r.Context(), r.PathValue("name"))
	if err != nil && results == nil {
		s.serviceError(w, "dump log", err)
		return
	}

	resp := types.DrainResponse{
		Results:    drainViews(results),
		ServerTime: s.serverTime(),
	}
	status := http.StatusOK
	if err != nil {
		// Entries were erased from the unit but could not be stored.
		s.logger.Error().Err(err).Msg("dump log persistence")
		resp.PersistError = err.Error()
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxEventsLimit {
			writeError(w, http.StatusBadRequest, "bad_limit", "limit must be between 1 and "+strconv.Itoa(maxEventsLimit))
			return
		}
		limit = n
	}

	results, err := s.svc.Events(r.Context(), r.PathValue("name"), limit)
	if err != nil {
		s.serviceError(w, "list events", err)
		return
	}
	writeJSON(w, http.StatusOK, types.EventsResponse{
		Results:    eventsViews(results),
		ServerTime: s.serverTime(),
	})
}

func (s *Server) handleUpdateTable(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "could not read body")
		return
	}
	if len(body) > maxRequestBody {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return
	}

	var src service.TableSource
	if len(bytes.TrimSpace(body)) == 0 {
		if s.tablePath == "" {
			writeError(w, http.StatusBadRequest, "no_table_file", "no access table file configured")
			return
		}
		t, err := accesstable.ReadFile(s.tablePath)
		if err != nil {
			if errors.Is(err, accesstable.ErrMalformed) {
				writeError(w, http.StatusUnprocessableEntity, "malformed_table", err.Error())
				return
			}
			s.internalError(w, "read access table", err)
			return
		}
		src = t
	} else {
		var req types.UpdateTableRequest
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
			return
		}
		table, err := tableFromRequest(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_card_id", err.Error())
			return
		}
		src = table
	}

	results, err := s.svc.UpdateTable(r.Context(), r.PathValue("name"), src)
	if err != nil {
		s.serviceError(w, "update table", err)
		return
	}
	writeJSON(w, http.StatusOK, types.UpdateTableResponse{
		Results:    updateViews(results),
		ServerTime: s.serverTime(),
	})
}

func (s *Server) serviceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrUnknownUnit):
		writeError(w, http.StatusNotFound, "unknown_unit", err.Error())
	case errors.Is(err, service.ErrUnsupportedOp):
		writeError(w, http.StatusNotFound, "unsupported_op", err.Error())
	case errors.Is(err, service.ErrNoTable):
		writeError(w, http.StatusUnprocessableEntity, "no_table", err.Error())
	case errors.Is(err, link.ErrTableTooLarge):
		writeError(w, http.StatusUnprocessableEntity, "table_too_large", err.Error())
	default:
		s.internalError(w, op, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error().Err(err).Str("op", op).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: code, Message: msg})
}
