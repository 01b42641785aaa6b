// Package httpapi serves a [sheets.Service] over HTTP.
//
// Routes mirror the operation surface: POST bodies and responses are JSON,
// GET routes take query parameters. Errors are {"error": "..."} with a
// status derived from the service error class:
//
//	ErrNotFound        404
//	ErrInvalidArgument 400
//	ErrAlreadyExists   409
//	ErrBusy            503
//	anything else      500
//
// GET /ws upgrades to a WebSocket that streams change events.
package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/calvinalkan/sheetfs/internal/grid"
	"github.com/calvinalkan/sheetfs/internal/registry"
	"github.com/calvinalkan/sheetfs/internal/sheets"
)

const maxBodyBytes = 32 << 20

// Server routes HTTP requests to a Service.
type Server struct {
	svc *sheets.Service
	log *log.Logger
	mux *http.ServeMux
}

// New returns a Server for svc. A nil logger discards.
func New(svc *sheets.Service, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	s := &Server{svc: svc, log: logger, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)

	s.mux.HandleFunc("GET /sheets", s.handleList)
	s.mux.HandleFunc("POST /sheets/create", s.handleCreate)
	s.mux.HandleFunc("GET /sheets/read", s.handleRead)
	s.mux.HandleFunc("POST /sheets/update", s.handleUpdate)
	s.mux.HandleFunc("POST /sheets/append", s.handleAppend)
	s.mux.HandleFunc("POST /sheets/batch-update", s.handleBatch)
	s.mux.HandleFunc("POST /sheets/query", s.handleQuery)

	s.mux.HandleFunc("GET /sheets/list-tabs", s.handleTabs)
	s.mux.HandleFunc("POST /sheets/add-tab", s.handleAddTab)
	s.mux.HandleFunc("DELETE /sheets/delete-tab", s.handleDeleteTab)

	s.mux.HandleFunc("GET /sheets/format", s.handleFormatting)
	s.mux.HandleFunc("POST /sheets/format", s.handleFormat)
	s.mux.HandleFunc("POST /sheets/create-filter", s.handleFilter)
	s.mux.HandleFunc("POST /sheets/freeze-panes", s.handleFreeze)
	s.mux.HandleFunc("POST /sheets/conditional-format", s.handleCondFormat)
	s.mux.HandleFunc("GET /sheets/export", s.handleExport)

	return s
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		s.mux.ServeHTTP(rec, r)

		s.log.Printf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Microsecond))
	})
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)

	go func() {
		s.log.Printf("listening on %s", ln.Addr())

		errCh <- srv.Serve(ln)
	}()

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	if err = <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

type statusRecorder struct {
	http.ResponseWriter

	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed by the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}

	r.status = http.StatusSwitchingProtocols

	return hj.Hijack()
}

// statusFor maps a service error class to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sheets.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sheets.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, sheets.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, sheets.ErrBusy):
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Printf("error: %v", err)
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", sheets.ErrInvalidArgument, msg)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))

	err := dec.Decode(v)
	if err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}

	return nil
}

func tabID(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badRequest("sheet_id must be an integer")
	}

	return n, nil
}

type sheetInfo struct {
	ID        string    `json:"spreadsheet_id"`
	Name      string    `json:"name"`
	File      string    `json:"file"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

func infoOf(d registry.Descriptor) sheetInfo {
	return sheetInfo{ID: d.ID, Name: d.Name, File: d.File, CreatedAt: d.CreatedAt}
}

type tabInfo struct {
	TabID int64  `json:"sheet_id"`
	Title string `json:"title"`
	File  string `json:"file"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.List(r.Context())
	if err != nil {
		s.writeError(w, err)

		return
	}

	out := make([]sheetInfo, 0, len(list))
	for _, d := range list {
		out = append(out, infoOf(d))
	}

	writeJSON(w, http.StatusOK, map[string]any{"spreadsheets": out})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string     `json:"name"`
		Data [][]string `json:"data"`
	}

	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)

		return
	}

	d, err := s.svc.Create(r.Context(), req.Name, req.Data)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, infoOf(d))
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	values, err := s.svc.ReadRange(r.Context(), q.Get("spreadsheet_id"), q.Get("range"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"range": q.Get("range"), "values": values})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string     `json:"spreadsheet_id"`
		Range  string     `json:"range"`
		Values [][]string `json:"values"`
	}

	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)

		return
	}

	upd, err := s.svc.WriteRange(r.Context(), req.ID, req.Range, req.Values)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, upd)
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string     `json:"spreadsheet_id"`
		Values [][]string `json:"values"`
		Mode   string     `json:"insert_data_option"`
	}

	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)

		return
	}

	mode, err := grid.ParseMode(req.Mode)
	if err != nil {
		s.writeError(w, badRequest(err.Error()))

		return
	}

	upd, err := s.svc.AppendRows(r.Context(), req.ID, req.Values, mode)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, upd)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string          `json:"spreadsheet_id"`
		Requests json.RawMessage `json:"requests"`
	}

	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)

		return
	}

	if len(req.Requests) == 0 {
		s.writeError(w, badRequest("requests are required"))

		return
	}

	ops, err := grid.DecodeOperations(req.Requests)
	if err != nil {
		s.writeError(w, badRequest(err.Error()))

		return
	}

	res, err := s.svc.BatchApply(r.Context(), req.ID, ops)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID    string `json:"spreadsheet_id"`
		Query string `json:"query"`
	}

	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)

		return
	}

	res, err := s.svc.Query(r.Context(), req.ID, req.Query)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request) {
	tabs, err := s.svc.Tabs(r.Context(), r.URL.Query().Get("spreadsheet_id"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	out := make([]tabInfo, 0, len(tabs))
	for _, t := range tabs {
		out = append(out, tabInfo{TabID: t.TabID, Title: t.Name, File: t.File})
	}

	writeJSON(w, http.StatusOK, map[string]any{"sheets": out})
}

func (s *Server) handleAddTab(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID    string `json:"spreadsheet_id"`
		Title string `json:"title"`
	}

	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)

		return
	}

	tab, err := s.svc.AddTab(r.Context(), req.ID, req.Title)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, tabInfo{TabID: tab.TabID, Title: tab.Name, File: tab.File})
}

func (s *Server) handleDeleteTab(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	id, err := tabID(q.Get("sheet_id"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	err = s.svc.DeleteTab(r.Context(), q.Get("spreadsheet_id"), id)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleFormatting(w http.ResponseWriter, r *http.Request) {
	f, err := s.svc.Formatting(r.Context(), r.URL.Query().Get("spreadsheet_id"))
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, f)
}

type sidecarRequest struct {
	ID    string `json:"spreadsheet_id"`
	TabID int64  `json:"sheet_id"`
	Range string `json:"range"`
}

func (s *Server) handleFormat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		sidecarRequest

		Format json.RawMessage `json:"format"`
	}

	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)

		return
	}

	err := s.svc.FormatCells(r.Context(), req.ID, req.TabID, req.Range, req.Format)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"range": req.Range})
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		sidecarRequest

		Title string `json:"title"`
	}

	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)

		return
	}

	id, err := s.svc.CreateFilter(r.Context(), req.ID, req.TabID, req.Range, req.Title)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"filter_id": id})
}

func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      string `json:"spreadsheet_id"`
		TabID   int64  `json:"sheet_id"`
		Rows    int    `json:"rows"`
		Columns int    `json:"columns"`
	}

	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)

		return
	}

	err := s.svc.FreezePanes(r.Context(), req.ID, req.TabID, req.Rows, req.Columns)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"rows": req.Rows, "columns": req.Columns})
}

func (s *Server) handleCondFormat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		sidecarRequest

		Type string          `json:"type"`
		Rule json.RawMessage `json:"rule"`
	}

	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)

		return
	}

	id, err := s.svc.AddConditionalFormat(r.Context(), req.ID, req.TabID, req.Range, req.Type, req.Rule)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"rule_id": id})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("spreadsheet_id")

	// Buffer so a failure can still be reported as JSON.
	var buf bytes.Buffer

	err := s.svc.Export(r.Context(), id, &buf)
	if err != nil {
		s.writeError(w, err)

		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".xlsx"))
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write(buf.Bytes())
}
