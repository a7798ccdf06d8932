// jscomplete/lsp_server.go
// Implements the Language Server Protocol (LSP) server logic.
package jscomplete

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sourcegraph/jsonrpc2"
)

// ============================================================================
// LSP Server Implementation
// ============================================================================

// Server represents the LSP server instance.
type Server struct {
	conn           *jsonrpc2.Conn
	logger         *slog.Logger
	engine         *Engine
	files          map[DocumentURI]*OpenFile
	filesMu        sync.RWMutex
	config         Config
	clientCaps     ClientCapabilities
	serverInfo     *ServerInfo
	initParams     *InitializeParams
	requestTracker *RequestTracker
	watcher        *DependencyWatcher

	// Background work (diagnostics, indexing) outlives single requests.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// OpenFile represents a file currently open in the client editor.
type OpenFile struct {
	URI     DocumentURI
	Content []byte
	Version int
}

// NewServer creates a new LSP server instance.
func NewServer(engine *Engine, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	s := &Server{
		logger: logger,
		engine: engine,
		files:  make(map[DocumentURI]*OpenFile),
		config: engine.GetCurrentConfig(),
		serverInfo: &ServerInfo{
			Name:    "jscomplete LSP",
			Version: version,
		},
		requestTracker: NewRequestTracker(),
		bgCtx:          bgCtx,
		bgCancel:       bgCancel,
	}
	if s.config.WatchDependencies && engine.Indexer() != nil {
		w, err := NewDependencyWatcher(s.reindex, logger)
		if err != nil {
			logger.Warn("Dependency watching disabled", "error", err)
		} else {
			s.watcher = w
			s.goBackground(func() {
				if err := w.Run(s.bgCtx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("Dependency watcher stopped", "error", err)
				}
			})
		}
	}
	return s
}

// Run starts the LSP server on r/w and blocks until the connection closes.
func (s *Server) Run(r io.Reader, w io.Writer) {
	s.logger.Info("Starting LSP server run loop")

	stream := &stdrwc{r: r, w: w}
	objectStream := jsonrpc2.NewPlainObjectStream(stream)
	handler := jsonrpc2.HandlerWithError(s.handle)

	s.conn = jsonrpc2.NewConn(context.Background(), objectStream, handler)
	s.logger.Info("JSON-RPC connection established")

	<-s.conn.DisconnectNotify()
	s.logger.Info("JSON-RPC connection closed")
	s.stopBackground()
}

// stdrwc is a simple ReadWriteCloser that wraps stdin/stdout without closing them.
type stdrwc struct {
	r io.Reader
	w io.Writer
}

func (s *stdrwc) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *stdrwc) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *stdrwc) Close() error                { return nil }

func (s *Server) goBackground(fn func()) {
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		fn()
	}()
}

// stopBackground cancels background work and waits for it.
func (s *Server) stopBackground() {
	s.bgCancel()
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.bgWG.Wait()
}

// handle routes incoming LSP requests/notifications to appropriate methods.
func (s *Server) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (result any, err error) {
	methodLogger := s.logger.With("method", req.Method, "is_notification", req.Notif)
	isRequest := !req.Notif
	if isRequest {
		methodLogger = methodLogger.With("req_id", req.ID)
	}
	methodLogger.Debug("Received request/notification")

	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			methodLogger.Error("Panic recovered in handler", "panic_value", r, "stack", stack)

			panicData, marshalErr := json.Marshal(fmt.Sprintf("Panic: %v", r))
			if marshalErr != nil {
				panicData = json.RawMessage(`"failed to marshal panic data"`)
			}
			rawPanicData := json.RawMessage(panicData)
			err = &jsonrpc2.Error{
				Code:    int64(JsonRpcInternalError),
				Message: fmt.Sprintf("Internal server error in method %s", req.Method),
				Data:    &rawPanicData,
			}
			result = nil
		}
		observeRequest(req.Method, err)
	}()

	if isRequest {
		ctx = s.requestTracker.Add(req.ID, ctx)
		defer s.requestTracker.Remove(req.ID)
	}
	select {
	case <-ctx.Done():
		methodLogger.Warn("Request context cancelled before processing started", "error", ctx.Err())
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcRequestCancelled), Message: "Request cancelled"}
	default:
	}

	unmarshalParams := func(target any) error {
		if req.Params == nil {
			return errors.New("params field is null")
		}
		return json.Unmarshal(*req.Params, target)
	}
	invalidParams := func(what string, err error) error {
		methodLogger.Error("Failed to unmarshal params", "error", err)
		return &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: fmt.Sprintf("Invalid %s params: %v", what, err)}
	}

	switch req.Method {
	case "initialize":
		var params InitializeParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams("initialize", err)
		}
		return s.handleInitialize(ctx, conn, req, params, methodLogger)

	case "initialized":
		methodLogger.Info("Client initialized notification received")
		return nil, nil

	case "shutdown":
		return s.handleShutdown(ctx, conn, req, methodLogger)

	case "exit":
		return s.handleExit(ctx, conn, req, methodLogger)

	case "textDocument/didOpen":
		var params DidOpenTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal didOpen params", "error", err)
			return nil, nil
		}
		return s.handleDidOpen(ctx, conn, req, params, methodLogger)

	case "textDocument/didChange":
		var params DidChangeTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal didChange params", "error", err)
			return nil, nil
		}
		return s.handleDidChange(ctx, conn, req, params, methodLogger)

	case "textDocument/didClose":
		var params DidCloseTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal didClose params", "error", err)
			return nil, nil
		}
		return s.handleDidClose(ctx, conn, req, params, methodLogger)

	case "textDocument/completion":
		var params CompletionParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams("completion", err)
		}
		return s.handleCompletion(ctx, conn, req, params, methodLogger)

	case "textDocument/hover":
		var params HoverParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams("hover", err)
		}
		return s.handleHover(ctx, conn, req, params, methodLogger)

	case "workspace/didChangeConfiguration":
		var params DidChangeConfigurationParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal didChangeConfiguration params", "error", err)
			return nil, nil
		}
		return s.handleDidChangeConfiguration(ctx, conn, req, params, methodLogger)

	case "$/cancelRequest":
		var params CancelParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal cancelRequest params", "error", err)
			return nil, nil
		}
		cancelID, ok := cancelRequestID(params.ID)
		if !ok {
			methodLogger.Warn("Could not determine type of cancel request ID", "id_value", params.ID, "id_type", fmt.Sprintf("%T", params.ID))
			return nil, nil
		}
		s.requestTracker.Cancel(cancelID)
		methodLogger.Info("Cancellation request processed", "cancelled_id", cancelID)
		return nil, nil

	default:
		if req.Notif {
			methodLogger.Debug("Ignoring unhandled notification")
			return nil, nil
		}
		methodLogger.Warn("Unhandled LSP method")
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcMethodNotFound), Message: fmt.Sprintf("Method not supported: %s", req.Method)}
	}
}

// cancelRequestID converts the decoded id of a $/cancelRequest.
func cancelRequestID(v any) (jsonrpc2.ID, bool) {
	switch idVal := v.(type) {
	case float64:
		return jsonrpc2.ID{Num: uint64(idVal)}, true
	case string:
		return jsonrpc2.ID{Str: idVal, IsString: true}, true
	}
	return jsonrpc2.ID{}, false
}

// ============================================================================
// Document & Cursor Helpers
// ============================================================================

func (s *Server) openFile(uri DocumentURI) (*OpenFile, bool) {
	s.filesMu.RLock()
	defer s.filesMu.RUnlock()
	f, ok := s.files[uri]
	return f, ok
}

// ============================================================================
// Background Work
// ============================================================================

// triggerDiagnostics publishes the syntax diagnostics of one document version.
func (s *Server) triggerDiagnostics(uri DocumentURI, version int, content []byte, logger *slog.Logger) {
	diagLogger := logger.With("operation", "triggerDiagnostics")
	ctx, cancel := context.WithTimeout(s.bgCtx, 10*time.Second)
	defer cancel()

	diags, err := s.engine.Diagnostics(ctx, content)
	if err != nil {
		diagLogger.Warn("Computing diagnostics failed", "error", err)
		return
	}
	lspDiagnostics := make([]LspDiagnostic, 0, len(diags))
	lines := lineStarts(content)
	for _, d := range diags {
		lspRange, err := internalRangeToLSPRange(content, lines, d.Range, diagLogger)
		if err != nil {
			diagLogger.Warn("Failed to convert diagnostic range, skipping diagnostic", "error", err, "message", d.Message)
			continue
		}
		lspDiagnostics = append(lspDiagnostics, LspDiagnostic{
			Range:    lspRange,
			Severity: mapInternalSeverityToLSP(d.Severity),
			Code:     d.Code,
			Source:   d.Source,
			Message:  d.Message,
		})
	}
	s.publishDiagnostics(uri, &version, lspDiagnostics, diagLogger)
}

// triggerIndex re-indexes the dependencies of a document and watches them.
func (s *Server) triggerIndex(absPath string, logger *slog.Logger) {
	if s.engine.Indexer() == nil {
		return
	}
	indexLogger := logger.With("operation", "triggerIndex", "path", absPath)
	report, err := s.engine.IndexFile(s.bgCtx, absPath)
	observeIndex(err)
	if err != nil {
		indexLogger.Warn("Dependency indexing reported errors", "run_id", report.RunID, "error", err)
		if errors.Is(err, ErrManifest) {
			s.sendShowMessage(MessageTypeWarning, fmt.Sprintf("Dependency manifest problem: %v", err))
		}
	}
	if s.watcher != nil {
		if watchErr := s.watcher.Watch(report.File, report.WatchPaths()); watchErr != nil {
			indexLogger.Warn("Could not watch dependencies", "error", watchErr)
		}
	}
}

// reindex is the DependencyWatcher callback.
func (s *Server) reindex(ctx context.Context, file string) {
	s.logger.Info("Dependency change detected, re-indexing", "file", file)
	s.triggerIndex(file, s.logger)
}

// ============================================================================
// LSP Notification Sending Helpers
// ============================================================================

func (s *Server) sendShowMessage(msgType MessageType, message string) {
	if s.conn == nil {
		s.logger.Warn("Cannot send showMessage: connection is nil")
		return
	}
	params := ShowMessageParams{Type: msgType, Message: message}
	if err := s.conn.Notify(context.Background(), "window/showMessage", params); err != nil {
		s.logger.Error("Failed to send window/showMessage notification", "error", err, "message_type", msgType)
	}
}

func (s *Server) publishDiagnostics(uri DocumentURI, version *int, diagnostics []LspDiagnostic, logger *slog.Logger) {
	if s.conn == nil {
		logger.Warn("Cannot publish diagnostics: connection is nil", "uri", uri)
		return
	}
	params := PublishDiagnosticsParams{
		URI:         uri,
		Version:     version,
		Diagnostics: diagnostics,
	}
	if err := s.conn.Notify(context.Background(), "textDocument/publishDiagnostics", params); err != nil {
		logger.Error("Failed to send textDocument/publishDiagnostics notification", "error", err, "diagnostic_count", len(diagnostics))
	} else {
		logger.Debug("Published diagnostics", "diagnostic_count", len(diagnostics))
	}
}

// internalRangeToLSPRange converts a line/byte-column range to an LSP UTF-16 range.
func internalRangeToLSPRange(content []byte, lines []int, r TextRange, logger *slog.Logger) (LSPRange, error) {
	toOffset := func(p Position) (int, error) {
		if p.Line < 0 || p.Line >= len(lines) {
			return 0, fmt.Errorf("%w: line %d", ErrPositionOutOfRange, p.Line)
		}
		off := lines[p.Line] + p.Character
		if p.Character < 0 || off > len(content) {
			return 0, fmt.Errorf("%w: character %d on line %d", ErrPositionOutOfRange, p.Character, p.Line)
		}
		return off, nil
	}
	start, err := toOffset(r.Start)
	if err != nil {
		return LSPRange{}, err
	}
	end, err := toOffset(r.End)
	if err != nil {
		return LSPRange{}, err
	}
	if end < start {
		logger.Warn("Diagnostic range ends before it starts, collapsing", "start", start, "end", end)
		end = start
	}
	return byteRangeToLSPRange(content, start, end, logger)
}

// mapInternalSeverityToLSP maps internal severity levels to LSP severity levels.
func mapInternalSeverityToLSP(internalSeverity DiagnosticSeverity) LspDiagnosticSeverity {
	switch internalSeverity {
	case SeverityError:
		return LspSeverityError
	case SeverityWarning:
		return LspSeverityWarning
	case SeverityInfo:
		return LspSeverityInfo
	case SeverityHint:
		return LspSeverityHint
	default:
		return LspSeverityError
	}
}

// ============================================================================
// Metrics
// ============================================================================

var (
	lspRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jscomplete",
			Subsystem: "lsp",
			Name:      "requests_total",
			Help:      "LSP requests and notifications handled, by method and status.",
		},
		[]string{"method", "status"},
	)

	completionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jscomplete",
			Subsystem: "completion",
			Name:      "duration_seconds",
			Help:      "Time to compute completion proposals.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"kind"},
	)

	indexRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jscomplete",
			Subsystem: "index",
			Name:      "runs_total",
			Help:      "Dependency indexing runs, by status.",
		},
		[]string{"status"},
	)

	openDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "jscomplete",
		Subsystem: "lsp",
		Name:      "open_documents",
		Help:      "Documents currently open in the client.",
	})

	memoryCacheHits = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "jscomplete",
		Subsystem: "cache",
		Name:      "memory_hits",
		Help:      "Ristretto cache hits since start.",
	})

	memoryCacheMisses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "jscomplete",
		Subsystem: "cache",
		Name:      "memory_misses",
		Help:      "Ristretto cache misses since start.",
	})
)

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func observeRequest(method string, err error) {
	lspRequestsTotal.WithLabelValues(method, statusLabel(err)).Inc()
}

func observeIndex(err error) {
	indexRunsTotal.WithLabelValues(statusLabel(err)).Inc()
}

// recordCacheMetrics copies the ristretto counters into the cache gauges.
func (s *Server) recordCacheMetrics() {
	m := s.engine.GetMemoryCacheMetrics()
	if m == nil {
		return
	}
	memoryCacheHits.Set(float64(m.Hits()))
	memoryCacheMisses.Set(float64(m.Misses()))
}

// ============================================================================
// Request Cancellation Tracker
// ============================================================================

// RequestTracker manages cancellation contexts for ongoing LSP requests.
type RequestTracker struct {
	mu       sync.Mutex
	requests map[jsonrpc2.ID]context.CancelFunc
}

// NewRequestTracker creates a new tracker.
func NewRequestTracker() *RequestTracker {
	return &RequestTracker{
		requests: make(map[jsonrpc2.ID]context.CancelFunc),
	}
}

// Add registers a request and returns the context the handler must use;
// Cancel(id) cancels it.
func (rt *RequestTracker) Add(id jsonrpc2.ID, ctx context.Context) context.Context {
	reqCtx, cancel := context.WithCancel(ctx)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if prev, ok := rt.requests[id]; ok {
		prev()
	}
	rt.requests[id] = cancel
	return reqCtx
}

// Remove deregisters a request ID and releases its context.
func (rt *RequestTracker) Remove(id jsonrpc2.ID) {
	rt.mu.Lock()
	cancel, ok := rt.requests[id]
	delete(rt.requests, id)
	rt.mu.Unlock()
	if ok {
		cancel()
	}
}

// Cancel finds the cancel function for a request ID and calls it.
func (rt *RequestTracker) Cancel(id jsonrpc2.ID) bool {
	rt.mu.Lock()
	cancel, found := rt.requests[id]
	if found {
		delete(rt.requests, id)
	}
	rt.mu.Unlock()

	if found {
		cancel()
	}
	return found
}

// Count returns the number of currently tracked requests.
func (rt *RequestTracker) Count() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.requests)
}
