// jscomplete/lsp_handlers_textdocument.go
// Contains LSP method handlers related to text document synchronization and language features
// (didOpen, didChange, didClose, completion, hover).
package jscomplete

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/jsonrpc2"
)

const (
	completionTimeout = 5 * time.Second
	hoverTimeout      = 5 * time.Second
)

// ============================================================================
// LSP Text Document Method Handlers
// ============================================================================

// handleDidOpen handles the 'textDocument/didOpen' notification.
// It stores the document, publishes diagnostics and indexes its dependencies.
func (s *Server) handleDidOpen(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidOpenTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	version := params.TextDocument.Version
	content := []byte(params.TextDocument.Text)
	openLogger := logger.With("uri", uri, "version", version, "size", len(content))
	openLogger.Info("Handling textDocument/didOpen")

	s.filesMu.Lock()
	if _, exists := s.files[uri]; !exists {
		openDocuments.Inc()
	}
	s.files[uri] = &OpenFile{
		URI:     uri,
		Content: content,
		Version: version,
	}
	s.filesMu.Unlock()

	s.goBackground(func() { s.triggerDiagnostics(uri, version, content, openLogger) })

	absPath, pathErr := ValidateAndGetFilePath(string(uri), openLogger)
	if pathErr != nil {
		openLogger.Warn("Document has no local path, dependencies will not be indexed", "error", pathErr)
		return nil, nil
	}
	if s.config.UseSummaries {
		s.goBackground(func() { s.triggerIndex(absPath, openLogger) })
	}
	return nil, nil
}

// handleDidChange handles the 'textDocument/didChange' notification.
// Only full document sync is supported: the last change carries the new text.
func (s *Server) handleDidChange(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidChangeTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	version := params.TextDocument.Version
	changeLogger := logger.With("uri", uri, "new_version", version)

	if len(params.ContentChanges) == 0 {
		changeLogger.Warn("Received didChange notification with no content changes")
		return nil, nil
	}
	newContent := []byte(params.ContentChanges[len(params.ContentChanges)-1].Text)
	changeLogger.Info("Handling textDocument/didChange", "new_size", len(newContent))

	s.filesMu.Lock()
	currentFile, exists := s.files[uri]
	if exists && version <= currentFile.Version {
		s.filesMu.Unlock()
		changeLogger.Warn("Ignoring out-of-order didChange notification", "received_version", version, "current_version", currentFile.Version)
		return nil, nil
	}
	if !exists {
		openDocuments.Inc()
	}
	s.files[uri] = &OpenFile{
		URI:     uri,
		Content: newContent,
		Version: version,
	}
	s.filesMu.Unlock()
	changeLogger.Debug("Updated file cache")

	s.goBackground(func() { s.triggerDiagnostics(uri, version, newContent, changeLogger) })
	return nil, nil
}

// handleDidClose handles the 'textDocument/didClose' notification.
// It forgets the document, clears its diagnostics and stops watching its dependencies.
func (s *Server) handleDidClose(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidCloseTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	closeLogger := logger.With("uri", uri)
	closeLogger.Info("Handling textDocument/didClose")

	s.filesMu.Lock()
	if _, exists := s.files[uri]; exists {
		delete(s.files, uri)
		openDocuments.Dec()
	}
	s.filesMu.Unlock()

	s.publishDiagnostics(uri, nil, []LspDiagnostic{}, closeLogger)

	if absPath, err := ValidateAndGetFilePath(string(uri), closeLogger); err == nil {
		if s.watcher != nil {
			s.watcher.Forget(absPath)
		}
		s.engine.InvalidateSummariesForFile(absPath)
	}
	return nil, nil
}

// handleCompletion computes proposals at the cursor and maps them to completion items.
// Each item replaces the identifier prefix typed before the cursor.
func (s *Server) handleCompletion(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params CompletionParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	lspPos := params.Position
	completionLogger := logger.With("uri", uri, "lsp_line", lspPos.Line, "lsp_char", lspPos.Character)
	completionLogger.Info("Handling textDocument/completion")

	file, ok := s.openFile(uri)
	if !ok {
		completionLogger.Warn("Completion request for unknown file")
		return nil, fmt.Errorf("document not open: %s", uri)
	}

	_, _, offset, posErr := LspPositionToBytePosition(file.Content, lspPos)
	if posErr != nil {
		completionLogger.Error("Failed to convert LSP position to byte position", "error", posErr)
		return CompletionList{IsIncomplete: false, Items: []CompletionItem{}}, nil
	}
	prefix := IdentifierPrefix(file.Content, offset)
	completionLogger = completionLogger.With("offset", offset, "prefix", prefix)

	// Without a local path the document is completed without dependency summaries.
	absPath, pathErr := ValidateAndGetFilePath(string(uri), completionLogger)
	if pathErr != nil {
		completionLogger.Debug("Completing without dependency summaries", "error", pathErr)
		absPath = ""
	}

	completionCtx, cancelCompletion := context.WithTimeout(ctx, completionTimeout)
	defer cancelCompletion()

	start := time.Now()
	proposals, err := s.engine.ComputeFileProposals(completionCtx, absPath, prefix, file.Content, Selection{Offset: offset})
	completionDuration.WithLabelValues(proposals.Kind.String()).Observe(time.Since(start).Seconds())
	s.recordCacheMetrics()

	if ctxErr := completionCtx.Err(); ctxErr != nil {
		completionLogger.Info("Completion request cancelled or timed out", "error", ctxErr)
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return CompletionList{IsIncomplete: false, Items: []CompletionItem{}}, nil
		}
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcRequestCancelled), Message: "Completion request cancelled"}
	}
	if err != nil {
		if errors.Is(err, ErrInvalidPositionInput) {
			completionLogger.Warn("Completion position rejected", "error", err)
			return CompletionList{IsIncomplete: false, Items: []CompletionItem{}}, nil
		}
		completionLogger.Error("Failed to compute proposals", "error", err)
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	editRange, rangeErr := byteRangeToLSPRange(file.Content, offset-len(prefix), offset, completionLogger)
	if rangeErr != nil {
		completionLogger.Error("Failed to compute completion edit range", "error", rangeErr)
		return CompletionList{IsIncomplete: false, Items: []CompletionItem{}}, nil
	}

	items := buildCompletionItems(proposals, editRange, s.snippetSupport())
	completionLogger.Info("Completion successful", "kind", proposals.Kind, "items", len(items))
	return CompletionList{IsIncomplete: false, Items: items}, nil
}

// buildCompletionItems keeps the ranking of proposals through SortText.
func buildCompletionItems(p Proposals, editRange LSPRange, snippets bool) []CompletionItem {
	items := make([]CompletionItem, 0, len(p.Candidates))
	for i, c := range p.Candidates {
		name := candidateName(c)
		item := CompletionItem{
			Label:            name,
			Kind:             mapCandidateToCompletionKind(c, p.Kind),
			Detail:           c.Description,
			SortText:         fmt.Sprintf("%05d", i),
			FilterText:       name,
			InsertTextFormat: PlainTextFormat,
		}
		newText := c.Text
		if snippets && c.IsCallable {
			item.InsertTextFormat = SnippetFormat
			newText = candidateSnippet(c)
		}
		item.TextEdit = &TextEdit{Range: editRange, NewText: newText}
		items = append(items, item)
	}
	return items
}

func (s *Server) snippetSupport() bool {
	return s.clientCaps.TextDocument != nil &&
		s.clientCaps.TextDocument.Completion != nil &&
		s.clientCaps.TextDocument.Completion.CompletionItem != nil &&
		s.clientCaps.TextDocument.Completion.CompletionItem.SnippetSupport
}

// handleHover reports the inferred type of the identifier under the cursor.
func (s *Server) handleHover(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params HoverParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	lspPos := params.Position
	hoverLogger := logger.With("uri", uri, "lsp_line", lspPos.Line, "lsp_char", lspPos.Character)
	hoverLogger.Info("Handling textDocument/hover")

	file, ok := s.openFile(uri)
	if !ok {
		hoverLogger.Warn("Hover request for unknown file")
		return nil, fmt.Errorf("document not open: %s", uri)
	}

	_, _, offset, posErr := LspPositionToBytePosition(file.Content, lspPos)
	if posErr != nil {
		hoverLogger.Error("Failed to convert LSP position to byte position", "error", posErr)
		return nil, nil
	}

	absPath, pathErr := ValidateAndGetFilePath(string(uri), hoverLogger)
	if pathErr != nil {
		absPath = ""
	}

	hoverCtx, cancel := context.WithTimeout(ctx, hoverTimeout)
	defer cancel()

	info, err := s.engine.TypeAt(hoverCtx, absPath, file.Content, offset)

	if ctxErr := hoverCtx.Err(); ctxErr != nil {
		hoverLogger.Info("Hover analysis cancelled or timed out", "error", ctxErr)
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcRequestCancelled), Message: "Hover request cancelled"}
	}
	if err != nil {
		hoverLogger.Warn("Type inference for hover failed", "error", err)
		return nil, nil
	}
	if info == nil {
		hoverLogger.Debug("No identifier found at cursor position for hover")
		return nil, nil
	}

	hoverContent := formatTypeInfoForHover(info)
	if hoverContent == "" {
		return nil, nil
	}

	var hoverRange *LSPRange
	if r, rangeErr := byteRangeToLSPRange(file.Content, info.Start, info.End, hoverLogger); rangeErr == nil {
		hoverRange = &r
	} else {
		hoverLogger.Warn("Could not determine range for hover identifier", "error", rangeErr)
	}

	markupKind := MarkupKindPlainText
	if s.clientCaps.TextDocument != nil && s.clientCaps.TextDocument.Hover != nil {
		for _, kind := range s.clientCaps.TextDocument.Hover.ContentFormat {
			if kind == MarkupKindMarkdown {
				markupKind = MarkupKindMarkdown
				break
			}
		}
	}
	if markupKind == MarkupKindPlainText {
		hoverContent = plainHover(info)
	}

	hoverLogger.Info("Hover information generated successfully", "identifier", info.Name, "markup", markupKind)
	return HoverResult{
		Contents: MarkupContent{Kind: markupKind, Value: hoverContent},
		Range:    hoverRange,
	}, nil
}
