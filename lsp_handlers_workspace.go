// jscomplete/lsp_handlers_workspace.go
// Contains LSP method handlers related to workspace events (e.g., configuration changes).
package jscomplete

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/jsonrpc2"
)

// ============================================================================
// LSP Workspace Method Handlers
// ============================================================================

// handleDidChangeConfiguration merges client settings into the engine configuration.
// Settings arrive either nested under "jscomplete" or as a flat object.
func (s *Server) handleDidChangeConfiguration(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidChangeConfigurationParams, logger *slog.Logger) (any, error) {
	configLogger := logger.With("operation", "didChangeConfiguration")
	configLogger.Info("Handling workspace/didChangeConfiguration")

	fileCfg, found, err := decodeClientSettings(params.Settings)
	if err != nil {
		configLogger.Error("Failed to unmarshal workspace/didChangeConfiguration settings", "error", err, "raw_settings", string(params.Settings))
		return nil, nil
	}
	if !found {
		configLogger.Debug("No relevant configuration changes found in workspace/didChangeConfiguration notification")
		return nil, nil
	}

	newConfig := s.engine.GetCurrentConfig()
	fileCfg.Apply(&newConfig)

	if err := s.engine.UpdateConfig(newConfig); err != nil {
		configLogger.Error("Failed to apply updated configuration", "error", err)
		s.sendShowMessage(MessageTypeError, fmt.Sprintf("Failed to apply configuration update: %v", err))
		return nil, nil
	}
	s.config = s.engine.GetCurrentConfig()
	configLogger.Info("Server configuration updated successfully via workspace/didChangeConfiguration")

	if _, parseErr := ParseLogLevel(s.config.LogLevel); parseErr != nil {
		configLogger.Warn("Cannot update logger level due to parse error", "level_string", s.config.LogLevel, "error", parseErr)
	}
	return nil, nil
}

// decodeClientSettings extracts a FileConfig from raw client settings.
// found is false when the settings carry no recognised field.
func decodeClientSettings(raw json.RawMessage) (cfg FileConfig, found bool, err error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return FileConfig{}, false, nil
	}
	var nested struct {
		JSComplete *FileConfig `json:"jscomplete"`
	}
	if err := json.Unmarshal(raw, &nested); err != nil {
		return FileConfig{}, false, err
	}
	if nested.JSComplete != nil {
		cfg = *nested.JSComplete
	} else if err := json.Unmarshal(raw, &cfg); err != nil {
		return FileConfig{}, false, err
	}
	return cfg, cfg != (FileConfig{}), nil
}
