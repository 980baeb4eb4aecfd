package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/samsaffron/skillshub/internal/audit"
	"github.com/samsaffron/skillshub/internal/config"
	"github.com/samsaffron/skillshub/internal/events"
	"github.com/samsaffron/skillshub/internal/llm"
	"github.com/samsaffron/skillshub/internal/signal"
	"github.com/samsaffron/skillshub/internal/tools"
)

const maxRequestBody = 10 << 20

var (
	serveHost        string
	servePort        int
	serveCORSOrigins []string
	serveWorkspace   string
	serveAudit       bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat streaming HTTP server",
	Long: `Run the HTTP server the skills hub UI talks to.

Endpoints:
  POST /api/ai/chat/stream   chat with tool calls, streamed as SSE
  POST /api/ai/chat          same loop, single JSON response
  GET  /api/ai/tools         tool schemas for a permission set
  GET  /healthz`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (overrides config)")
	serveCmd.Flags().StringArrayVar(&serveCORSOrigins, "cors-origin", nil, "Allowed CORS origin (repeatable, or '*' for all)")
	serveCmd.Flags().BoolVar(&serveAudit, "audit", false, "Record executed tool calls in the audit log")
	AddWorkspaceFlag(serveCmd, &serveWorkspace)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if len(serveCORSOrigins) > 0 {
		cfg.Server.AllowOrigins = serveCORSOrigins
	}
	if serveWorkspace != "" {
		cfg.Server.Workspace = serveWorkspace
	}
	if serveAudit {
		cfg.Audit.Enabled = true
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d (must be 1-65535)", cfg.Server.Port)
	}

	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	s := newServeServer(cfg)
	var recorder *audit.Recorder
	if cfg.Audit.Enabled {
		store, err := audit.NewStore(cfg.Audit)
		if err != nil {
			return err
		}
		defer store.Close()
		s.bus = events.NewBus(log.Logger)
		defer s.bus.Close()
		recorder = audit.NewRecorder(store)
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)))
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	server := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "skillshub serve listening on http://%s\n", listener.Addr())
	if cfg.Server.Workspace != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "workspace: %s\n", cfg.Server.Workspace)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if recorder != nil {
		g.Go(func() error {
			return recorder.Run(gctx, s.bus)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type serveServer struct {
	cfg     *config.Config
	runtime *hubRuntime
	bus     *events.Bus // nil unless the audit log is enabled
}

func newServeServer(cfg *config.Config) *serveServer {
	return &serveServer{cfg: cfg, runtime: newHubRuntime(cfg)}
}

func (s *serveServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/ai/chat/stream", s.cors(s.handleChatStream))
	mux.HandleFunc("/api/ai/chat", s.cors(s.handleChat))
	mux.HandleFunc("/api/ai/tools", s.cors(s.handleTools))
	return mux
}

func (s *serveServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *serveServer) cors(next http.HandlerFunc) http.HandlerFunc {
	allowed := make(map[string]struct{}, len(s.cfg.Server.AllowOrigins))
	allowAll := false
	for _, origin := range s.cfg.Server.AllowOrigins {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		if o == "*" {
			allowAll = true
			continue
		}
		allowed[o] = struct{}{}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// chatRequest is the body of both chat endpoints.
type chatRequest struct {
	Messages      []chatMessage     `json:"messages"`
	Options       chatOptions       `json:"options"`
	Permissions   tools.Permissions `json:"permissions"`
	WorkspacePath string            `json:"workspacePath"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	APIKey       string `json:"apiKey"`
	BaseURL      string `json:"baseUrl"`
	OllamaURL    string `json:"ollamaUrl"`
	SystemPrompt string `json:"systemPrompt"`
}

func (req chatRequest) runOptions() runOptions {
	baseURL := req.Options.BaseURL
	if req.Options.Provider == llm.ProviderOllama {
		baseURL = req.Options.OllamaURL
	}
	return runOptions{
		Provider: req.Options.Provider,
		Overrides: config.ProviderOverrides{
			Model:   req.Options.Model,
			APIKey:  req.Options.APIKey,
			BaseURL: baseURL,
		},
		SystemPrompt: req.Options.SystemPrompt,
		Permissions:  req.Permissions,
		Workspace:    req.WorkspacePath,
	}
}

func parseChatMessages(msgs []chatMessage) ([]llm.Message, error) {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		msg, err := llm.TextMessage(llm.Role(m.Role), m.Content)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// requestContext attaches a request-scoped logger.
func requestContext(r *http.Request, requestID, provider string) context.Context {
	logger := zerolog.Ctx(r.Context()).With().
		Str("request_id", requestID).
		Str("provider", provider).
		Logger()
	return logger.WithContext(r.Context())
}

// emitter adds the bus as a secondary sink when one is configured.
func (s *serveServer) emitter(primary events.Emitter, requestID string) events.Emitter {
	if s.bus == nil {
		return primary
	}
	return events.NewMulti(primary, s.bus.Emitter(requestID))
}

func (s *serveServer) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := requireJSONContentType(r); err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	var req chatRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	requestID := uuid.NewString()
	ctx := requestContext(r, requestID, req.Options.Provider)
	logger := zerolog.Ctx(ctx)
	if req.WorkspacePath != "" {
		logger.Debug().Str("workspace", req.WorkspacePath).Msg("using workspace path")
	}

	events.SetSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	out := s.emitter(events.NewSSEWriter(w), requestID)

	messages, err := parseChatMessages(req.Messages)
	if err == nil {
		var engine *llm.Engine
		var llmReq llm.Request
		engine, llmReq, err = s.runtime.prepare(req.runOptions(), messages)
		if err == nil {
			result := engine.Run(ctx, llmReq, out)
			logger.Info().
				Int("iterations", result.Iterations).
				Int("tool_calls", len(result.Executions)).
				Bool("max_iterations_reached", result.MaxIterationsReached).
				Msg("chat stream finished")
			return
		}
	}

	logger.Warn().Err(err).Msg("chat stream rejected")
	if emitErr := out.Emit(ctx, events.ErrorEvent(err.Error())); emitErr != nil {
		return
	}
	_ = out.Emit(ctx, events.DoneEvent(false))
}

type chatResponse struct {
	Content   string           `json:"content"`
	ToolCalls []chatToolResult `json:"toolCalls"`
}

type chatToolResult struct {
	ToolName  string          `json:"toolName"`
	ToolInput json.RawMessage `json:"toolInput"`
	Result    map[string]any  `json:"result"`
}

func (s *serveServer) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := requireJSONContentType(r); err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	var req chatRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	requestID := uuid.NewString()
	ctx := requestContext(r, requestID, req.Options.Provider)

	messages, err := parseChatMessages(req.Messages)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	engine, llmReq, err := s.runtime.prepare(req.runOptions(), messages)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("chat rejected")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result := engine.Run(ctx, llmReq, s.emitter(events.NewCollector(), requestID))
	if result.Err != nil {
		writeError(w, http.StatusInternalServerError, result.Err.Error())
		return
	}

	resp := chatResponse{Content: result.Text, ToolCalls: []chatToolResult{}}
	for _, exec := range result.Executions {
		resp.ToolCalls = append(resp.ToolCalls, chatToolResult{
			ToolName:  exec.Call.Name,
			ToolInput: exec.Call.Arguments,
			Result:    exec.Result.Payload(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// toolSchema is the provider-neutral schema shape the UI renders.
type toolSchema struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	InputSchema map[string]any `json:"input_schema" yaml:"input_schema"`
}

func (s *serveServer) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	perms := tools.Permissions{
		CreateFolder: queryBool(q.Get("createFolder")),
		CreateFile:   queryBool(q.Get("createFile")),
		EditFile:     queryBool(q.Get("editFile")),
		DeleteFile:   queryBool(q.Get("deleteFile")),
	}
	writeJSON(w, http.StatusOK, toolSchemas(s.runtime.registry.ListTools(perms)))
}

func toolSchemas(specs []llm.ToolSpec) []toolSchema {
	out := make([]toolSchema, 0, len(specs))
	for _, spec := range specs {
		out = append(out, toolSchema{Name: spec.Name, Description: spec.Description, InputSchema: spec.Schema})
	}
	return out
}

func queryBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

func requireJSONContentType(r *http.Request) error {
	contentType := r.Header.Get("Content-Type")
	if strings.TrimSpace(contentType) == "" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("invalid Content-Type header")
	}
	if mediaType != "application/json" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	return nil
}
