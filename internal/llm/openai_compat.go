package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	defaultOpenAIModel   = "gpt-4-turbo"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultCustomModel   = "default"
)

// OpenAICompatProvider implements Provider for the chat completions wire
// format. It serves both OpenAI and custom OpenAI-compatible endpoints.
type OpenAICompatProvider struct {
	name               string
	baseURL            string
	apiKey             string // Optional for custom endpoints
	model              string
	maxTokens          int
	implicitCompletion bool
	// finishReasonMarks treats finish_reason tool_calls/stop as a
	// completion marker, for servers that never send [DONE].
	finishReasonMarks bool
	errorFallback     string
	httpClient        *http.Client
}

// NewCustomProvider builds the adapter for a user-supplied
// OpenAI-compatible endpoint.
func NewCustomProvider(cfg ProviderConfig) (*OpenAICompatProvider, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("Custom API base URL is required")
	}
	return &OpenAICompatProvider{
		name:               "custom",
		baseURL:            baseURL,
		apiKey:             cfg.APIKey,
		model:              firstNonEmpty(cfg.Model, defaultCustomModel),
		maxTokens:          firstPositive(cfg.MaxTokens, defaultMaxTokens),
		implicitCompletion: cfg.implicitCompletion(true),
		finishReasonMarks:  true,
		errorFallback:      "Custom API error",
		httpClient:         cfg.HTTPClient,
	}, nil
}

func (p *OpenAICompatProvider) Name() string {
	return p.name
}

// OpenAI-compatible request/response structures
type oaiChatRequest struct {
	Model      string       `json:"model"`
	Messages   []oaiMessage `json:"messages"`
	Tools      []oaiTool    `json:"tools,omitempty"`
	ToolChoice interface{}  `json:"tool_choice,omitempty"`
	MaxTokens  *int64       `json:"max_tokens,omitempty"`
	Stream     bool         `json:"stream,omitempty"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type oaiFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type oaiToolCall struct {
	Index    int             `json:"index,omitempty"`
	ID       string          `json:"id,omitempty"`
	Type     string          `json:"type,omitempty"`
	Function oaiFunctionCall `json:"function,omitempty"`
}

type oaiChatChunk struct {
	Choices []oaiChoice  `json:"choices"`
	Error   *oaiAPIError `json:"error,omitempty"`
}

type oaiChoice struct {
	Index        int         `json:"index"`
	Delta        *oaiMessage `json:"delta,omitempty"`
	FinishReason string      `json:"finish_reason"`
}

type oaiAPIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (p *OpenAICompatProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s request", p.name)
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		zerolog.Ctx(ctx).Debug().
			Str("provider", p.name).
			Str("url", p.baseURL+"/chat/completions").
			Int("messages", len(chatReq.Messages)).
			Int("tools", len(chatReq.Tools)).
			Msg("chat completions stream request")

		return runFrameStream(ctx, p.httpClient, streamRequest{
			provider:      p.name,
			url:           p.baseURL + "/chat/completions",
			headers:       headers,
			body:          body,
			mode:          FrameSSE,
			errorFallback: p.errorFallback,
		}, newCompatDecoder(p.name, p.errorFallback, p.implicitCompletion, p.finishReasonMarks), events)
	}), nil
}

func (p *OpenAICompatProvider) buildRequest(req Request) (oaiChatRequest, error) {
	messages := buildCompatMessages(req.System, req.Messages)
	if len(messages) == 0 {
		return oaiChatRequest{}, errors.New("no messages provided")
	}
	tools, err := buildCompatTools(req.Tools)
	if err != nil {
		return oaiChatRequest{}, err
	}
	maxTok := maxTokens(req.MaxTokens, p.maxTokens)
	chatReq := oaiChatRequest{
		Model:     firstNonEmpty(req.Model, p.model),
		Messages:  messages,
		Tools:     tools,
		MaxTokens: &maxTok,
		Stream:    true,
	}
	if len(tools) > 0 {
		chatReq.ToolChoice = "auto"
	}
	return chatReq, nil
}

func buildCompatMessages(system string, messages []Message) []oaiMessage {
	var result []oaiMessage
	if strings.TrimSpace(system) != "" {
		result = append(result, oaiMessage{Role: "system", Content: system})
	}
	for _, msg := range messages {
		switch m := msg.(type) {
		case SystemMessage:
			if m.Text != "" {
				result = append(result, oaiMessage{Role: "system", Content: m.Text})
			}
		case UserMessage:
			if m.Text != "" {
				result = append(result, oaiMessage{Role: "user", Content: m.Text})
			}
		case AssistantMessage:
			if len(m.ToolCalls) == 0 && m.Text == "" {
				continue
			}
			result = append(result, oaiMessage{
				Role:      "assistant",
				Content:   m.Text,
				ToolCalls: compatToolCalls(m.ToolCalls),
			})
		case ToolResultsMessage:
			for _, r := range m.Results {
				result = append(result, oaiMessage{
					Role:       "tool",
					Content:    r.PayloadJSON(),
					ToolCallID: r.ToolCallID,
				})
			}
		}
	}
	return result
}

func compatToolCalls(calls []ToolCall) []oaiToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]oaiToolCall, 0, len(calls))
	for _, call := range calls {
		out = append(out, oaiToolCall{
			ID:   call.ID,
			Type: "function",
			Function: oaiFunctionCall{
				Name:      call.Name,
				Arguments: string(normalizeArguments(call.Arguments)),
			},
		})
	}
	return out
}

func buildCompatTools(specs []ToolSpec) ([]oaiTool, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	tools := make([]oaiTool, 0, len(specs))
	for _, spec := range specs {
		schema, err := json.Marshal(spec.Schema)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal tool schema %s", spec.Name)
		}
		tools = append(tools, oaiTool{
			Type: "function",
			Function: oaiFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schema,
			},
		})
	}
	return tools, nil
}

// compatDecoder maps chat completion chunks onto canonical events.
type compatDecoder struct {
	provider           string
	errorFallback      string
	implicitCompletion bool
	finishReasonMarks  bool
	tools              *compatToolState
	complete           bool
	stopReason         string
}

func newCompatDecoder(provider, errorFallback string, implicitCompletion, finishReasonMarks bool) *compatDecoder {
	return &compatDecoder{
		provider:           provider,
		errorFallback:      errorFallback,
		implicitCompletion: implicitCompletion,
		finishReasonMarks:  finishReasonMarks,
		tools:              newCompatToolState(),
	}
}

func (d *compatDecoder) Decode(f Frame, emit func(Event)) error {
	if f.Data == "" {
		return nil
	}
	if f.Data == "[DONE]" {
		d.complete = true
		return errStreamDone
	}

	var chunk oaiChatChunk
	if err := json.Unmarshal([]byte(f.Data), &chunk); err != nil {
		// some servers send {"error":"..."} which does not fit the struct
		if msg := gjson.Get(f.Data, "error"); msg.Type == gjson.String {
			return &APIError{Provider: d.provider, Message: msg.String()}
		}
		return errMalformedFrame(err)
	}
	if f.Event == "error" || chunk.Error != nil {
		msg := d.errorFallback
		if chunk.Error != nil && chunk.Error.Message != "" {
			msg = chunk.Error.Message
		}
		return &APIError{Provider: d.provider, Message: msg}
	}

	for _, choice := range chunk.Choices {
		if choice.Delta != nil {
			if choice.Delta.Content != "" {
				emit(Event{Type: EventTextDelta, Text: choice.Delta.Content})
			}
			for _, started := range d.tools.Add(choice.Delta.ToolCalls) {
				emit(Event{Type: EventToolCallStart, Tool: &ToolCall{ID: started.ID, Name: started.Name}})
			}
		}
		if d.finishReasonMarks && (choice.FinishReason == "tool_calls" || choice.FinishReason == "stop") {
			d.complete = true
			d.stopReason = choice.FinishReason
		}
	}
	return nil
}

func (d *compatDecoder) Finish(emit func(Event)) {
	complete := d.complete
	if complete || d.implicitCompletion {
		calls := d.tools.Calls()
		for i := range calls {
			emit(Event{Type: EventToolCall, Tool: &calls[i]})
		}
		if !complete {
			complete = len(calls) > 0
		}
	}
	emit(Event{Type: EventTurnEnd, Complete: complete, StopReason: d.stopReason})
}

// compatToolState accumulates tool call deltas by their index.
type compatToolState struct {
	byIndex map[int]*toolCallState
	order   []int
}

type toolCallState struct {
	id        string
	name      string
	announced bool
	args      strings.Builder
}

func newCompatToolState() *compatToolState {
	return &compatToolState{byIndex: make(map[int]*toolCallState)}
}

// Add merges deltas and returns the calls whose name became known for the
// first time.
func (s *compatToolState) Add(calls []oaiToolCall) []ToolCall {
	var started []ToolCall
	for _, call := range calls {
		idx := call.Index
		state, ok := s.byIndex[idx]
		if !ok {
			state = &toolCallState{id: fmt.Sprintf("tool_%d", idx)}
			s.byIndex[idx] = state
			s.order = append(s.order, idx)
		}
		if call.ID != "" {
			state.id = call.ID
		}
		if call.Function.Name != "" {
			state.name = call.Function.Name
		}
		if call.Function.Arguments != "" {
			state.args.WriteString(call.Function.Arguments)
		}
		if !state.announced && state.name != "" {
			state.announced = true
			started = append(started, ToolCall{ID: state.id, Name: state.name})
		}
	}
	return started
}

// Calls returns the accumulated calls in index order with normalised
// arguments.
func (s *compatToolState) Calls() []ToolCall {
	if len(s.order) == 0 {
		return nil
	}
	sort.Ints(s.order)
	calls := make([]ToolCall, 0, len(s.order))
	for _, idx := range s.order {
		state := s.byIndex[idx]
		if state == nil || state.name == "" {
			continue
		}
		calls = append(calls, ToolCall{
			ID:        state.id,
			Name:      state.name,
			Arguments: normalizeArguments(json.RawMessage(state.args.String())),
		})
	}
	return calls
}
