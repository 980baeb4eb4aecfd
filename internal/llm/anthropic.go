package llm

import (
	"context"
	_ "embed"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	defaultAnthropicModel   = "claude-3-5-sonnet-20241022"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicVersion = "2023-06-01"
	defaultMaxTokens        = 4096
)

// DefaultSystemPrompt is sent to Anthropic when the caller supplies none.
//
//go:embed default_system_prompt.txt
var DefaultSystemPrompt string

// AnthropicProvider implements Provider against the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey             string
	model              string
	baseURL            string
	version            string
	maxTokens          int
	implicitCompletion bool
	httpClient         *http.Client
	client             *anthropic.Client // Used for ListModels
}

func NewAnthropicProvider(cfg ProviderConfig) (*AnthropicProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("Anthropic API key is required")
	}
	baseURL := strings.TrimSuffix(firstNonEmpty(cfg.BaseURL, defaultAnthropicBaseURL), "/")
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey), option.WithBaseURL(baseURL))
	return &AnthropicProvider{
		apiKey:             cfg.APIKey,
		model:              firstNonEmpty(cfg.Model, defaultAnthropicModel),
		baseURL:            baseURL,
		version:            firstNonEmpty(cfg.Version, defaultAnthropicVersion),
		maxTokens:          cfg.MaxTokens,
		implicitCompletion: cfg.implicitCompletion(true),
		httpClient:         cfg.HTTPClient,
		client:             &client,
	}, nil
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// ListModels returns available models from Anthropic.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list models")
	}

	var models []ModelInfo
	for _, m := range page.Data {
		models = append(models, ModelInfo{
			ID:          m.ID,
			DisplayName: m.DisplayName,
			Created:     m.CreatedAt.Unix(),
		})
	}
	return models, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	body, err := p.buildRequestBody(req)
	if err != nil {
		return nil, err
	}
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		zerolog.Ctx(ctx).Debug().
			Str("provider", p.Name()).
			Int("messages", len(req.Messages)).
			Int("tools", len(req.Tools)).
			Msg("anthropic stream request")

		return runFrameStream(ctx, p.httpClient, streamRequest{
			provider: p.Name(),
			url:      p.baseURL + "/v1/messages",
			headers: map[string]string{
				"x-api-key":         p.apiKey,
				"anthropic-version": p.version,
			},
			body:          body,
			mode:          FrameSSE,
			errorFallback: "Anthropic API error",
		}, newAnthropicDecoder(p.implicitCompletion), events)
	}), nil
}

func (p *AnthropicProvider) buildRequestBody(req Request) ([]byte, error) {
	system := req.System
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(firstNonEmpty(req.Model, p.model)),
		MaxTokens: maxTokens(req.MaxTokens, firstPositive(p.maxTokens, defaultMaxTokens)),
		Messages:  buildAnthropicMessages(req.Messages),
		System:    []anthropic.TextBlockParam{{Text: system}},
	}
	if len(req.Tools) > 0 {
		params.Tools = buildAnthropicTools(req.Tools)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "encode anthropic request")
	}
	body, err = sjson.SetBytes(body, "stream", true)
	if err != nil {
		return nil, errors.Wrap(err, "encode anthropic request")
	}
	return body, nil
}

func buildAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch m := msg.(type) {
		case SystemMessage:
			// carried by the system field
		case UserMessage:
			if m.Text == "" {
				continue
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		case AssistantMessage:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.ToolCalls)+1)
			if m.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Text))
			}
			for _, call := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, normalizeArguments(call.Arguments), call.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case ToolResultsMessage:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Results))
			for _, result := range m.Results {
				blocks = append(blocks, toolResultBlock(result))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	return out
}

func toolResultBlock(result ToolResult) anthropic.ContentBlockParamUnion {
	block := anthropic.ToolResultBlockParam{
		ToolUseID: result.ToolCallID,
		IsError:   anthropic.Bool(!result.Success),
		Content: []anthropic.ToolResultBlockParamContentUnion{{
			OfText: &anthropic.TextBlockParam{Text: result.PayloadJSON()},
		}},
	}
	return anthropic.ContentBlockParamUnion{OfToolResult: &block}
}

func buildAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: spec.Schema["properties"],
			Required:   schemaRequired(spec.Schema),
		}
		tool := anthropic.ToolUnionParamOfTool(inputSchema, spec.Name)
		if spec.Description != "" {
			tool.OfTool.Description = anthropic.String(spec.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

// anthropicDecoder maps Messages API stream events onto canonical events.
type anthropicDecoder struct {
	implicitCompletion bool
	accumulator        *toolCallAccumulator
	complete           bool
	stopReason         string
	finished           int
}

func newAnthropicDecoder(implicitCompletion bool) *anthropicDecoder {
	return &anthropicDecoder{
		implicitCompletion: implicitCompletion,
		accumulator:        newToolCallAccumulator(),
	}
}

func (d *anthropicDecoder) Decode(f Frame, emit func(Event)) error {
	if f.Data == "" || f.Data == "[DONE]" {
		return nil
	}
	if f.Event == "error" || gjson.Get(f.Data, "type").String() == "error" {
		msg := gjson.Get(f.Data, "error.message").String()
		if msg == "" {
			msg = "Anthropic API error"
		}
		return &APIError{Provider: "anthropic", Message: msg}
	}

	var event anthropic.MessageStreamEventUnion
	if err := json.Unmarshal([]byte(f.Data), &event); err != nil {
		return errMalformedFrame(err)
	}

	switch variant := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
			call := ToolCall{ID: block.ID, Name: block.Name, Arguments: toolInputToRaw(block.Input)}
			d.accumulator.Start(variant.Index, call)
			emit(Event{Type: EventToolCallStart, Tool: &ToolCall{ID: call.ID, Name: call.Name}})
		}
	case anthropic.ContentBlockDeltaEvent:
		switch delta := variant.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if delta.Text != "" {
				emit(Event{Type: EventTextDelta, Text: delta.Text})
			}
		case anthropic.InputJSONDelta:
			d.accumulator.Append(variant.Index, delta.PartialJSON)
		}
	case anthropic.ContentBlockStopEvent:
		if call, ok := d.accumulator.Finish(variant.Index); ok {
			d.finished++
			emit(Event{Type: EventToolCall, Tool: &call})
		}
	case anthropic.MessageDeltaEvent:
		reason := variant.Delta.StopReason
		if reason == anthropic.StopReasonToolUse || reason == anthropic.StopReasonEndTurn {
			d.complete = true
			d.stopReason = string(reason)
		}
	case anthropic.MessageStopEvent:
		d.complete = true
		return errStreamDone
	}
	return nil
}

func (d *anthropicDecoder) Finish(emit func(Event)) {
	complete := d.complete
	// blocks still open at stream end are flushed when the turn counts as
	// complete
	if complete || d.implicitCompletion {
		for _, call := range d.accumulator.FinishAll() {
			d.finished++
			call := call
			emit(Event{Type: EventToolCall, Tool: &call})
		}
		if !complete {
			complete = d.finished > 0
		}
	}
	emit(Event{Type: EventTurnEnd, Complete: complete, StopReason: d.stopReason})
}

func toolInputToRaw(input any) json.RawMessage {
	switch v := input.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	case nil:
		return nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return json.RawMessage(data)
	}
}

// toolCallAccumulator collects streamed tool input per content block index.
type toolCallAccumulator struct {
	calls    map[int64]ToolCall
	fallback map[int64]json.RawMessage
	partial  map[int64]*strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{
		calls:    make(map[int64]ToolCall),
		fallback: make(map[int64]json.RawMessage),
		partial:  make(map[int64]*strings.Builder),
	}
}

func (a *toolCallAccumulator) Start(index int64, call ToolCall) {
	if len(call.Arguments) > 0 {
		a.fallback[index] = call.Arguments
	}
	call.Arguments = nil
	a.calls[index] = call
}

func (a *toolCallAccumulator) Append(index int64, partial string) {
	if partial == "" {
		return
	}
	if _, ok := a.calls[index]; !ok {
		return
	}
	builder := a.partial[index]
	if builder == nil {
		builder = &strings.Builder{}
		a.partial[index] = builder
	}
	builder.WriteString(partial)
}

// Finish finalises the call at index. Arguments that are not a JSON
// object become {}.
func (a *toolCallAccumulator) Finish(index int64) (ToolCall, bool) {
	call, ok := a.calls[index]
	if !ok {
		return ToolCall{}, false
	}
	if builder := a.partial[index]; builder != nil && builder.Len() > 0 {
		call.Arguments = normalizeArguments(json.RawMessage(builder.String()))
	} else {
		call.Arguments = normalizeArguments(a.fallback[index])
	}
	delete(a.calls, index)
	delete(a.partial, index)
	delete(a.fallback, index)
	return call, true
}

// FinishAll finalises every open call in index order.
func (a *toolCallAccumulator) FinishAll() []ToolCall {
	indices := make([]int64, 0, len(a.calls))
	for idx := range a.calls {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	calls := make([]ToolCall, 0, len(indices))
	for _, idx := range indices {
		if call, ok := a.Finish(idx); ok {
			calls = append(calls, call)
		}
	}
	return calls
}
