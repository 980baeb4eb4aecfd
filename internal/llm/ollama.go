package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	defaultOllamaModel   = "llama3.2"
	defaultOllamaBaseURL = "http://localhost:11434"
	ollamaErrorMessage   = "Ollama API error - is Ollama running?"
)

// OllamaProvider streams text from a local Ollama server. Tools are not
// advertised to Ollama.
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewOllamaProvider(cfg ProviderConfig) *OllamaProvider {
	return &OllamaProvider{
		baseURL:    strings.TrimSuffix(firstNonEmpty(cfg.BaseURL, defaultOllamaBaseURL), "/"),
		model:      firstNonEmpty(cfg.Model, defaultOllamaModel),
		httpClient: cfg.HTTPClient,
	}
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

func (p *OllamaProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	stream := true
	chatReq := api.ChatRequest{
		Model:    firstNonEmpty(req.Model, p.model),
		Messages: buildOllamaMessages(req.System, req.Messages),
		Stream:   &stream,
	}
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, errors.Wrap(err, "encode ollama request")
	}

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		zerolog.Ctx(ctx).Debug().
			Str("provider", p.Name()).
			Str("model", chatReq.Model).
			Int("messages", len(chatReq.Messages)).
			Msg("ollama stream request")

		return runFrameStream(ctx, p.httpClient, streamRequest{
			provider:   p.Name(),
			url:        p.baseURL + "/api/chat",
			body:       body,
			mode:       FrameNDJSON,
			fixedError: ollamaErrorMessage,
		}, &ollamaDecoder{}, events)
	}), nil
}

func buildOllamaMessages(system string, messages []Message) []api.Message {
	var out []api.Message
	if strings.TrimSpace(system) != "" {
		out = append(out, api.Message{Role: "system", Content: system})
	}
	for _, msg := range messages {
		switch m := msg.(type) {
		case SystemMessage:
			out = append(out, api.Message{Role: "system", Content: m.Text})
		case UserMessage:
			out = append(out, api.Message{Role: "user", Content: m.Text})
		case AssistantMessage:
			if m.Text != "" {
				out = append(out, api.Message{Role: "assistant", Content: m.Text})
			}
		case ToolResultsMessage:
			// Ollama never receives tools, so there are no results to relay
		}
	}
	return out
}

type ollamaChunk struct {
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

type ollamaDecoder struct {
	done bool
}

func (d *ollamaDecoder) Decode(f Frame, emit func(Event)) error {
	var chunk ollamaChunk
	if err := json.Unmarshal([]byte(f.Data), &chunk); err != nil {
		return errMalformedFrame(err)
	}
	if chunk.Error != "" {
		return &APIError{Provider: "ollama", Message: chunk.Error}
	}
	if chunk.Message != nil && chunk.Message.Content != "" {
		emit(Event{Type: EventTextDelta, Text: chunk.Message.Content})
	}
	if chunk.Done {
		d.done = true
		return errStreamDone
	}
	return nil
}

func (d *ollamaDecoder) Finish(emit func(Event)) {
	emit(Event{Type: EventTurnEnd, Complete: d.done})
}
