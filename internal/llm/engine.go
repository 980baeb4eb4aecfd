package llm

import (
	"context"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/samsaffron/skillshub/internal/events"
)

// DefaultMaxIterations caps provider calls per run.
const DefaultMaxIterations = 10

// EngineOptions tunes an Engine.
type EngineOptions struct {
	MaxIterations int
}

// Engine drives the stream / execute / continue loop for one provider.
type Engine struct {
	provider      Provider
	executor      ToolExecutor
	maxIterations int
}

// ToolExecution pairs an executed call with its result.
type ToolExecution struct {
	Call   ToolCall
	Result ToolResult
}

// RunResult summarises a finished run.
type RunResult struct {
	// Iterations is the number of provider calls made.
	Iterations int
	// Text is all assistant text streamed during the run.
	Text                 string
	Executions           []ToolExecution
	MaxIterationsReached bool
	Err                  error
}

func NewEngine(provider Provider, executor ToolExecutor, opts EngineOptions) *Engine {
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Engine{
		provider:      provider,
		executor:      executor,
		maxIterations: maxIterations,
	}
}

// turnState collects what one provider stream produced.
type turnState struct {
	text       strings.Builder
	started    []ToolCall
	calls      []ToolCall
	complete   bool
	stopReason string
}

// Run streams req through the provider, executing tool calls between
// turns, and emits canonical events to out. Every run ends with a done
// event unless out itself fails.
func (e *Engine) Run(ctx context.Context, req Request, out events.Emitter) RunResult {
	logger := zerolog.Ctx(ctx).With().Str("provider", e.provider.Name()).Logger()
	ctx = logger.WithContext(ctx)

	var result RunResult
	var allText strings.Builder
	emit := func(ev events.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return out.Emit(ctx, ev)
	}

	for iteration := 0; ; iteration++ {
		if iteration >= e.maxIterations {
			logger.Debug().Int("iterations", iteration).Msg("max iterations reached")
			result.MaxIterationsReached = true
			result.Text = allText.String()
			if err := emit(events.DoneEvent(true)); err != nil {
				result.Err = err
			}
			return result
		}

		result.Iterations = iteration + 1
		logger.Debug().Int("iteration", iteration).Int("messages", len(req.Messages)).Msg("starting turn")

		turn, err := e.streamTurn(ctx, req, emit)
		allText.WriteString(turn.text.String())
		result.Text = allText.String()
		if err != nil {
			return e.abort(ctx, out, result, err)
		}
		logger.Debug().
			Bool("complete", turn.complete).
			Str("stop_reason", turn.stopReason).
			Int("tool_calls", len(turn.calls)).
			Msg("turn ended")

		if len(turn.calls) == 0 && len(turn.started) == 0 {
			if err := emit(events.DoneEvent(false)); err != nil {
				result.Err = err
			}
			return result
		}

		if !turn.complete {
			logger.Warn().Int("tool_calls", len(turn.started)).Msg("stream ended without completion marker; tool calls not executed")
			for _, call := range incompleteCalls(turn) {
				if err := emit(events.ToolCallEvent(call.ID, call.Name, call.Arguments, events.StatusError)); err != nil {
					return e.abort(ctx, out, result, err)
				}
			}
			if err := emit(events.DoneEvent(false)); err != nil {
				result.Err = err
			}
			return result
		}

		// announced calls whose arguments never arrived cannot run
		for _, call := range unfinishedCalls(turn) {
			logger.Warn().Str("tool", call.Name).Str("tool_call_id", call.ID).Msg("tool call never finalised")
			if err := emit(events.ToolCallEvent(call.ID, call.Name, nil, events.StatusError)); err != nil {
				return e.abort(ctx, out, result, err)
			}
		}
		if len(turn.calls) == 0 {
			if err := emit(events.DoneEvent(false)); err != nil {
				result.Err = err
			}
			return result
		}

		calls := dedupeToolCalls(ensureToolCallIDs(turn.calls))
		results := make([]ToolResult, 0, len(calls))
		for _, call := range calls {
			if err := ctx.Err(); err != nil {
				return e.abort(ctx, out, result, err)
			}
			res, err := e.executeToolCall(ctx, call, emit)
			if err != nil {
				return e.abort(ctx, out, result, err)
			}
			results = append(results, res)
			result.Executions = append(result.Executions, ToolExecution{Call: call, Result: res})
		}

		req.Messages = append(req.Messages,
			AssistantMessage{Text: turn.text.String(), ToolCalls: calls},
			ToolResultsMessage{Results: results},
		)
	}
}

// streamTurn forwards one provider stream to emit and records its text,
// tool calls and completion state.
func (e *Engine) streamTurn(ctx context.Context, req Request, emit func(events.Event) error) (*turnState, error) {
	turn := &turnState{}
	stream, err := e.provider.Stream(ctx, req)
	if err != nil {
		return turn, err
	}
	defer stream.Close()

	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			return turn, nil
		}
		if err != nil {
			return turn, err
		}
		switch ev.Type {
		case EventTextDelta:
			if ev.Text == "" {
				continue
			}
			turn.text.WriteString(ev.Text)
			err = emit(events.TextEvent(ev.Text))
		case EventToolCallStart:
			if ev.Tool == nil {
				continue
			}
			turn.started = append(turn.started, *ev.Tool)
			err = emit(events.ToolCallEvent(ev.Tool.ID, ev.Tool.Name, nil, events.StatusPending))
		case EventToolCall:
			if ev.Tool == nil {
				continue
			}
			call := *ev.Tool
			call.Arguments = normalizeArguments(call.Arguments)
			turn.calls = append(turn.calls, call)
			err = emit(events.ToolCallEvent(call.ID, call.Name, call.Arguments, events.StatusApproved))
		case EventTurnEnd:
			turn.complete = ev.Complete
			turn.stopReason = ev.StopReason
		}
		if err != nil {
			return turn, err
		}
	}
}

func (e *Engine) executeToolCall(ctx context.Context, call ToolCall, emit func(events.Event) error) (ToolResult, error) {
	logger := zerolog.Ctx(ctx)
	if err := emit(events.ToolCallEvent(call.ID, call.Name, call.Arguments, events.StatusRunning)); err != nil {
		return ToolResult{}, err
	}

	res := e.executor.Execute(ctx, call)
	res.ToolCallID = call.ID
	if res.Name == "" {
		res.Name = call.Name
	}
	logger.Debug().
		Str("tool", call.Name).
		Str("tool_call_id", call.ID).
		Bool("success", res.Success).
		Str("error", res.Error).
		Msg("tool executed")

	if err := emit(events.ToolResultEvent(events.ToolResult{
		ID:      call.ID,
		Name:    res.Name,
		Success: res.Success,
		Message: res.Message,
		Error:   res.Error,
		Data:    res.Payload(),
	})); err != nil {
		return res, err
	}

	status := events.StatusSuccess
	if !res.Success {
		status = events.StatusError
	}
	if err := emit(events.ToolCallEvent(call.ID, call.Name, call.Arguments, status)); err != nil {
		return res, err
	}
	return res, nil
}

// abort reports err and tries to end the stream with error + done. The
// terminal events are sent even when ctx is already cancelled.
func (e *Engine) abort(ctx context.Context, out events.Emitter, result RunResult, err error) RunResult {
	result.Err = err
	logger := zerolog.Ctx(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logger.Debug().Err(err).Msg("run cancelled")
	} else {
		logger.Error().Err(err).Msg("run failed")
	}

	finalCtx := context.WithoutCancel(ctx)
	if emitErr := out.Emit(finalCtx, events.ErrorEvent(err.Error())); emitErr != nil {
		return result
	}
	_ = out.Emit(finalCtx, events.DoneEvent(false))
	return result
}

// incompleteCalls lists the calls of an unfinished turn: finalised calls
// first, then announced calls that never finalised.
func incompleteCalls(turn *turnState) []ToolCall {
	out := make([]ToolCall, 0, len(turn.calls)+len(turn.started))
	out = append(out, turn.calls...)
	return append(out, unfinishedCalls(turn)...)
}

// unfinishedCalls lists announced calls with no finalised counterpart.
func unfinishedCalls(turn *turnState) []ToolCall {
	seen := make(map[string]struct{}, len(turn.calls))
	for _, call := range turn.calls {
		seen[call.ID] = struct{}{}
	}
	var out []ToolCall
	for _, call := range turn.started {
		if _, ok := seen[call.ID]; ok {
			continue
		}
		seen[call.ID] = struct{}{}
		out = append(out, call)
	}
	return out
}

func ensureToolCallIDs(calls []ToolCall) []ToolCall {
	for i := range calls {
		if strings.TrimSpace(calls[i].ID) == "" {
			calls[i].ID = "toolcall-" + uuid.NewString()
		}
	}
	return calls
}

func dedupeToolCalls(calls []ToolCall) []ToolCall {
	if len(calls) < 2 {
		return calls
	}
	seen := make(map[string]struct{}, len(calls))
	out := make([]ToolCall, 0, len(calls))
	for _, call := range calls {
		if _, ok := seen[call.ID]; ok {
			continue
		}
		seen[call.ID] = struct{}{}
		out = append(out, call)
	}
	return out
}
