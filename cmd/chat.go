package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/samsaffron/skillshub/internal/config"
	"github.com/samsaffron/skillshub/internal/events"
	"github.com/samsaffron/skillshub/internal/llm"
	"github.com/samsaffron/skillshub/internal/signal"
	"github.com/samsaffron/skillshub/internal/tools"
)

var (
	chatProvider      string
	chatModel         string
	chatWorkspace     string
	chatAllow         []string
	chatMaxIterations int
	chatSystem        string
)

var chatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Send one prompt and let the model use the file tools",
	Long: `Send a single prompt through the same orchestration loop the server
uses. Assistant text goes to stdout, tool activity to stderr.

Examples:
  skillshub chat "list the files here"
  skillshub chat "create notes/todo.md" --allow createFile -w ~/notes
  skillshub chat "summarise README.md" -p openai:gpt-4o`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	AddProviderFlag(chatCmd, &chatProvider)
	AddModelFlag(chatCmd, &chatModel)
	AddWorkspaceFlag(chatCmd, &chatWorkspace)
	AddAllowFlag(chatCmd, &chatAllow)
	AddMaxIterationsFlag(chatCmd, &chatMaxIterations)
	AddSystemMessageFlag(chatCmd, &chatSystem)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	provider, model := parseProviderFlag(chatProvider)
	if chatModel != "" {
		model = chatModel
	}
	cfg.ApplyOverrides(provider, model)

	perms, err := tools.ParsePermissions(chatAllow)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()
	logger := log.With().Str("request_id", uuid.NewString()).Str("provider", cfg.Provider).Logger()
	ctx = logger.WithContext(ctx)

	runtime := newHubRuntime(cfg)
	engine, req, err := runtime.prepare(runOptions{
		Provider:      cfg.Provider,
		Overrides:     config.ProviderOverrides{},
		SystemPrompt:  chatSystem,
		Permissions:   perms,
		Workspace:     chatWorkspace,
		MaxIterations: chatMaxIterations,
	}, []llm.Message{llm.UserMessage{Text: strings.Join(args, " ")}})
	if err != nil {
		return err
	}

	result := engine.Run(ctx, req, newTerminalEmitter(cmd.OutOrStdout(), cmd.ErrOrStderr()))
	fmt.Fprintln(cmd.OutOrStdout())
	if result.Err != nil {
		return result.Err
	}
	if result.MaxIterationsReached {
		fmt.Fprintf(cmd.ErrOrStderr(), "stopped after %d iterations\n", result.Iterations)
	}
	return nil
}

// newTerminalEmitter renders events for a terminal: text to out, tool
// activity and errors to status.
func newTerminalEmitter(out, status io.Writer) events.Emitter {
	return events.Func(func(_ context.Context, ev events.Event) error {
		switch p := ev.Payload.(type) {
		case events.Text:
			_, err := io.WriteString(out, p.Content)
			return err
		case events.ToolCall:
			switch p.Status {
			case events.StatusRunning:
				fmt.Fprintf(status, "→ %s %s\n", p.Name, truncateParams(string(p.Params), 120))
			case events.StatusError:
				fmt.Fprintf(status, "✗ %s\n", p.Name)
			}
		case events.ToolResult:
			if p.Success {
				fmt.Fprintf(status, "✓ %s\n", p.Message)
			} else {
				fmt.Fprintf(status, "✗ %s\n", p.Error)
			}
		case events.Error:
			fmt.Fprintf(status, "error: %s\n", p.Message)
		}
		return nil
	})
}

func truncateParams(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
