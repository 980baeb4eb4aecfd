package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/samsaffron/skillshub/internal/audit"
)

var (
	auditLimit   int
	auditTool    string
	auditRequest string
	auditJSON    bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List recent tool calls from the audit log",
	Long: `List tool calls recorded by 'skillshub serve --audit' (or audit.enabled
in the config), newest first.

Examples:
  skillshub audit
  skillshub audit --tool delete_file --limit 20
  skillshub audit --request 3f2a... --json`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 50, "Max entries")
	auditCmd.Flags().StringVar(&auditTool, "tool", "", "Only this tool")
	auditCmd.Flags().StringVar(&auditRequest, "request", "", "Only this request ID")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "Output as JSON")
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// listing works even when recording is switched off
	cfg.Audit.Enabled = true
	store, err := audit.NewStore(cfg.Audit)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(cmd.Context(), audit.ListOptions{
		RequestID: auditRequest,
		Tool:      auditTool,
		Limit:     auditLimit,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if auditJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No tool calls recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTOOL\tOK\tPATH\tDETAIL")
	for _, e := range entries {
		detail := e.Message
		if !e.Success {
			detail = e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%v\t%s\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Tool, e.Success, e.Path, detail)
	}
	return tw.Flush()
}
