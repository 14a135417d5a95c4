package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/upb/medbot/app"
	"github.com/upb/medbot/models"
	"github.com/upb/medbot/services"
)

var (
	askJSON    bool
	askTimeout time.Duration
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question from the terminal",
	Long: `Run a single question through the retrieval pipeline and print the answer
followed by the source documents it was grounded on.

Examples:
  medbot ask "How is type 2 diabetes diagnosed?"
  medbot ask --json --timeout 5m "What are the side effects of metformin?"`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the answer as JSON")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 2*time.Minute, "Upper bound for the whole query")
	rootCmd.AddCommand(askCmd)
}

// answerer is the part of the pipeline ask needs
type answerer interface {
	Run(ctx context.Context, query string) (*models.Answer, error)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	deps, err := app.NewDependencies(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = deps.Close(context.Background()) }()

	return ask(cmd.Context(), cmd.OutOrStdout(), deps.Pipeline, args[0], askTimeout, askJSON)
}

func ask(ctx context.Context, out io.Writer, svc answerer, question string, timeout time.Duration, asJSON bool) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	answer, err := svc.Run(ctx, question)
	if err != nil {
		var de *services.DomainError
		if errors.As(err, &de) {
			return fmt.Errorf("%s: %s", de.Type, de.Message)
		}
		return err
	}

	if asJSON {
		data, err := json.MarshalIndent(answer, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	return printAnswer(out, answer)
}

func printAnswer(out io.Writer, answer *models.Answer) error {
	fmt.Fprintln(out, "Answer:")
	fmt.Fprintln(out, answer.Result)
	fmt.Fprintln(out)

	if !answer.HasSources() {
		fmt.Fprintln(out, "No documents found in the index for this question.")
		return nil
	}

	fmt.Fprintln(out, "Source Documents:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tREFERENCE\tSCORE")
	for i, doc := range answer.SourceDocuments {
		fmt.Fprintf(w, "%d\t%s\t%.2f\n", i+1, doc.Reference(), doc.Score)
	}
	return w.Flush()
}
