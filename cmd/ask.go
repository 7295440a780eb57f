package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"lnprox-router/internal/paygate"
	"lnprox-router/internal/provider/factory"
)

func newAskCmd(a *app) *cobra.Command {
	var model string
	var maxTokens int

	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Send one prompt and print the answer",
		Long: `Sends a single prompt, paying the invoice if the endpoint asks for one, and
prints the answer on stdout. Without arguments the prompt is read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			orch, err := factory.NewOrchestrator(a.cfg)
			if err != nil {
				return err
			}

			res, err := orch.Complete(cmd.Context(), paygate.Request{
				Prompt:    prompt,
				Model:     model,
				MaxTokens: maxTokens,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			if res.Paid {
				printPayment(cmd.ErrOrStderr(), res)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "model to request instead of the configured one")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "completion token limit instead of the configured one")

	return cmd
}

// readPrompt joins args, or reads stdin when there are none and stdin is not
// a terminal.
func readPrompt(in io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	if f, ok := in.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return "", errors.New("a prompt is required: pass it as arguments or pipe it on stdin")
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("a prompt is required: stdin was empty")
	}
	return prompt, nil
}

func printPayment(w io.Writer, res *paygate.Result) {
	amount := "?"
	if res.AmountSats != nil {
		amount = fmt.Sprintf("%d", *res.AmountSats)
	}
	fmt.Fprintf(w, "%s paid %s sats (charge %s)\n", color.YellowString("⚡"), amount, res.ChargeID)
}
