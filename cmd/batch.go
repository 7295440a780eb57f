package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"lnprox-router/internal/provider/factory"
)

func newBatchCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Answer one prompt per line, in order",
		Long: `Reads prompts from --file (or stdin), one per non-blank line, and answers them
sequentially. Each prompt is paid for independently. The run stops at the first
failure; answers printed before it are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open prompt file: %w", err)
				}
				defer f.Close()
				in = f
			}

			prompts, err := readPrompts(in)
			if err != nil {
				return err
			}
			if len(prompts) == 0 {
				return errors.New("no prompts to answer")
			}

			orch, err := factory.NewOrchestrator(a.cfg)
			if err != nil {
				return err
			}

			answers, batchErr := orch.CompleteBatch(cmd.Context(), prompts)

			out := cmd.OutOrStdout()
			for i, answer := range answers {
				fmt.Fprintf(out, "%s %s\n", color.CyanString("[%d]", i+1), prompts[i])
				fmt.Fprintf(out, "%s\n\n", answer)
			}
			if batchErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s answered %d of %d prompts\n",
					color.RedString("✗"), len(answers), len(prompts))
				return batchErr
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "%s answered %d prompts\n", color.GreenString("✓"), len(answers))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "file with one prompt per line (default: stdin)")

	return cmd
}

func readPrompts(in io.Reader) ([]string, error) {
	var prompts []string
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		prompts = append(prompts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	return prompts, nil
}
