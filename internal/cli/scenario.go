package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/semantica/internal/scenario"
)

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	File     string   `json:"file"`
	Name     string   `json:"name"`
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// ScenarioSummary is the output of scenario run.
type ScenarioSummary struct {
	Results []ScenarioResult `json:"results"`
	Passed  int              `json:"passed"`
	Failed  int              `json:"failed"`
}

func (s ScenarioSummary) WriteText(w io.Writer) error {
	for _, r := range s.Results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%s %s (%s)\n", status, r.Name, r.File)
		if r.Error != "" {
			fmt.Fprintf(w, "    %s\n", r.Error)
		}
		for _, f := range r.Failures {
			fmt.Fprintf(w, "    %s\n", f)
		}
	}
	_, err := fmt.Fprintf(w, "\n%d passed, %d failed\n", s.Passed, s.Failed)
	return err
}

// NewScenarioCommand creates the scenario command group.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run scripted playthroughs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run <file>...",
		Short: "Run scenario files against a throwaway database",
		Long: `Run each scenario against a fresh in-memory game and check its
expectations. The configured database is not touched.

Exits 1 if any scenario fails.

Example:
  semantica scenario run testdata/scenarios/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(rootOpts, args, cmd)
		},
	})

	return cmd
}

func runScenarios(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	summary := ScenarioSummary{Results: make([]ScenarioResult, 0, len(files))}
	for _, file := range files {
		r := ScenarioResult{File: file, Name: file}
		sc, err := scenario.Load(file)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid scenario "+file, err)
		}
		r.Name = sc.Name
		formatter.VerboseLog("Running scenario %s", sc.Name)

		res, err := scenario.Run(cmd.Context(), sc, scenario.Options{Logger: opts.Logger})
		switch {
		case err != nil:
			r.Error = err.Error()
		default:
			r.Passed = res.Passed()
			r.Failures = res.Failures
		}
		if r.Passed {
			summary.Passed++
		} else {
			summary.Failed++
		}
		summary.Results = append(summary.Results, r)
	}

	if err := formatter.Success(summary); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return &ExitError{
			Code:     ExitFailure,
			Message:  fmt.Sprintf("%d scenario(s) failed", summary.Failed),
			Reported: true,
		}
	}
	return nil
}
