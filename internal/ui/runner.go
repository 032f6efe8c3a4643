package ui

import (
	"context"
	"io"
	"os"
	"time"
)

// RunnerConfig holds configuration for a multi-step command
type RunnerConfig struct {
	Title     string            // Command title (e.g., "Login check")
	Command   string            // Full command (e.g., "acondctl login")
	Params    map[string]string // Parameters to display in header
	StepNames []string          // Names for each step
	Output    io.Writer         // Output writer (default: os.Stdout)
}

// Operation is the work a Runner executes. It reports progress through
// onStep and returns details for the success box.
type Operation func(ctx context.Context, onStep StepCallback) (map[string]string, error)

// Runner prints header, step lines and a result box around an Operation
type Runner struct {
	config   RunnerConfig
	printer  *Printer
	progress *Progress
}

// NewRunner creates a new runner
func NewRunner(config RunnerConfig) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	printer := NewPrinter(config.Output)

	var progress *Progress
	if len(config.StepNames) > 0 {
		progress = NewProgress("", len(config.StepNames))
		progress.SetWidth(printer.Width())
		progress.SetStepNames(config.StepNames)
	}

	return &Runner{config: config, printer: printer, progress: progress}
}

// Run executes op, printing a success or failure box when it returns
func (r *Runner) Run(ctx context.Context, op Operation) (map[string]string, error) {
	start := time.Now()

	r.printer.PrintHeader(r.config.Title, r.config.Command, r.config.Params)

	details, err := op(ctx, r.onStep)
	duration := time.Since(start).Round(time.Millisecond)

	r.printer.Newline()
	if err != nil {
		r.printer.PrintError(r.config.Title+" failed", err)
		return nil, err
	}

	if details == nil {
		details = make(map[string]string)
	}
	details["Duration"] = duration.String()
	r.printer.PrintSuccess(r.config.Title+" complete", details)
	return details, nil
}

func (r *Runner) onStep(stepNumber int, name string, status StepStatus, message string) {
	if r.progress == nil || stepNumber < 1 || stepNumber > len(r.progress.Steps) {
		return
	}
	if name != "" {
		r.progress.Steps[stepNumber-1].Name = name
	}
	r.progress.UpdateStep(stepNumber, status, message)

	line := r.progress.renderStepLine(r.progress.Steps[stepNumber-1])
	switch status {
	case StepComplete, StepFailed, StepSkipped:
		r.printer.Println(line)
	case StepRunning:
		// overwritten when the step finishes
		r.printer.Print(line + "\r")
	}
}
