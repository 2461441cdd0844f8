package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"planforge/config"
	"planforge/task"
	"planforge/vm"
)

// newExecuteCommand builds `planctl execute`, the §6 CLI entry point that
// starts a task from a goal and runs it to completion or failure, printing
// the final task state as JSON.
func newExecuteCommand() *cobra.Command {
	var (
		goal           string
		namespace      string
		responseFormat string
		taskID         string
	)

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "run a goal through the plan-execution engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			if goal == "" {
				return withExitCode(2, errors.New("planctl: --goal is required"))
			}

			cfg, err := config.Load()
			if err != nil {
				return withExitCode(4, err)
			}
			ctx := cmd.Context()
			d, err := buildDeps(ctx, cfg)
			if err != nil {
				return withExitCode(4, err)
			}
			defer d.Close()

			var rf vm.ResponseFormat
			if responseFormat != "" {
				if err := json.Unmarshal([]byte(responseFormat), &rf); err != nil {
					return withExitCode(2, fmt.Errorf("planctl: parse --response-format: %w", err))
				}
			}

			if namespace == "" {
				namespace = "default"
			}
			if _, err := d.tasks.GetNamespace(ctx, namespace); err != nil {
				if err := d.tasks.PutNamespace(ctx, task.Namespace{Name: namespace, AllowedTools: []string{}}); err != nil {
					return withExitCode(4, err)
				}
			}

			if taskID == "" {
				taskID = newTaskID()
			}
			if err := d.engine.StartTask(ctx, taskID, goal, namespace, rf); err != nil {
				return classifyEngineError(err)
			}
			if err := d.engine.Run(ctx, taskID); err != nil {
				return classifyEngineError(err)
			}

			t, err := d.tasks.GetTask(ctx, taskID)
			if err != nil {
				return withExitCode(4, err)
			}
			return printJSON(cmd, t)
		},
	}

	cmd.Flags().StringVar(&goal, "goal", "", "natural-language goal to execute (required)")
	cmd.Flags().StringVar(&namespace, "namespace", "default", "tool namespace the task runs under")
	cmd.Flags().StringVar(&responseFormat, "response-format", "", `response format options as JSON, e.g. {"lang":"en"}`)
	cmd.Flags().StringVar(&taskID, "task-id", "", "task ID to use (default: a generated UUID)")
	return cmd
}

// classifyEngineError maps a run error to the §6 exit codes: 2 for a plan
// that failed validation, 3 for an externally cancelled run, 4 for
// everything else.
func classifyEngineError(err error) error {
	if vmErr := vm.AsError(err); vmErr != nil {
		switch vmErr.Kind {
		case vm.KindValidation:
			return withExitCode(2, err)
		case vm.KindCancelled:
			return withExitCode(3, err)
		}
	}
	return withExitCode(4, err)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
