package cli

import (
	"github.com/spf13/cobra"

	errs "ths-trader/internal/errors"
	"ths-trader/internal/models"
)

func newTasksCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List recent execution tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return errs.Wrap(errs.ErrPersistenceFailure, "data store unavailable")
			}

			tasks, err := app.Store.GetTasks(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(tasks)
			}
			if len(tasks) == 0 {
				output.Info("No tasks recorded")
				return nil
			}

			table := NewTable(output, "CREATED", "ID", "CODE", "ACTION", "QTY", "STATE", "DETAIL")
			for _, task := range tasks {
				detail := task.Result
				if task.Error != "" {
					detail = task.Error
				}
				table.AddRow(
					task.CreatedAt.Format("01-02 15:04:05"),
					shortID(task.ID),
					task.Order.Code,
					string(task.Order.Action),
					formatInt(task.Order.Quantity),
					stateLabel(output, task.State),
					detail,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of tasks to show")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func stateLabel(output *Output, state models.TaskState) string {
	switch state {
	case models.TaskCompleted:
		return output.Green(string(state))
	case models.TaskFailed, models.TaskTimeout:
		return output.Red(string(state))
	case models.TaskCancelled:
		return output.Yellow(string(state))
	default:
		return string(state)
	}
}
