package main

import (
	"context"
	"fmt"
	"time"

	"github.com/orion/tasksync/internal/grouping"
	"github.com/orion/tasksync/internal/schema"
	"github.com/spf13/cobra"
)

var tasksAt string

var tasksCmd = &cobra.Command{
	Use:     "tasks",
	GroupID: "data",
	Short:   "List visible tasks grouped by day and time",
	Long: `List the tasks shown at a point in time, grouped by expiry day and then
by time of day.

Started, in-progress and completed tasks are always listed; other tasks are
listed until the end of the day they expire. Tasks without an expiry are
listed under today.

Examples:
  tasksync tasks
  tasksync tasks --at tomorrow
  tasksync tasks --at "next friday 8am"
  tasksync tasks --at 2026-03-14`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		now, err := parseAt(tasksAt, time.Now())
		if err != nil {
			return err
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		tasks, err := a.Collections.Tasks.Query(ctx)
		if err != nil {
			return err
		}
		days := grouping.GroupTasks(tasks, now)

		if jsonOutput {
			return printJSON(days)
		}
		if len(days) == 0 {
			fmt.Println(renderMuted("No tasks"))
			return nil
		}

		for _, day := range days {
			fmt.Printf("\n%s %s\n", renderHeader(day.DayLabel), renderMuted(day.DayDate))
			for _, task := range day.TasksWithoutTime {
				printTask("", task)
			}
			for _, group := range day.TimeGroups {
				for i, task := range group.Tasks {
					label := ""
					if i == 0 {
						label = group.Time
					}
					printTask(label, task)
				}
			}
		}
		fmt.Println()
		return nil
	},
}

func printTask(timeLabel string, task *schema.Task) {
	status := string(task.Status)
	if task.Status.Active() {
		status = renderPass(status)
	} else {
		status = renderMuted(status)
	}
	fmt.Printf("   %-9s %s  %s %s\n", timeLabel, renderAccent(task.PK), task.Title, status)
}

func init() {
	tasksCmd.Flags().StringVar(&tasksAt, "at", "", `Show tasks as of this time (default now), e.g. "tomorrow 9am"`)

	rootCmd.AddCommand(tasksCmd)
}
