package main

import (
	"context"
	"fmt"

	"github.com/orion/tasksync/internal/activity"
	"github.com/orion/tasksync/internal/schema"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var activityCmd = &cobra.Command{
	Use:     "activity [pk]",
	GroupID: "data",
	Short:   "List activities or show the screens of one",
	Long: `Without arguments, list every activity with its question count.

With a pk, decode the activity's question groups and mobile layout and
print its screens in order, one line per question.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		all, err := a.Collections.Activities.Query(ctx)
		if err != nil {
			return err
		}

		if len(args) == 0 {
			return listActivities(all)
		}

		var parsed []*activity.Parsed
		for _, act := range all {
			if act.PK != args[0] {
				continue
			}
			decoded, err := activity.Decode(act)
			if err != nil {
				return fmt.Errorf("failed to decode %s/%s: %w", act.PK, act.SK, err)
			}
			p := activity.Parse(decoded, nil)
			parsed = append(parsed, p)
			if !jsonOutput {
				printParsed(act, p)
			}
		}
		if len(parsed) == 0 {
			return fmt.Errorf("activity %s not found", args[0])
		}
		if jsonOutput {
			return printJSON(parsed)
		}
		return nil
	},
}

func listActivities(all []*schema.Activity) error {
	type row struct {
		PK        string `json:"pk"`
		SK        string `json:"sk"`
		Name      string `json:"name"`
		Questions int    `json:"questions"`
	}
	rows := make([]row, 0, len(all))
	for _, act := range all {
		r := row{PK: act.PK, SK: act.SK, Name: act.DisplayName()}
		if decoded, err := activity.Decode(act); err == nil {
			r.Questions = len(decoded.Questions())
		} else {
			logger.Debug("activity not decodable", zap.String("pk", act.PK), zap.Error(err))
		}
		rows = append(rows, r)
	}

	if jsonOutput {
		return printJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Println(renderMuted("No activities"))
		return nil
	}
	for _, r := range rows {
		fmt.Printf("   %s %s  %s %s\n", renderAccent(r.PK), renderMuted(r.SK), r.Name,
			renderMuted(fmt.Sprintf("(%d questions)", r.Questions)))
	}
	return nil
}

func printParsed(act *schema.Activity, p *activity.Parsed) {
	fmt.Printf("\n%s %s\n", renderHeader(act.DisplayName()), renderMuted(act.SK))
	if len(p.Screens) == 0 {
		fmt.Println(renderMuted("   No screens"))
		return
	}
	for _, screen := range p.Screens {
		fmt.Printf("   %d. %s\n", screen.Order, renderAccent(screen.Name))
		for _, el := range screen.Elements {
			marker := " "
			if el.Question.Required {
				marker = renderWarn("*")
			}
			text := el.Question.Text
			if text == "" {
				text = el.Question.FriendlyName
			}
			fmt.Printf("      %s %-12s %s\n", marker, renderMuted(el.Question.Type), text)
		}
	}
}

func init() {
	rootCmd.AddCommand(activityCmd)
}
