package main

import (
	"context"
	"fmt"
	"time"

	"github.com/orion/tasksync/internal/appointment"
	"github.com/orion/tasksync/internal/schema"
	"github.com/spf13/cobra"
)

var appointmentsToday bool

var appointmentsCmd = &cobra.Command{
	Use:     "appointments",
	GroupID: "data",
	Short:   "List stored appointments grouped by date",
	Long: `List the appointments saved by the last fixture import, grouped by
date in the site's timezone. Deleted appointments are never listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		data, err := a.Appointments.Load(ctx)
		if err != nil {
			return err
		}
		items, err := a.Appointments.List(ctx, appointmentsToday)
		if err != nil {
			return err
		}

		tzID := ""
		if data != nil {
			tzID = data.SiteTimezoneID
		}
		loc := appointment.Location(tzID, time.Local)
		groups := appointment.GroupByDate(items, loc, time.Now())

		if jsonOutput {
			return printJSON(groups)
		}
		if len(groups) == 0 {
			fmt.Println(renderMuted("No appointments"))
			return nil
		}

		abbr := appointment.TimezoneAbbreviation(tzID)
		for _, g := range groups {
			fmt.Printf("\n%s %s\n", renderHeader(g.DateLabel), renderMuted(g.Date))
			for _, appt := range g.Appointments {
				kind := "On site"
				if appt.AppointmentType == schema.AppointmentTelevisit {
					kind = "Televisit"
				}
				fmt.Printf("   %s %s  %s %s\n",
					appointment.FormatTimeRange(appt.StartAt, appt.EndAt, loc),
					renderMuted(abbr),
					renderAccent(appt.Title),
					renderMuted(kind))
			}
		}
		fmt.Println()
		return nil
	},
}

func init() {
	appointmentsCmd.Flags().BoolVar(&appointmentsToday, "today", false, "Only appointments starting today")

	rootCmd.AddCommand(appointmentsCmd)
}
