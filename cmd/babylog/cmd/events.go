package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/babylog/internal/collection"
	"github.com/kimhsiao/babylog/internal/entities"
	"github.com/kimhsiao/babylog/internal/models"
)

func newEventsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "events [YYYY-MM]",
		Short: "List a month's calendar events with relative dates resolved",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			month := a.today()
			if len(args) == 1 {
				m, err := time.ParseInLocation("2006-01", args[0], a.loc)
				if err != nil {
					return fmt.Errorf("month must be YYYY-MM: %w", err)
				}
				month = m
			}

			ctx := cmd.Context()
			children := entities.NewChildren(a.remote, a.users)
			if err := children.Load(ctx); err != nil {
				return err
			}
			birthday := entities.BirthdayOf(children)

			events := entities.NewEvents(a.remote, a.users, birthday)
			if err := events.SetRange(ctx, collection.Month(month.Year(), month.Month(), a.loc)); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			items := events.Items()
			if len(items) == 0 {
				fmt.Fprintln(out, "No events")
				return nil
			}
			for _, e := range items {
				fmt.Fprintln(out, eventLine(e, birthday()))
			}
			return nil
		},
	}
}

func eventLine(e models.CalendarEvent, birthday *time.Time) string {
	date, ok := e.ResolveDate(birthday)
	line := "????-??-??  " + e.Title
	if ok {
		line = models.FormatDate(date) + "  " + e.Title
	}
	if e.Category != "" {
		line += " [" + e.Category + "]"
	}
	if e.IsRelative && e.RelativeDays != nil {
		line += fmt.Sprintf(" (day %d)", *e.RelativeDays)
	}
	return line
}
