package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/babylog/internal/collection"
	"github.com/kimhsiao/babylog/internal/entities"
	"github.com/kimhsiao/babylog/internal/models"
	"github.com/kimhsiao/babylog/internal/voice"
)

func newTodayCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "List today's logs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logs := entities.NewLogs(a.remote, a.users)
			if err := logs.SetRange(cmd.Context(), collection.Day(a.today(), a.loc)); err != nil {
				return err
			}
			printLogs(cmd.OutOrStdout(), logs.Items(), a.loc)
			return nil
		},
	}
}

func newSayCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   `say "<text>"`,
		Short: "Create a log from a spoken phrase such as \"fed 120 ml\"",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := a.today()
			parsed, err := voice.Parse(strings.Join(args, " "), now)
			if err != nil {
				return err
			}
			logs := entities.NewLogs(a.remote, a.users)
			created, err := logs.Create(cmd.Context(), *parsed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged %s\n", describe(created, a.loc))
			return nil
		},
	}
}

func newWatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream today's logs as they change until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			logs := entities.NewLogs(a.remote, a.users)
			defer logs.Close()

			logs.OnChange(func(items []models.BabyLog) {
				fmt.Fprintf(out, "-- %s: %d logs today\n", a.now().In(a.loc).Format("15:04:05"), len(items))
				printLogs(out, items, a.loc)
			})

			if err := logs.Watch(ctx); err != nil {
				return err
			}
			if err := logs.SetRange(ctx, collection.Day(a.today(), a.loc)); err != nil {
				return err
			}
			fmt.Fprintln(out, "Watching for changes, press Ctrl+C to stop")
			<-ctx.Done()
			return nil
		},
	}
}

func printLogs(w io.Writer, items []models.BabyLog, loc *time.Location) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No logs")
		return
	}
	for _, l := range items {
		fmt.Fprintln(w, describe(l, loc))
	}
}

// describe renders one log as "15:04  type  details  (note)".
func describe(l models.BabyLog, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-11s", l.LoggedAtTime().In(loc).Format("15:04"), l.LogType)
	if d := detailText(l.Details, loc); d != "" {
		b.WriteString("  " + d)
	}
	if l.Note != "" {
		fmt.Fprintf(&b, "  (%s)", l.Note)
	}
	return strings.TrimRight(b.String(), " ")
}

func detailText(details models.LogDetails, loc *time.Location) string {
	var parts []string
	switch d := details.(type) {
	case models.Feeding:
		parts = append(parts, strings.ReplaceAll(string(d.Method), "_", " "))
		if d.AmountML > 0 {
			parts = append(parts, fmt.Sprintf("%d ml", d.AmountML))
		}
		if d.DurationMin > 0 {
			parts = append(parts, fmt.Sprintf("%d min", d.DurationMin))
		}
	case models.Sleep:
		if d.EndedAt > 0 {
			parts = append(parts, "until "+time.UnixMilli(d.EndedAt).In(loc).Format("15:04"))
		} else {
			parts = append(parts, "asleep")
		}
	case models.Poop:
		parts = append(parts, string(d.Amount), d.Color, d.Consistency)
	case models.Medicine:
		parts = append(parts, d.Name, d.Dose)
	case models.Temperature:
		parts = append(parts, fmt.Sprintf("%.1f°C", d.Celsius))
	case models.Pump:
		parts = append(parts, fmt.Sprintf("%d ml", d.AmountML), d.Side)
	}

	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
