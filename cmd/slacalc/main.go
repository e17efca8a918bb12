// slacalc runs the business-hours calculator from the command line.
//
//	slacalc minutes --start "2024-01-19 16:00" --end "2024-01-22 10:30"
//	slacalc due --start "2024-01-19 16:00" --hours 4
//	slacalc status --start "2024-01-15 09:00" --sla 9 --at "2024-01-15 16:12"
//
// Times are RFC 3339 or "YYYY-MM-DD HH:MM" in the local time zone.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/wbrunovieira/WB-project-manager-sub000/internal/sla"
)

const usage = "usage: slacalc minutes|due|status [flags]"

var layouts = []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02T15:04"}

func parseTime(s string) (time.Time, error) {
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}

func main() {
	if err := run(os.Args[1:], os.Stdout, time.Now); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, now func() time.Time) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	cmd := args[0]
	fs := pflag.NewFlagSet("slacalc "+cmd, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	start := fs.String("start", "", "start instant")
	end := fs.String("end", "", "end instant (minutes)")
	hours := fs.Float64("hours", 0, "business hours to add (due)")
	slaHours := fs.Int("sla", 0, "SLA allotment in business hours (status)")
	at := fs.String("at", "", "instant to evaluate at (status, default now)")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *start == "" {
		return errors.New("--start is required")
	}
	from, err := parseTime(*start)
	if err != nil {
		return err
	}

	var result any
	var text string
	switch cmd {
	case "minutes":
		to, err := parseTime(*end)
		if err != nil {
			return err
		}
		mins := sla.BusinessMinutes(from, to)
		result = map[string]any{"minutes": mins, "formatted": sla.FormatMinutes(mins)}
		text = fmt.Sprintf("%d minutes (%s)", mins, sla.FormatMinutes(mins))
	case "due":
		due, err := sla.AddBusinessHours(from, *hours)
		if err != nil {
			return err
		}
		result = map[string]any{"due_at": due}
		text = due.Format("Mon 2006-01-02 15:04")
	case "status":
		current := now()
		if *at != "" {
			if current, err = parseTime(*at); err != nil {
				return err
			}
		}
		st := sla.CheckStatus(from, *slaHours, current)
		result = st
		text = fmt.Sprintf("%s: %d%% used, %s elapsed, %s remaining", st.State, st.PercentageUsed,
			sla.FormatMinutes(st.ElapsedMinutes), sla.FormatMinutes(st.RemainingMinutes))
	default:
		return fmt.Errorf("unknown command %q; %s", cmd, usage)
	}
	if *asJSON {
		return json.NewEncoder(out).Encode(result)
	}
	_, err = fmt.Fprintln(out, text)
	return err
}
