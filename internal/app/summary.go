package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/participant"
)

// printSummary renders one row per participant to the output writer.
func (a *App) printSummary(sum *participant.Summary) error {
	data := pterm.TableData{{"Participant", "Status", "Duration", "Nodes", "Failed at", "Error"}}
	for _, r := range sum.Results {
		nodes := "-"
		if r.Report != nil {
			nodes = fmt.Sprintf("%d/%d", r.Report.Count(node.StatusCompleted), len(r.Report.Nodes))
		}
		failedAt := r.Node
		if failedAt == "" {
			failedAt = r.Stage
		}
		var msg string
		if r.Err != nil {
			msg = firstLine(r.Err.Error())
		}
		data = append(data, []string{
			r.Subject,
			statusText(r.Status),
			r.Duration.Round(time.Second).String(),
			nodes,
			failedAt,
			msg,
		})
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(a.outW, table)
	fmt.Fprintf(a.outW, "%d succeeded, %d failed, %d cancelled in %s\n",
		sum.Count(participant.StatusSucceeded),
		sum.Count(participant.StatusFailed),
		sum.Count(participant.StatusCancelled),
		sum.Duration.Round(time.Second))
	return nil
}

func statusText(s participant.Status) string {
	switch s {
	case participant.StatusSucceeded:
		return pterm.Green(s.String())
	case participant.StatusFailed:
		return pterm.Red(s.String())
	default:
		return pterm.Yellow(s.String())
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
