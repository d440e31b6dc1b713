package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/harrisonrobin/sheetsync/pkg/model"
	"github.com/harrisonrobin/sheetsync/pkg/rebalance"
	"github.com/harrisonrobin/sheetsync/pkg/translate"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33"))
	labelStyle  = lipgloss.NewStyle().Bold(true).Width(14)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// maxDetails caps each detail list in the result summary.
const maxDetails = 10

func line(b *strings.Builder, label string, value any) {
	fmt.Fprintf(b, "%s %v\n", labelStyle.Render(label), value)
}

func renderResult(res model.SyncResult) string {
	var b strings.Builder
	title := fmt.Sprintf("Sync (%s) finished in %s", res.Direction, res.Duration.Round(time.Millisecond))
	if res.Cancelled {
		title += " (cancelled)"
	}
	b.WriteString(headerStyle.Render(title) + "\n")
	line(&b, "Created", res.Created)
	line(&b, "Updated", res.Updated)
	line(&b, "Unchanged", res.Unchanged)
	line(&b, "Conflicts", countStyle(res.Conflicts, warnStyle).Render(fmt.Sprint(res.Conflicts)))
	line(&b, "Errors", countStyle(res.Errors, errStyle).Render(fmt.Sprint(res.Errors)))
	line(&b, "Processed", res.TotalProcessed)

	if len(res.ConflictDetails) > 0 {
		b.WriteString("\n" + headerStyle.Render("Conflicts") + "\n")
		for i, c := range res.ConflictDetails {
			if i == maxDetails {
				b.WriteString(mutedStyle.Render(fmt.Sprintf("  ... %d more", len(res.ConflictDetails)-i)) + "\n")
				break
			}
			winner := string(c.Winner)
			if winner == "" {
				winner = "unresolved"
			}
			fmt.Fprintf(&b, "  %s task %s / row %s: %s (%s)\n", warnStyle.Render(string(c.Kind)), c.TaskID, c.RowID, c.Detail, winner)
		}
	}
	if len(res.ErrorDetails) > 0 {
		b.WriteString("\n" + headerStyle.Render("Errors") + "\n")
		for i, e := range res.ErrorDetails {
			if i == maxDetails {
				b.WriteString(mutedStyle.Render(fmt.Sprintf("  ... %d more", len(res.ErrorDetails)-i)) + "\n")
				break
			}
			fmt.Fprintf(&b, "  %s %s: %s\n", errStyle.Render(e.Stage), recordName(e.TaskID, e.RowID), e.Err)
		}
	}
	renderIssues(&b, "Warnings", res.Warnings)
	renderIssues(&b, "Skipped", res.Skipped)
	return b.String()
}

func renderIssues(b *strings.Builder, title string, issues []model.Issue) {
	if len(issues) == 0 {
		return
	}
	b.WriteString("\n" + headerStyle.Render(title) + "\n")
	for i, is := range issues {
		if i == maxDetails {
			b.WriteString(mutedStyle.Render(fmt.Sprintf("  ... %d more", len(issues)-i)) + "\n")
			return
		}
		field := is.Field
		if is.Value != "" {
			field += "=" + is.Value
		}
		fmt.Fprintf(b, "  %s %s: %s\n", recordName(is.TaskID, is.RowID), mutedStyle.Render(field), is.Message)
	}
}

func recordName(taskID, rowID string) string {
	switch {
	case taskID != "" && rowID != "":
		return "task " + taskID + " / row " + rowID
	case taskID != "":
		return "task " + taskID
	default:
		return "row " + rowID
	}
}

func countStyle(n int, nonZero lipgloss.Style) lipgloss.Style {
	if n == 0 {
		return okStyle
	}
	return nonZero
}

func renderStatus(sheetID string, c model.StatusCounts, s model.SyncSettings, now time.Time) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Tasks") + "\n")
	if sheetID == "" {
		sheetID = mutedStyle.Render("(none configured)")
	}
	line(&b, "Sheet", sheetID)
	line(&b, "Total", c.TotalTasks)
	line(&b, "Synced", c.Synced)
	line(&b, "Pending", c.Pending)
	line(&b, "Local only", c.LocalOnly)
	line(&b, "Orphaned", countStyle(c.Orphaned, warnStyle).Render(fmt.Sprint(c.Orphaned)))
	line(&b, "Conflicts", countStyle(c.Conflicts, warnStyle).Render(fmt.Sprint(c.Conflicts)))
	b.WriteString("\n" + renderSchedule(s, now))
	if s.LastResult != nil {
		r := s.LastResult
		fmt.Fprintf(&b, "%s %s: %d created, %d updated, %d conflicts, %d errors\n",
			labelStyle.Render("Last result"), r.Direction, r.Created, r.Updated, r.Conflicts, r.Errors)
	}
	return b.String()
}

func renderSchedule(s model.SyncSettings, now time.Time) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Schedule") + "\n")
	if s.Enabled {
		line(&b, "Periodic", okStyle.Render(fmt.Sprintf("every %d min", s.IntervalMinutes)))
	} else {
		line(&b, "Periodic", mutedStyle.Render("off"))
	}
	if s.LastSyncAt.IsZero() {
		line(&b, "Last sync", mutedStyle.Render("never"))
	} else {
		line(&b, "Last sync", fmt.Sprintf("%s (%s ago)", s.LastSyncAt.Local().Format("2006-01-02 15:04"), now.Sub(s.LastSyncAt).Round(time.Minute)))
	}
	return b.String()
}

func renderMoved(moved []rebalance.Moved) string {
	if len(moved) == 0 {
		return okStyle.Render("Nothing overdue.") + "\n"
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Moved %d overdue tasks to today", len(moved))) + "\n")
	for _, m := range moved {
		fmt.Fprintf(&b, "  %s %s  %s\n",
			mutedStyle.Render(translate.FormatDate(m.From)), m.Title,
			mutedStyle.Render(fmt.Sprintf("(rescheduled %dx)", m.TimesRescheduled)))
	}
	return b.String()
}

func renderTasks(tasks []model.Task) string {
	if len(tasks) == 0 {
		return mutedStyle.Render("No tasks.") + "\n"
	}
	var b strings.Builder
	for _, t := range tasks {
		planned := translate.FormatDate(t.PlannedDate)
		if planned == "" {
			planned = "          "
		}
		fmt.Fprintf(&b, "%s  %s  %-12s %s  %s\n",
			mutedStyle.Render(t.ID),
			planned,
			translate.StatusToSheet(t.Status),
			t.Title,
			mutedStyle.Render(string(t.SyncStatus)))
	}
	return b.String()
}
