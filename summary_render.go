package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"chatexport/pkg/types"
)

// ========================================
// 终端输出样式
// ========================================

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

func checkMark(ok bool) string {
	if ok {
		return okStyle.Render("ok")
	}
	return failStyle.Render("FAIL")
}

func statusStyle(s ExportStatus) lipgloss.Style {
	switch s {
	case types.StatusSucceeded:
		return okStyle
	case types.StatusSkippedIncompatible, types.StatusNotLocated:
		return warnStyle
	}
	return failStyle
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	diff := time.Since(t)
	switch {
	case diff < 24*time.Hour:
		return t.Format("Today 15:04")
	case diff < 7*24*time.Hour:
		return t.Format("Mon 15:04")
	case diff < 365*24*time.Hour:
		return t.Format("Jan 02 15:04")
	}
	return t.Format("2006-01-02")
}

func truncateName(name string, max int) string {
	r := []rune(name)
	if len(r) <= max {
		return name
	}
	return string(r[:max-3]) + "..."
}

// renderVerification prints one row per safety check
func renderVerification(w io.Writer, deviceID string, r VerificationResult) {
	fmt.Fprintln(w, headerStyle.Render("Device "+deviceID))
	fmt.Fprintf(w, "  foreground   %s\n", idStyle.Render(r.Foreground.Component()))
	fmt.Fprintf(w, "  package      %s\n", checkMark(r.PackageOK))
	fmt.Fprintf(w, "  screen       %s\n", checkMark(r.ActivityOK))
	fmt.Fprintf(w, "  ui present   %s\n", checkMark(r.UIPresentOK))
	fmt.Fprintf(w, "  unlocked     %s\n", checkMark(r.UnlockedOK))
	if r.OverallOK {
		fmt.Fprintln(w, okStyle.Render("Ready to export"))
		return
	}
	line := "Not ready: " + string(r.FailingReason)
	if r.Detail != "" {
		line += " (" + r.Detail + ")"
	}
	fmt.Fprintln(w, failStyle.Render(line))
}

// renderChat prints one discovered conversation
func renderChat(w io.Writer, h ChatHandle) {
	fmt.Fprintf(w, "%s  %s\n", idStyle.Render(fmt.Sprintf("%4d", h.DiscoveredAt)), h.DisplayName)
}

// renderAttempt prints a single finalized attempt as one line
func renderAttempt(w io.Writer, index, total int, a ExportAttempt) {
	pos := idStyle.Render(fmt.Sprintf("[%d/%d]", index+1, total))
	status := statusStyle(a.Status).Render(string(a.Status))
	line := fmt.Sprintf("%s %s  %s  %s", pos, a.Chat.DisplayName, status, dateStyle.Render(a.Duration().Round(time.Millisecond).String()))
	if a.Status == types.StatusFailedStep && a.FailingStep != "" {
		line += "  " + warnStyle.Render(fmt.Sprintf("at %s: %s", a.FailingStep, a.Reason))
	} else if a.Reason != "" {
		line += "  " + warnStyle.Render(a.Reason)
	}
	if a.UploadStrategy != "" {
		line += "  " + idStyle.Render("via "+a.UploadStrategy)
	}
	fmt.Fprintln(w, line)
	if a.Detail != "" && a.Status != types.StatusSucceeded {
		fmt.Fprintln(w, "        "+dateStyle.Render(a.Detail))
	}
}

// renderSummary prints the tallies of a batch run
func renderSummary(w io.Writer, sum RunSummary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("Run "+sum.RunID))
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	row := func(label string, n int) {
		_, _ = fmt.Fprintf(tw, "  %s\t%s\n", label, countStyle.Render(fmt.Sprint(n)))
	}
	row("requested", sum.Requested)
	row("succeeded", sum.Succeeded)
	row("skipped", sum.Skipped)
	row("failed", sum.Failed)
	row("not located", sum.NotLocated)
	row("already exported", sum.AlreadyExported)
	if sum.NotAttempted > 0 {
		row("not attempted", sum.NotAttempted)
	}
	_ = tw.Flush()

	if !sum.FinishedAt.IsZero() && !sum.StartedAt.IsZero() {
		fmt.Fprintf(w, "  %s\n", dateStyle.Render("took "+sum.FinishedAt.Sub(sum.StartedAt).Round(time.Second).String()))
	}
	if sum.Aborted {
		fmt.Fprintln(w, failStyle.Render("Aborted: "+sum.AbortReason))
	}
}

// renderHistory prints stored attempts newest first
func renderHistory(w io.Writer, records []AttemptRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, headerStyle.Render("No exports recorded"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%d recent attempt(s)", len(records))))
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(tw, titleStyle.Render("Run")+"\t"+titleStyle.Render("Chat")+"\t"+titleStyle.Render("Status")+"\t"+titleStyle.Render("When")+"\t")
	_, _ = fmt.Fprintln(tw, strings.Repeat("─", 72))
	for _, rec := range records {
		run := rec.RunID
		if run == "" {
			run = "-"
		} else if len(run) > 8 {
			run = run[:8]
		}
		a := rec.Attempt
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n",
			idStyle.Render(run),
			truncateName(a.Chat.DisplayName, 40),
			statusStyle(a.Status).Render(string(a.Status)),
			dateStyle.Render(formatWhen(a.StartedAt)))
	}
	_ = tw.Flush()
}
