// Package report prints the end-of-run summary for the operator.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/BlueBeard63/nids-deploy/internal/models"
)

func statusMark(status models.StageStatus) string {
	switch status {
	case models.StageStatusOK:
		return color.GreenString("✓")
	case models.StageStatusSkipped:
		return color.YellowString("-")
	default:
		return color.RedString("✗")
	}
}

// Render writes the stage table, the backup record and the outcome of the run
func Render(w io.Writer, r *models.DeploymentReport) {
	fmt.Fprintf(w, "\n %s Deployment %s (run %s)\n\n", color.CyanString("▶"), r.Version, r.ID)

	width := 0
	for _, result := range r.Results {
		if len(result.Stage) > width {
			width = len(result.Stage)
		}
	}

	for _, result := range r.Results {
		mark := statusMark(result.Status)
		line := fmt.Sprintf("   %s %-*s  %-7s %8s", mark, width, result.Stage, result.Status, formatDuration(result.Duration))
		if result.Message != "" {
			line += "  " + result.Message
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}

	fmt.Fprintln(w)
	if r.Backup != nil {
		fmt.Fprintf(w, "   Backup:  %s (%d files, %d bytes)\n", r.Backup.ArchivePath, r.Backup.Entries, r.Backup.SizeBytes)
	} else {
		fmt.Fprintln(w, "   Backup:  none (no previous deployment)")
	}
	if r.Certificate != "" {
		fmt.Fprintf(w, "   TLS:     %s (key %s)\n", r.Certificate, r.PrivateKey)
	} else {
		fmt.Fprintln(w, "   TLS:     none (HTTP only)")
	}
	if r.Config != nil {
		fmt.Fprintf(w, "   Domain:  %s\n", r.Config.DomainName)
		fmt.Fprintf(w, "   Root:    %s\n", r.Config.DeployRoot)
	}
	fmt.Fprintf(w, "   Elapsed: %s\n", formatDuration(r.FinishedAt.Sub(r.StartedAt)))

	if r.Succeeded() {
		fmt.Fprintf(w, "\n %s Done\n", color.GreenString("✓"))
		return
	}

	fmt.Fprintf(w, "\n %s Failed (%s)\n", color.RedString("✗"), r.FailureClass)
	if r.Error != "" {
		fmt.Fprintf(w, "   %s\n", r.Error)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return "0s"
	}
	return d.Round(time.Millisecond).String()
}
