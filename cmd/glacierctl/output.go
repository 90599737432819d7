package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/lk2023060901/glacier-archiver/internal/archive/progress"
	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
	apperrors "github.com/lk2023060901/glacier-archiver/internal/pkg/errors"
)

var (
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
	labelStyle   = lipgloss.NewStyle().Width(9)
)

func label(style lipgloss.Style, text string) string {
	return style.Inherit(labelStyle).Render(text)
}

// renderEvents prints one line per recorded outcome and returns the number of failures.
func renderEvents(events []progress.Event) int {
	failed := 0
	for _, e := range events {
		switch e.Kind {
		case progress.KindStoreSucceeded, progress.KindDeleteSucceeded, progress.KindPendingSucceeded:
			fmt.Printf("%s %s %s\n", label(okStyle, "ok"), describe(e), dimStyle.Render(sizeOf(e)))
		case progress.KindRetrieveSucceeded:
			fmt.Printf("%s %s -> %s %s%s\n", label(okStyle, "ok"), e.RequestID, e.Path, dimStyle.Render(sizeOf(e)), expiry(e.ExpiresAt))
		case progress.KindStoreSucceededPending, progress.KindDeleteSucceededPending:
			fmt.Printf("%s %s %s\n", label(pendingStyle, "pending"), describe(e), dimStyle.Render(sizeOf(e)))
		case progress.KindArchiveDeleted:
			fmt.Printf("%s %s\n", label(pendingStyle, "removed"), e.URL)
		case progress.KindAllProcessed:
			fmt.Println(dimStyle.Render("all pending actions processed"))
		default:
			if e.Failed() {
				failed++
				fmt.Printf("%s %s: %v%s\n", label(errorStyle, "failed"), describe(e), e.Err, retryHint(e.Err))
			}
		}
	}
	return failed
}

func retryHint(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Transient() {
		return dimStyle.Render(" (retryable)")
	}
	return ""
}

func describe(e progress.Event) string {
	switch {
	case e.URL != "" && e.RequestID != "":
		return fmt.Sprintf("%s %s", e.RequestID, e.URL)
	case e.URL != "":
		return e.URL
	}
	return e.RequestID
}

func sizeOf(e progress.Event) string {
	if e.Size <= 0 {
		return ""
	}
	return humanize.IBytes(uint64(e.Size))
}

func expiry(t *time.Time) string {
	if t == nil {
		return ""
	}
	return dimStyle.Render(" expires " + humanize.Time(*t))
}

func renderAvailability(location string, a types.Availability, err error) bool {
	if err != nil {
		fmt.Printf("%s %s: %v\n", label(errorStyle, "failed"), location, err)
		return false
	}

	style := pendingStyle
	if a.Available {
		style = okStyle
	}
	where := ""
	if a.Local {
		where = dimStyle.Render(" (workspace)")
	}
	fmt.Printf("%s %s%s%s\n", label(style, string(a.Status)), location, where, expiry(a.ExpiresAt))
	return true
}

func failures(n int) error {
	if n == 0 {
		return nil
	}
	return fmt.Errorf("%d file(s) failed", n)
}
