package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/stitchdesk/stitchdesk/internal/model"
	"github.com/stitchdesk/stitchdesk/internal/poller"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

func stageColor(stage model.Stage) string {
	switch stage {
	case model.StageDone:
		return ansiGreen
	case model.StageError:
		return ansiRed
	case model.StagePending:
		return ""
	default:
		return ansiYellow
	}
}

func colorStage(stage model.Stage, colorize bool) string {
	s := string(stage)
	if colorize {
		if color := stageColor(stage); color != "" {
			return color + s + ansiReset
		}
	}
	return s
}

func renderUpdate(e poller.Entry, colorize bool) string {
	if e.Err != nil {
		return fmt.Sprintf("%s  poll failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("%s  %-9s %3d%%  %s", e.URL, colorStage(e.Stage, colorize), e.Progress, e.Status)
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

func optional(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
