package tsubame

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/term"
)

// RunPager displays lines in a scrollable TUI when stdout is a TTY and the
// content doesn't fit the terminal; otherwise it just prints them.
func RunPager(title string, lines []string) error {
	fd := int(os.Stdout.Fd())
	isTTY := term.IsTerminal(fd)

	if !isTTY {
		for _, line := range lines {
			fmt.Println(line)
		}
		return nil
	}

	// Two-line buffer for the TUI border: if it fits, print normally.
	_, height, err := term.GetSize(fd)
	if err == nil && len(lines) <= height-2 {
		for _, line := range lines {
			fmt.Println(line)
		}
		return nil
	}

	app := tview.NewApplication()

	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	textView.SetBorder(true).SetTitle(" " + title + " ")

	ansiWriter := tview.ANSIWriter(textView)
	fmt.Fprint(ansiWriter, strings.Join(lines, "\n"))

	footer := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[gray]Use ↑/↓, PgUp/PgDn, Home/End to scroll. Press 'q' or 'Esc' to quit.[white]")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(textView, 0, 1, true).
		AddItem(footer, 1, 0, false)

	textView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape:
			app.Stop()
			return nil
		case tcell.KeyRune:
			if event.Rune() == 'q' {
				app.Stop()
				return nil
			}
		}
		return event
	})

	return app.SetRoot(flex, true).Run()
}

// latestLogDir returns the newest timestamped invocation directory under
// LogRoot, or "" when no run has been logged yet.
func latestLogDir() string {
	entries, err := os.ReadDir(LogRoot)
	if err != nil {
		return ""
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 0 {
		return ""
	}
	sort.Strings(dirs)
	return filepath.Join(LogRoot, dirs[len(dirs)-1])
}

// showLogs implements the log command: with no argument it lists the captured
// step logs of the latest run; with a component name it pages through that
// component's logs.
func showLogs(component string) error {
	dir := latestLogDir()
	if dir == "" {
		return fmt.Errorf("no build logs found under %s", LogRoot)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read log dir %s: %w", dir, err)
	}

	if component == "" {
		arrowf("Logs from %s\n", dir)
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
				fmt.Println("  " + e.Name())
			}
		}
		return nil
	}

	var lines []string
	found := false
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), component+"-") || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		found = true
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		lines = append(lines, "=== "+e.Name()+" ===")
		lines = append(lines, strings.Split(strings.TrimRight(string(data), "\n"), "\n")...)
	}
	if !found {
		return fmt.Errorf("no logs for %s in %s", component, dir)
	}
	return RunPager(component+" build logs", lines)
}
