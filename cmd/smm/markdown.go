package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func errorText(msg string) string   { return red("✗ " + msg) }
func successText(msg string) string { return green("✓ " + msg) }
func warningText(msg string) string { return yellow("! " + msg) }

// isTTY reports whether both stdin and stdout are terminals.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// MarkdownRenderer renders formatted results in the terminal.
type MarkdownRenderer struct {
	renderer *glamour.TermRenderer
}

// NewMarkdownRenderer sizes word wrap to the terminal. plain drops colours
// for output that is piped somewhere else.
func NewMarkdownRenderer(plain bool) (*MarkdownRenderer, error) {
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = min(w-4, 120)
	}

	style := glamour.WithStandardStyle("dark")
	if plain {
		style = glamour.WithStandardStyle("notty")
	}
	renderer, err := glamour.NewTermRenderer(
		style,
		glamour.WithWordWrap(width),
		glamour.WithEmoji(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &MarkdownRenderer{renderer: renderer}, nil
}

// Render returns content styled for the terminal, or content unchanged when
// rendering fails.
func (mr *MarkdownRenderer) Render(content string) string {
	if mr == nil || strings.TrimSpace(content) == "" {
		return content
	}
	out, err := mr.renderer.Render(content)
	if err != nil {
		return content
	}
	return out
}
