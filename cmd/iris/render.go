package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"golang.org/x/term"

	"iris/internal/agent/ports"
)

const maxToolOutput = 240

var (
	gray   = color.New(color.FgHiBlack).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()

	widgetStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)
	agentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4")).Bold(true)
)

// eventPrinter renders turn events as they arrive. In markdown mode deltas
// are held back and the final answer is rendered once; in plain mode deltas
// are printed as they stream.
type eventPrinter struct {
	out      io.Writer
	markdown *glamour.TermRenderer
	streamed bool
}

func newEventPrinter(out io.Writer, plain bool) *eventPrinter {
	p := &eventPrinter{out: out}
	if plain {
		return p
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(terminalWidth()),
	)
	if err == nil {
		p.markdown = renderer
	}
	return p
}

func terminalWidth() int {
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w - 4
	}
	return min(width, 120)
}

// Print writes one event.
func (p *eventPrinter) Print(event ports.Event) {
	switch event.Kind {
	case ports.EventStatus:
		fmt.Fprintln(p.out, gray("· "+event.Message))
	case ports.EventToolCall:
		if event.Tool != nil {
			fmt.Fprintf(p.out, "%s %s(%s)\n", yellow("⚙"), bold(event.Tool.Name), formatArgs(event.Tool.Arguments))
		}
	case ports.EventToolResult:
		if event.Tool == nil {
			return
		}
		line := truncate(strings.TrimSpace(event.Tool.Output), maxToolOutput)
		if event.Tool.IsError {
			fmt.Fprintf(p.out, "  %s %s\n", red("✗"), line)
		} else {
			fmt.Fprintf(p.out, "  %s %s\n", gray("↳"), gray(line))
		}
	case ports.EventMessageDelta:
		if p.markdown == nil {
			fmt.Fprint(p.out, event.Text)
			p.streamed = true
		}
	case ports.EventWidgetOpen:
		if event.Widget != nil {
			fmt.Fprintln(p.out, widgetStyle.Render(describeWidget(event)))
		}
	case ports.EventDraw:
		if event.Draw != nil {
			fmt.Fprintf(p.out, "%s overlay for %s\n", green("✎"), event.Draw.Target)
		}
	case ports.EventError:
		fmt.Fprintln(p.out, red("error: "+event.Message))
	case ports.EventMessageFinal:
		p.printFinal(event)
	}
}

func (p *eventPrinter) printFinal(event ports.Event) {
	if p.streamed {
		fmt.Fprintln(p.out)
		p.streamed = false
		return
	}
	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}
	if p.markdown != nil {
		if rendered, err := p.markdown.Render(text); err == nil {
			fmt.Fprint(p.out, rendered)
			return
		}
	}
	fmt.Fprintln(p.out, text)
}

func describeWidget(event ports.Event) string {
	w := event.Widget
	state := green("delivered")
	if !w.Delivered {
		state = yellow("not delivered")
		if w.Error != "" {
			state += gray(": " + w.Error)
		}
	}
	return fmt.Sprintf("widget %s → %s %dx%d via %s (%s)", bold(w.WidgetID), w.Target, w.Width, w.Height, w.Via, state)
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, truncate(fmt.Sprint(args[k]), 60)))
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}

func promptLabel(agent string) string {
	if agent == "" {
		agent = "auto"
	}
	return agentStyle.Render(agent) + " › "
}
