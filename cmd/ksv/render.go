package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/daviddao/kernelspy_viewer/internal/cellindex"
	"github.com/daviddao/kernelspy_viewer/internal/kernelmsg"
	"github.com/daviddao/kernelspy_viewer/internal/threadtree"
)

const clockLayout = "15:04:05.000"

// --- Threads view ---

// renderThreads lists the flattened thread forest and returns the line the
// cursor is on. Each top-level thread after the first is preceded by a
// separator.
func (m uiModel) renderThreads() (string, int) {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Messages"))
	b.WriteRune('\n')
	line, cursorLine := 1, 0

	if len(m.snap.Nodes) == 0 {
		b.WriteString(dimStyle.Render("  (no messages yet)"))
		b.WriteRune('\n')
		return b.String(), 0
	}

	sep := dimStyle.Render(strings.Repeat("─", 40))
	for i, n := range m.snap.Nodes {
		if n.Depth == 0 && i > 0 {
			b.WriteString(sep)
			b.WriteRune('\n')
			line++
		}
		if i == m.cursor {
			cursorLine = line
		}
		b.WriteString(renderNode(n, i == m.cursor))
		b.WriteRune('\n')
		line++
	}
	return b.String(), cursorLine
}

func renderNode(n threadtree.Node, selected bool) string {
	marker := "·"
	if n.HasChildren {
		marker = "▾"
		if n.Collapsed {
			marker = "▸"
		}
	}

	msg := n.Message
	label := channelStyle(msg.Channel).Render(msg.Label())
	if msg.ExecutionState != "" {
		label += dimStyle.Render(" (" + msg.ExecutionState + ")")
	}
	if msg.CellID != "" {
		label += " " + runningStyle.Render("["+truncate(msg.CellID, 8)+"]")
	}

	ts := "--:--:--.---"
	if !msg.Timestamp.IsZero() {
		ts = msg.Timestamp.Local().Format(clockLayout)
	}

	prefix := "  "
	if selected {
		prefix = selectedStyle.Render(">") + " "
	}
	return fmt.Sprintf("%s%s %s%s %s", prefix, dimStyle.Render(ts), strings.Repeat("  ", n.Depth), marker, label)
}

func channelStyle(c kernelmsg.Channel) lipgloss.Style {
	switch c {
	case kernelmsg.ChannelShell:
		return shellStyle
	case kernelmsg.ChannelIOPub:
		return iopubStyle
	case kernelmsg.ChannelControl, kernelmsg.ChannelStdin:
		return controlStyle
	}
	return dimStyle
}

// renderMessageDetail shows the header fields and the raw payload of one
// message.
func (m uiModel) renderMessageDetail(n threadtree.Node) string {
	msg := n.Message
	var b strings.Builder
	b.WriteString(headerStyle.Render("Message " + truncate(msg.ID, 24)))
	b.WriteRune('\n')

	field := func(name, value string) {
		if value == "" {
			value = dimStyle.Render("(none)")
		}
		b.WriteString(fmt.Sprintf("  %-9s %s\n", name, value))
	}
	field("id", msg.ID)
	field("parent", msg.ParentID)
	field("channel", string(msg.Channel))
	field("type", string(msg.Type))
	switch {
	case !msg.Timestamp.IsZero():
		field("date", msg.Timestamp.Local().Format(clockLayout+" 2006-01-02"))
	case msg.RawDate != "":
		field("date", errorStyle.Render("unreadable: "+msg.RawDate))
	default:
		field("date", "")
	}
	field("cell", msg.CellID)
	field("session", msg.Session)
	if n.HasChildren {
		field("children", fmt.Sprintf("%t collapsed", n.Collapsed))
	}

	b.WriteRune('\n')
	b.WriteString(headerStyle.Render("Payload"))
	b.WriteRune('\n')
	b.WriteString(prettyPayload(msg.Payload))
	b.WriteRune('\n')
	return b.String()
}

// prettyPayload indents the raw message JSON. Payloads that are not valid
// JSON are shown as received.
func prettyPayload(raw json.RawMessage) string {
	if len(raw) == 0 {
		return dimStyle.Render("(empty)")
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// --- Cells view ---

// renderCells lists the cell records in first-seen order and returns the
// line the cursor is on.
func (m uiModel) renderCells() (string, int) {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Cells"))
	b.WriteRune('\n')

	if len(m.snap.Cells) == 0 {
		b.WriteString(dimStyle.Render("  (no cells executed yet)"))
		b.WriteRune('\n')
		return b.String(), 0
	}

	durWidth := len("Execution")
	for _, c := range m.snap.Cells {
		durWidth = max(durWidth, lipgloss.Width(c.Duration))
	}
	durCol := lipgloss.NewStyle().Width(durWidth)
	if m.display.rightAligned {
		durCol = durCol.Align(lipgloss.Right)
	}

	b.WriteString(dimStyle.Render(fmt.Sprintf("  %-14s %-8s ", "Cell", "State") +
		durCol.Render("Execution") + "  Msgs"))
	b.WriteRune('\n')

	cursorLine := 0
	for i, c := range m.snap.Cells {
		if i == m.cursor {
			cursorLine = i + 2
		}
		prefix := "  "
		if i == m.cursor {
			prefix = selectedStyle.Render(">") + " "
		}

		state := dimStyle.Render(fmt.Sprintf("%-8s", c.State))
		if c.State == cellindex.StateOpen {
			state = runningStyle.Render(fmt.Sprintf("%-8s", c.State))
		}

		b.WriteString(fmt.Sprintf("%s%-14s %s %s  %d\n",
			prefix, truncate(c.CellID, 11), state, m.styleDuration(c, durCol), len(c.MessageIDs)))
	}
	return b.String(), cursorLine
}

// styleDuration renders the duration column. The most recently completed
// cell is drawn in the highlight color.
func (m uiModel) styleDuration(c cellindex.Record, col lipgloss.Style) string {
	text := c.Duration
	switch {
	case c.State == cellindex.StateOpen:
		text = dimStyle.Render("…")
	case text == "":
		text = dimStyle.Render("-")
	case m.display.highlight && m.snap.IsLatest(c.CellID):
		text = lipgloss.NewStyle().
			Foreground(lipgloss.Color(m.display.highlightColor)).
			Bold(true).
			Render(text)
	}
	return col.Render(text)
}

// renderCellDetail shows one cell's timing and the messages bucketed under
// it.
func (m uiModel) renderCellDetail(c cellindex.Record) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Cell " + truncate(c.CellID, 24)))
	b.WriteRune('\n')

	b.WriteString(fmt.Sprintf("  %-9s %s\n", "request", c.RequestID))
	if c.RequestType != "" {
		b.WriteString(fmt.Sprintf("  %-9s %s\n", "type", c.RequestType))
	}
	b.WriteString(fmt.Sprintf("  %-9s %s\n", "started", clock(c.StartTime)))
	if c.State == cellindex.StateOpen {
		elapsed := "?"
		if !c.StartTime.IsZero() {
			elapsed = shortDuration(time.Since(c.StartTime))
		}
		b.WriteString(fmt.Sprintf("  %-9s %s\n", "running", runningStyle.Render(elapsed)))
	} else {
		b.WriteString(fmt.Sprintf("  %-9s %s\n", "finished", clock(c.EndTime)))
		b.WriteString(fmt.Sprintf("  %-9s %s\n", "summary", c.Duration))
	}

	b.WriteRune('\n')
	msgs := m.snap.CellMessages[c.CellID]
	b.WriteString(headerStyle.Render(fmt.Sprintf("Messages (%d)", len(msgs))))
	b.WriteRune('\n')
	for _, msg := range msgs {
		b.WriteString(fmt.Sprintf("  %s %s %s\n",
			dimStyle.Render(clock(msg.Timestamp)),
			channelStyle(msg.Channel).Render(msg.Label()),
			dimStyle.Render(truncate(msg.ID, 8))))
	}
	return b.String()
}

func clock(t time.Time) string {
	if t.IsZero() {
		return "--:--:--.---"
	}
	return t.Local().Format(clockLayout)
}

// --- Split-pane rendering ---

// renderSplitPane renders two content panes side by side with a vertical separator.
func renderSplitPane(left, right string, leftWidth, rightWidth, maxHeight int) string {
	leftLines := strings.Split(left, "\n")
	rightLines := strings.Split(right, "\n")

	// Pad to equal height.
	maxLines := max(len(leftLines), len(rightLines))
	if maxLines > maxHeight {
		maxLines = maxHeight
	}
	for len(leftLines) < maxLines {
		leftLines = append(leftLines, "")
	}
	for len(rightLines) < maxLines {
		rightLines = append(rightLines, "")
	}

	sep := dimStyle.Render("│")
	var b strings.Builder
	for i := 0; i < maxLines; i++ {
		b.WriteString(padOrTruncate(leftLines[i], leftWidth))
		b.WriteString(" ")
		b.WriteString(sep)
		b.WriteString(" ")
		b.WriteString(ansi.Truncate(rightLines[i], rightWidth, ""))
		b.WriteRune('\n')
	}
	return b.String()
}

// padOrTruncate pads or truncates a styled line to the target visible width.
func padOrTruncate(styled string, width int) string {
	visWidth := lipgloss.Width(styled)
	if visWidth > width {
		return ansi.Truncate(styled, width, "")
	}
	return styled + strings.Repeat(" ", width-visWidth)
}

// --- Helpers ---

// truncateLines truncates each line in content to at most width visible
// characters, preserving ANSI escape codes. This prevents terminal line
// wrapping when the window is resized narrower.
func truncateLines(content string, width int) string {
	if width <= 0 {
		return content
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if lipgloss.Width(line) > width {
			lines[i] = ansi.Truncate(line, width, "")
		}
	}
	return strings.Join(lines, "\n")
}

// wrapLines wraps plain-text lines to width and leaves styled lines alone;
// those are cut by truncateLines.
func wrapLines(content string, width int) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		if strings.ContainsRune(line, '\x1b') {
			out = append(out, line)
			continue
		}
		out = append(out, wrapText(line, width)...)
	}
	return out
}

// wrapText breaks s into lines of at most width characters, splitting on word
// boundaries where possible. If a single word exceeds width it is hard-split.
// Embedded newlines are respected; each paragraph is wrapped independently.
func wrapText(s string, width int) []string {
	if width <= 0 {
		width = 80
	}

	paragraphs := strings.Split(s, "\n")
	var lines []string
	for _, para := range paragraphs {
		lines = append(lines, wrapParagraph(para, width)...)
	}
	return lines
}

// wrapParagraph wraps a single paragraph (no embedded newlines) to width
// runes.
func wrapParagraph(s string, width int) []string {
	r := []rune(s)
	if len(r) <= width {
		return []string{s}
	}

	var lines []string
	for len(r) > 0 {
		if len(r) <= width {
			lines = append(lines, string(r))
			break
		}
		// Try to break at a space at or before position width.
		cut := -1
		for i := width; i > 0; i-- {
			if r[i] == ' ' {
				cut = i
				break
			}
		}
		if cut <= 0 {
			cut = width
			lines = append(lines, string(r[:cut]))
			r = r[cut:]
		} else {
			lines = append(lines, string(r[:cut]))
			r = r[cut+1:] // skip the space
		}
	}
	return lines
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func shortDuration(d time.Duration) string {
	if d < 0 {
		return "0s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
