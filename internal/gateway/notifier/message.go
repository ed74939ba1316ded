package notifier

import (
	"strconv"
	"strings"
	"time"
)

// Telegram rejects bodies over 4096 bytes; leave room for the ellipsis.
const maxStructuredMessageLen = 3800

const fence = "```"

// MessageSection is one titled block of a notification.
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage is the common layout for alerts: a header, sections in
// one code block, a footer and the event time.
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// RenderMarkdown renders the message and trims it to the Telegram limit.
func (m StructuredMessage) RenderMarkdown() string {
	parts := make([]string, 0, 4)
	if head := strings.TrimSpace(m.Icon + " " + m.Title); head != "" {
		parts = append(parts, head)
	}
	if block := m.sectionBlock(); block != "" {
		parts = append(parts, block)
	}
	var tail []string
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		tail = append(tail, escapeFence(footer))
	}
	if !m.Timestamp.IsZero() {
		tail = append(tail, "Time: "+m.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	if len(tail) > 0 {
		parts = append(parts, strings.Join(tail, "\n"))
	}
	body := strings.Join(parts, "\n\n")
	if len(body) > maxStructuredMessageLen {
		body = body[:maxStructuredMessageLen] + "..."
	}
	return body
}

// sectionBlock puts every non-empty section in a single fenced block.
func (m StructuredMessage) sectionBlock() string {
	var blocks []string
	for _, sec := range m.Sections {
		var rows []string
		for _, line := range sec.Lines {
			if line = strings.TrimSpace(line); line != "" {
				rows = append(rows, "- "+escapeFence(line))
			}
		}
		if len(rows) == 0 {
			continue
		}
		if title := strings.TrimSpace(sec.Title); title != "" {
			rows = append([]string{escapeFence(title)}, rows...)
		}
		blocks = append(blocks, strings.Join(rows, "\n"))
	}
	if len(blocks) == 0 {
		return ""
	}
	return fence + "\n" + strings.Join(blocks, "\n\n") + "\n" + fence
}

func escapeFence(s string) string {
	return strings.ReplaceAll(s, fence, "'''")
}

// CancellationFailure renders the alert raised when open orders could not be
// cancelled before a close.
func CancellationFailure(symbol string, attempts int, lastErr error, at time.Time) StructuredMessage {
	lines := []string{
		"symbol: " + symbol,
		"attempts: " + strconv.Itoa(attempts),
	}
	if lastErr != nil {
		lines = append(lines, "last error: "+lastErr.Error())
	}
	return StructuredMessage{
		Icon:  "🚨",
		Title: "Order cancellation failed",
		Sections: []MessageSection{
			{Title: "Details", Lines: lines},
		},
		Footer:    "Stale take-profit orders may still be live. Check the account manually.",
		Timestamp: at,
	}
}

// EngineStarted announces a new run of the engine and where it trades.
func EngineStarted(mode string, openPositions int, balance float64, at time.Time) StructuredMessage {
	return StructuredMessage{
		Icon:  "🟢",
		Title: "OI trader started",
		Sections: []MessageSection{{
			Title: "Status",
			Lines: []string{
				"mode: " + mode,
				"open positions: " + strconv.Itoa(openPositions),
				"balance: " + strconv.FormatFloat(balance, 'f', 2, 64) + " USDT",
			},
		}},
		Timestamp: at,
	}
}
