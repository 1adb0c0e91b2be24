// Package logger renders live room activity to the console and an optional
// session log file. It subscribes to the notification emitter and formats
// messages, membership changes, typing indicators, and presence updates with
// a stable per-sender color.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/shawkym/matrixsync/pkg/emitter"
	"github.com/shawkym/matrixsync/pkg/event"
)

type EventLogger struct {
	logFile      *os.File
	console      io.Writer
	senderColors map[string]lipgloss.Style
	colorIndex   int
	termWidth    int
	subs         []*emitter.Subscription
}

var colors = []lipgloss.Color{
	lipgloss.Color("63"),  // Blue
	lipgloss.Color("212"), // Pink
	lipgloss.Color("86"),  // Green
	lipgloss.Color("214"), // Orange
	lipgloss.Color("99"),  // Purple
	lipgloss.Color("51"),  // Cyan
	lipgloss.Color("226"), // Yellow
	lipgloss.Color("201"), // Magenta
}

var (
	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Italic(true)

	systemBadgeStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("235")).
				Foreground(lipgloss.Color("244")).
				Padding(0, 1).
				MarginRight(1)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	roomStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))
)

// NewEventLogger creates an event logger. When logDir is non-empty a
// timestamped session log file is created inside it; console output goes to
// console (may be nil for file-only logging).
func NewEventLogger(logDir string, console io.Writer) (*EventLogger, error) {
	if logDir == "" {
		return &EventLogger{
			console:      console,
			senderColors: make(map[string]lipgloss.Style),
			termWidth:    80,
		}, nil
	}

	// Create log directory if it doesn't exist
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Create log file with timestamp
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logDir, fmt.Sprintf("session_%s.log", timestamp))

	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := &EventLogger{
		logFile:      logFile,
		console:      console,
		senderColors: make(map[string]lipgloss.Style),
		termWidth:    80,
	}

	// Write header to log file
	logger.writeToFile("=== matrixsync Session Log ===\n")
	logger.writeToFile("Started: " + time.Now().Format("2006-01-02 15:04:05") + "\n")
	logger.writeToFile("==============================\n\n")

	if console != nil {
		fmt.Fprintf(console, "\n📝 Session logged to: %s\n", logPath)
	}

	return logger, nil
}

// Attach subscribes the logger to the notification channels it renders. Call
// Close to cancel the subscriptions.
func (l *EventLogger) Attach(em *emitter.Emitter) {
	l.subs = append(l.subs,
		em.On(emitter.Room, func(n emitter.Notification) {
			l.logSystem(fmt.Sprintf("tracking room %s", n.Room.ID))
		}),
		em.On(emitter.RoomName, func(n emitter.Notification) {
			l.logSystem(fmt.Sprintf("room %s renamed to %q", n.Room.ID, n.Room.Name()))
		}),
		em.On(emitter.RoomTimeline, func(n emitter.Notification) {
			if n.Event.Type == event.TypeMessage {
				l.logMessage(n)
			}
		}),
		em.On(emitter.StateNewMember, func(n emitter.Notification) {
			l.logSystem(fmt.Sprintf("%s joined the roster of %s", n.Member.UserID, n.Member.RoomID))
		}),
		em.On(emitter.MemberMembership, func(n emitter.Notification) {
			l.logSystem(fmt.Sprintf("%s is now %s in %s", n.Member.UserID, n.Member.Membership, n.Member.RoomID))
		}),
		em.On(emitter.MemberTyping, func(n emitter.Notification) {
			if n.Member.Typing {
				l.logSystem(fmt.Sprintf("%s is typing in %s", n.Member.UserID, n.Member.RoomID))
			} else {
				l.logSystem(fmt.Sprintf("%s stopped typing in %s", n.Member.UserID, n.Member.RoomID))
			}
		}),
		em.On(emitter.UserPresence, func(n emitter.Notification) {
			l.logSystem(fmt.Sprintf("%s is %s", n.User.ID, n.User.Presence))
		}),
		em.On(emitter.SessionLoggedOut, func(n emitter.Notification) {
			l.logError(fmt.Errorf("session terminated: access token rejected"))
		}),
	)
}

func (l *EventLogger) getSenderColor(sender string) lipgloss.Style {
	if style, exists := l.senderColors[sender]; exists {
		return style
	}

	// Assign a new color
	color := colors[l.colorIndex%len(colors)]
	l.colorIndex++

	style := lipgloss.NewStyle().
		Foreground(color).
		Bold(true)

	l.senderColors[sender] = style
	return style
}

func (l *EventLogger) getSenderBadgeStyle(sender string) lipgloss.Style {
	if style, exists := l.senderColors[sender]; exists {
		color := style.GetForeground()
		return lipgloss.NewStyle().
			Background(color).
			Foreground(lipgloss.Color("0")).
			Bold(true).
			Padding(0, 1).
			MarginRight(1)
	}

	// Default badge
	return lipgloss.NewStyle().
		Background(lipgloss.Color("240")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1).
		MarginRight(1)
}

func (l *EventLogger) logMessage(n emitter.Notification) {
	ev := n.Event
	timestamp := time.UnixMilli(ev.Timestamp).Format("15:04:05")
	body, _ := ev.Content["body"].(string)

	roomLabel := n.Room.ID
	if name := n.Room.Name(); name != "" {
		roomLabel = name
	}

	l.writeToFile(fmt.Sprintf("[%s] %s %s: %s\n", timestamp, roomLabel, ev.Sender, body))

	if l.console == nil {
		return
	}

	var output strings.Builder
	output.WriteString(timestampStyle.Render("🕐 " + timestamp + " "))
	output.WriteString(roomStyle.Render(roomLabel + " "))

	contentStyle := l.getSenderColor(ev.Sender)
	badgeStyle := l.getSenderBadgeStyle(ev.Sender)
	output.WriteString(badgeStyle.Render(" " + ev.Sender + " "))
	output.WriteString(contentStyle.Render(l.wrapText(body, 2)))
	output.WriteString("\n")

	fmt.Fprint(l.console, output.String())
}

func (l *EventLogger) logSystem(message string) {
	timestamp := time.Now().Format("15:04:05")

	l.writeToFile(fmt.Sprintf("[%s] -- %s\n", timestamp, message))

	if l.console == nil {
		return
	}

	var output strings.Builder
	output.WriteString(timestampStyle.Render("🕐 " + timestamp + " "))
	output.WriteString(systemBadgeStyle.Render(" SYNC "))
	output.WriteString(systemStyle.Render(message))
	output.WriteString("\n")

	fmt.Fprint(l.console, output.String())
}

func (l *EventLogger) logError(err error) {
	timestamp := time.Now().Format("15:04:05")

	l.writeToFile(fmt.Sprintf("[%s] ERROR: %v\n", timestamp, err))

	if l.console != nil {
		output := fmt.Sprintf("%s %s %v\n",
			timestampStyle.Render(fmt.Sprintf("[%s]", timestamp)),
			errorStyle.Render("ERROR"),
			err)
		fmt.Fprint(l.console, output)
	}
}

func (l *EventLogger) wrapText(text string, indent int) string {
	if l.termWidth <= 0 {
		return text
	}

	maxWidth := l.termWidth - indent - 2
	if maxWidth <= 20 {
		maxWidth = 20
	}

	lines := strings.Split(text, "\n")
	var wrapped []string
	indentStr := strings.Repeat(" ", indent)

	for i, line := range lines {
		if len(line) <= maxWidth {
			if i == 0 {
				wrapped = append(wrapped, line)
			} else {
				wrapped = append(wrapped, indentStr+line)
			}
			continue
		}

		// Wrap long lines at word boundaries
		words := strings.Fields(line)
		current := ""
		if i > 0 {
			current = indentStr
		}

		for _, word := range words {
			if len(current)+len(word)+1 > maxWidth {
				wrapped = append(wrapped, current)
				current = indentStr + word
			} else {
				if current != "" && current != indentStr {
					current += " "
				}
				current += word
			}
		}

		if current != "" {
			wrapped = append(wrapped, current)
		}
	}

	return strings.Join(wrapped, "\n")
}

func (l *EventLogger) writeToFile(content string) {
	if l.logFile != nil {
		if _, err := l.logFile.WriteString(content); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to log file: %v\n", err)
		}
		if err := l.logFile.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "Error syncing log file: %v\n", err)
		}
	}
}

// Close cancels the emitter subscriptions and closes the session log file.
func (l *EventLogger) Close() {
	for _, sub := range l.subs {
		sub.Cancel()
	}
	l.subs = nil

	if l.logFile != nil {
		l.writeToFile("\n=== Session Ended ===\n")
		l.writeToFile("Ended: " + time.Now().Format("2006-01-02 15:04:05") + "\n")
		l.logFile.Close()
		l.logFile = nil
	}
}
