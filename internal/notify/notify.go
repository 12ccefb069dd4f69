// Package notify delivers agent-facing notifications (assignments, closures,
// queue updates) to chat platforms.
package notify

import "context"

// Severities understood by the adapters' color mapping.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
	SeveritySuccess = "success"
)

// Sidebar color hints shared by the adapters.
const (
	ColorInfo    = "#439fe0"
	ColorWarning = "#e8a317"
	ColorError   = "#d00000"
	ColorSuccess = "#36a64f"
)

// Field is a key-value pair displayed alongside a notification.
type Field struct {
	Name  string
	Value string
}

// Notification is one agent-facing notice.
type Notification struct {
	Title    string
	Body     string
	Severity string // info, warning, error, success
	Fields   []Field
}

// Notifier posts notifications to a chat platform. Implementations are
// post-only: Switchboard notifies agents over these channels, it does not
// take commands from them.
type Notifier interface {
	Post(ctx context.Context, n Notification) error
}

// severityColor maps a severity to its sidebar color hint.
func severityColor(severity string) string {
	switch severity {
	case SeverityWarning:
		return ColorWarning
	case SeverityError:
		return ColorError
	case SeveritySuccess:
		return ColorSuccess
	default:
		return ColorInfo
	}
}
