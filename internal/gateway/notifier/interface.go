package notifier

// TextNotifier is the small surface components depend on to push alerts
// without importing a concrete channel.
type TextNotifier interface {
	SendText(text string) error
}

// Noop drops every message. It stands in when Telegram is disabled.
type Noop struct{}

func (Noop) SendText(string) error { return nil }
