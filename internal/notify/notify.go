// Package notify delivers escalation and lifecycle notifications to the
// developer through desktop notifications and webhooks.
package notify

import "strings"

// Notification is one message to deliver.
type Notification struct {
	Title   string
	Message string
}

// Notifier sends notifications.
type Notifier interface {
	Send(n Notification) error
	Name() string
}

// NewDesktopNotifier returns the platform's desktop notification sender.
func NewDesktopNotifier() Notifier {
	return newPlatformNotifier()
}

// MultiNotifier fans a notification out to several notifiers. Every
// notifier is attempted; the first error is returned.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a MultiNotifier from the given notifiers.
func NewMultiNotifier(ns ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: ns}
}

// Send dispatches the notification to all registered notifiers.
func (m *MultiNotifier) Send(n Notification) error {
	var firstErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Name identifies the combined notifier.
func (m *MultiNotifier) Name() string {
	names := make([]string, len(m.notifiers))
	for i, n := range m.notifiers {
		names[i] = n.Name()
	}
	return "multi(" + strings.Join(names, ",") + ")"
}
