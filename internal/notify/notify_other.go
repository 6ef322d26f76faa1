//go:build !linux && !darwin

package notify

type noopNotifier struct{}

func newPlatformNotifier() Notifier {
	return &noopNotifier{}
}

func (noopNotifier) Send(Notification) error { return nil }

func (noopNotifier) Name() string { return "noop" }
