//go:build darwin

package notify

import (
	"fmt"
	"os/exec"
	"strings"
)

type darwinNotifier struct{}

func newPlatformNotifier() Notifier {
	return &darwinNotifier{}
}

func (d *darwinNotifier) Send(n Notification) error {
	script := fmt.Sprintf("display notification %q with title %q",
		strings.ReplaceAll(n.Message, `"`, `\"`),
		strings.ReplaceAll(n.Title, `"`, `\"`))
	return exec.Command("osascript", "-e", script).Run()
}

func (d *darwinNotifier) Name() string { return "darwin" }
