// Package ui holds the small terminal presentation helpers shared by the
// CLI commands.
package ui

import (
	"fmt"
	"strings"
)

func ShowHeader(title string) {
	fmt.Printf(" %s\n", strings.Repeat("─", len(title)+2))
	fmt.Printf(" %s\n", title)
	fmt.Printf(" %s\n", strings.Repeat("─", len(title)+2))
}

func ShowSuccess(format string, args ...interface{}) {
	fmt.Printf(" ✓ %s\n", fmt.Sprintf(format, args...))
}

func ShowWarning(format string, args ...interface{}) {
	fmt.Printf(" ! %s\n", fmt.Sprintf(format, args...))
}

func ShowInfo(format string, args ...interface{}) {
	fmt.Printf(" ℹ %s\n", fmt.Sprintf(format, args...))
}
