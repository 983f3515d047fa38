package edit

import (
	"fmt"
	"strings"
)

// Diff renders a compact line diff for previews: the changed block with a
// few lines of context, old lines prefixed "-", new lines "+". It trims
// the common prefix and suffix rather than computing a minimal edit
// script; previews only need to show the reviewer what region changed.
func Diff(path, oldText, newText string) string {
	if oldText == newText {
		return ""
	}

	oldLines := splitLines(oldText)
	newLines := splitLines(newText)

	prefix := 0
	for prefix < len(oldLines) && prefix < len(newLines) && oldLines[prefix] == newLines[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(oldLines)-prefix && suffix < len(newLines)-prefix &&
		oldLines[len(oldLines)-1-suffix] == newLines[len(newLines)-1-suffix] {
		suffix++
	}

	oldChanged := oldLines[prefix : len(oldLines)-suffix]
	newChanged := newLines[prefix : len(newLines)-suffix]

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", path, path)
	fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", prefix+1, len(oldChanged), prefix+1, len(newChanged))

	const context = 2
	ctxStart := prefix - context
	if ctxStart < 0 {
		ctxStart = 0
	}
	for _, l := range oldLines[ctxStart:prefix] {
		b.WriteString(" " + l + "\n")
	}
	for _, l := range oldChanged {
		b.WriteString("-" + l + "\n")
	}
	for _, l := range newChanged {
		b.WriteString("+" + l + "\n")
	}
	ctxEnd := prefix + len(oldChanged) + context
	if ctxEnd > len(oldLines) {
		ctxEnd = len(oldLines)
	}
	for _, l := range oldLines[prefix+len(oldChanged) : ctxEnd] {
		b.WriteString(" " + l + "\n")
	}
	return b.String()
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
