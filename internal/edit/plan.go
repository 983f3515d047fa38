package edit

import (
	"fmt"
	"strings"
)

// Size gates above which deleting a file demands a confirmation hash.
const (
	deleteConfirmBytes = 10_000
	deleteConfirmLines = 100
)

// applyToText applies one replace-operation edit to a file's text and
// returns the new text. Insert modes position the replacement relative to
// a line range; everything else goes through the matcher.
func applyToText(text string, ed Edit) (string, error) {
	if ed.InsertMode != InsertNone {
		return applyInsert(text, ed)
	}

	m, err := Locate(text, ed)
	if err != nil {
		return "", err
	}
	return text[:m.Start] + ed.ReplacementString + text[m.End:], nil
}

func applyInsert(text string, ed Edit) (string, error) {
	if ed.InsertLineRange == nil {
		return "", fmt.Errorf("%w: insert_line_range", ErrMissingParameter)
	}
	r := *ed.InsertLineRange
	if r.End == 0 {
		r.End = r.Start
	}

	lines := strings.SplitAfter(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if r.Start < 1 || r.Start > len(lines)+1 || r.End < r.Start {
		return "", fmt.Errorf("invalid insert_line_range %d-%d for %d-line file", r.Start, r.End, len(lines))
	}

	body := ed.ReplacementString
	if body != "" && !strings.HasSuffix(body, "\n") {
		body += "\n"
	}

	var b strings.Builder
	switch ed.InsertMode {
	case InsertBefore:
		writeLines(&b, lines[:r.Start-1])
		b.WriteString(body)
		writeLines(&b, lines[r.Start-1:])
	case InsertAfter:
		end := r.End
		if end > len(lines) {
			end = len(lines)
		}
		writeLines(&b, lines[:end])
		ensureTrailingNewline(&b)
		b.WriteString(body)
		writeLines(&b, lines[end:])
	case InsertAt:
		// "at" replaces the addressed lines.
		if r.End > len(lines) {
			return "", fmt.Errorf("insert_line_range end %d beyond %d-line file", r.End, len(lines))
		}
		writeLines(&b, lines[:r.Start-1])
		b.WriteString(body)
		writeLines(&b, lines[r.End:])
	default:
		return "", fmt.Errorf("unknown insert_mode %q", ed.InsertMode)
	}
	return b.String(), nil
}

func writeLines(b *strings.Builder, lines []string) {
	for _, l := range lines {
		b.WriteString(l)
	}
}

// ensureTrailingNewline separates an appended body from a final line that
// has no newline of its own.
func ensureTrailingNewline(b *strings.Builder) {
	s := b.String()
	if s != "" && !strings.HasSuffix(s, "\n") {
		b.WriteByte('\n')
	}
}

// checkDeleteSafety enforces the confirmation gate on large deletions.
// safety_level "force" bypasses the size gate only: a confirmation hash
// that is present but wrong still fails, forced or not.
func checkDeleteSafety(ed Edit, content []byte, currentHash string) error {
	if ed.ConfirmationHash != "" && ed.ConfirmationHash != currentHash {
		return fmt.Errorf("confirmation_hash: %w", ErrHashMismatch)
	}

	big := len(content) > deleteConfirmBytes || strings.Count(string(content), "\n")+1 > deleteConfirmLines
	if !big || ed.SafetyLevel == "force" {
		return nil
	}
	if ed.ConfirmationHash == "" {
		return fmt.Errorf("%w: confirmation_hash required to delete %d bytes", ErrMissingParameter, len(content))
	}
	return nil
}
