package render

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/local/flipbook/internal/document"
)

// Text extracts the narration text of a page: raw page text with page-number lines,
// running headers/footers and symbol-only noise removed, and wrapped lines rejoined.
func (r *Renderer) Text(ctx context.Context, h *document.Handle, index int) (string, error) {
	if err := CheckIndex(h, index); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := h.Document().Text(index)
	if err != nil {
		return "", fmt.Errorf("text page %d: %w", index, err)
	}
	return CleanText(raw, index), nil
}

// CleanText normalises raw extracted text for speech.
func CleanText(text string, page int) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isPageNumber(trimmed, page) || isNoise(trimmed) {
			continue
		}
		lines = append(lines, trimmed)
	}
	// Running headers and footers only occur at the page edges.
	kept := lines[:0]
	for i, line := range lines {
		if (i == 0 || i == len(lines)-1) && isHeaderFooter(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(joinWrapped(kept))
}

func isPageNumber(line string, page int) bool {
	n := strconv.Itoa(page)
	if line == n {
		return true
	}
	for _, p := range []string{"Page " + n, "- " + n + " -", "[" + n + "]"} {
		if strings.EqualFold(line, p) {
			return true
		}
	}
	return false
}

func isHeaderFooter(line string) bool {
	if len(line) < 3 {
		return true
	}
	if len(line) < 50 && strings.ToUpper(line) == line && len(strings.Fields(line)) <= 2 {
		return true
	}
	upper := strings.ToUpper(line)
	for _, p := range []string{"CONFIDENTIAL", "COPYRIGHT", "ALL RIGHTS RESERVED", "PROPRIETARY"} {
		if strings.Contains(upper, p) && len(line) < 100 {
			return true
		}
	}
	return false
}

func isNoise(line string) bool {
	for _, r := range line {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// joinWrapped merges a line into the previous one when the previous line does not end a
// sentence and the next one starts in lower case.
func joinWrapped(lines []string) string {
	var out []string
	for _, line := range lines {
		if n := len(out); n > 0 {
			prev := out[n-1]
			last := prev[len(prev)-1]
			ends := strings.ContainsRune(".!?:;", rune(last))
			first := []rune(line)[0]
			if !ends && unicode.IsLower(first) {
				if strings.HasSuffix(prev, "-") {
					out[n-1] = strings.TrimSuffix(prev, "-") + line
				} else {
					out[n-1] = prev + " " + line
				}
				continue
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
