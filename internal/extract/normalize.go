package extract

import (
	"regexp"
	"strings"
)

// TableFence delimits table-like regions so a language model keeps them preformatted.
const TableFence = "```"

var (
	hyphenWrapRegex  = regexp.MustCompile(`(\p{L})-\n[ \t]*(\p{L})`)
	blankRunRegex    = regexp.MustCompile(`\n{3,}`)
	columnGapRegex   = regexp.MustCompile(`\s{2,}`)
	separatorRowRune = "-"
)

// Normalize cleans extracted page text: carriage returns are removed, trailing
// whitespace is trimmed per line, hyphenated line wraps are rejoined and runs
// of blank lines collapse to a single blank line.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r", "")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\f\v")
	}
	text = strings.Join(lines, "\n")

	text = hyphenWrapRegex.ReplaceAllString(text, "$1$2")
	text = blankRunRegex.ReplaceAllString(text, "\n\n")

	return strings.Trim(text, "\n")
}

// FenceTables wraps contiguous runs of table-row-like lines in fenced blocks.
// A run made only of separator rows is left alone.
func FenceTables(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines)+4)

	for i := 0; i < len(lines); {
		if !IsTableRow(lines[i]) {
			out = append(out, lines[i])
			i++
			continue
		}

		j := i
		hasDataRow := false
		for j < len(lines) && IsTableRow(lines[j]) {
			if !isSeparatorRow(lines[j]) {
				hasDataRow = true
			}
			j++
		}

		if hasDataRow {
			out = append(out, TableFence)
			out = append(out, lines[i:j]...)
			out = append(out, TableFence)
		} else {
			out = append(out, lines[i:j]...)
		}
		i = j
	}

	return strings.Join(out, "\n")
}

// IsTableRow reports whether a line looks like part of a table: pipe-delimited
// cells, a dashed separator row, or two or more wide whitespace gaps between tokens.
func IsTableRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if strings.Count(trimmed, "|") >= 2 {
		return true
	}
	if isSeparatorRow(trimmed) {
		return true
	}
	return len(columnGapRegex.FindAllStringIndex(trimmed, -1)) >= 2
}

func isSeparatorRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	if strings.Count(trimmed, separatorRowRune) < 3 {
		return false
	}
	return strings.Trim(trimmed, "- \t") == ""
}
