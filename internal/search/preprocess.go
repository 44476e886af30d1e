package search

import (
	"bufio"
	"strings"
)

// DefaultStopwords are dropped from letters and queries before ranking.
var DefaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "dear", "for", "from",
	"i", "in", "is", "it", "me", "my", "of", "on", "or", "our", "please",
	"regards", "the", "to", "us", "we", "with", "you", "your",
}

// PrepareLetter returns the searchable text of a letter: the subject followed
// by the body lines that carry content.
//
// Notes:
//   - Quoted reply lines ("> ...") and "On ... wrote:" headers are dropped.
//   - Everything after a signature delimiter ("--" or "-- ") is dropped.
//   - Markdown table rows are flattened to their cell text; separator rows vanish.
func PrepareLetter(subject, body string) string {
	var b strings.Builder
	if s := strings.TrimSpace(subject); s != "" {
		b.WriteString(s)
	}
	emit := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(s)
	}

	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		raw := sc.Text()
		if raw == "--" || raw == "-- " {
			break
		}
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, ">"):
			continue
		case strings.HasPrefix(line, "On ") && strings.HasSuffix(line, "wrote:"):
			continue
		case strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|"):
			emit(tableRow(line))
		default:
			emit(line)
		}
	}
	// A line longer than the scanner buffer ends the scan; what was read is kept.
	return b.String()
}

// tableRow joins the non-empty cells of a markdown row, or returns "" for a
// separator row such as "|---|:---:|".
func tableRow(line string) string {
	cols := strings.Split(strings.Trim(line, "|"), "|")
	cells := make([]string, 0, len(cols))
	allSep := true
	for _, c := range cols {
		cell := strings.TrimSpace(c)
		if cell != "" {
			cells = append(cells, cell)
		}
		if strings.Trim(cell, ":- ") != "" {
			allSep = false
		}
	}
	if allSep {
		return ""
	}
	return strings.Join(cells, " ")
}
