package artifact

import "strings"

// NormalizeIndentation removes the indentation a generator adds when it
// nests a payload inside formatted markup. The indent width is taken from
// the first non-blank line after the first line; up to that many leading
// spaces are removed from every line after the first. The first line is
// left untouched.
func NormalizeIndentation(s string) string {
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}

	indent := 0
	for _, line := range lines[1:] {
		trimmed := strings.TrimLeft(line, " ")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		indent = len(line) - len(trimmed)
		break
	}
	if indent == 0 {
		return s
	}

	for i := 1; i < len(lines); i++ {
		lines[i] = stripSpaces(lines[i], indent)
	}
	return strings.Join(lines, "\n")
}

func stripSpaces(line string, n int) string {
	i := 0
	for i < n && i < len(line) && line[i] == ' ' {
		i++
	}
	return line[i:]
}
