package artifact

import "strings"

// openTag is an opening tag located in the buffer. When complete is false
// the buffer ends inside the tag and only start is meaningful.
type openTag struct {
	name        string
	attrs       map[string]string // keys lowercased
	start       int               // index of '<'
	end         int               // index just past '>'
	selfClosing bool
	complete    bool
	variant     bool
}

func isNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '-' || c == ':' || c == '.'
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// nextOpen finds the first opening tag of family f at or after pos. It
// returns ok=false when there is none. If the buffer ends before a
// candidate tag is finished, it returns that candidate with complete=false
// and the caller must stop scanning.
func nextOpen(buf string, pos int, f family) (openTag, bool) {
	for pos < len(buf) {
		i := strings.IndexByte(buf[pos:], '<')
		if i < 0 {
			return openTag{}, false
		}
		start := pos + i
		j := start + 1
		if j == len(buf) {
			return openTag{start: start}, true
		}
		if !isLetter(buf[j]) {
			pos = j
			continue
		}
		k := j
		for k < len(buf) && isNameByte(buf[k]) {
			k++
		}
		if k == len(buf) {
			return openTag{start: start}, true
		}
		name := buf[j:k]
		ok, variant := f.match(name)
		if !ok {
			pos = k
			continue
		}
		tag, complete := scanAttrs(buf, k)
		tag.name = name
		tag.start = start
		tag.variant = variant
		tag.complete = complete
		return tag, true
	}
	return openTag{}, false
}

// scanAttrs reads attributes from i up to and including the closing '>'
// (or "/>"). Values may be double-quoted, single-quoted or bare; a '>'
// inside quotes does not end the tag. The first occurrence of a key wins.
func scanAttrs(buf string, i int) (openTag, bool) {
	tag := openTag{attrs: make(map[string]string)}
	for {
		for i < len(buf) && isSpace(buf[i]) {
			i++
		}
		if i >= len(buf) {
			return tag, false
		}
		switch buf[i] {
		case '>':
			tag.end = i + 1
			return tag, true
		case '/':
			if i+1 >= len(buf) {
				return tag, false
			}
			if buf[i+1] == '>' {
				tag.end = i + 2
				tag.selfClosing = true
				return tag, true
			}
			i++
			continue
		}

		keyStart := i
		for i < len(buf) && !isSpace(buf[i]) && buf[i] != '=' && buf[i] != '>' && buf[i] != '/' {
			i++
		}
		key := strings.ToLower(buf[keyStart:i])
		for i < len(buf) && isSpace(buf[i]) {
			i++
		}
		if i >= len(buf) {
			return tag, false
		}
		if buf[i] != '=' {
			// Valueless attribute.
			if _, seen := tag.attrs[key]; !seen {
				tag.attrs[key] = ""
			}
			continue
		}
		i++
		for i < len(buf) && isSpace(buf[i]) {
			i++
		}
		if i >= len(buf) {
			return tag, false
		}

		var value string
		if q := buf[i]; q == '"' || q == '\'' {
			end := strings.IndexByte(buf[i+1:], q)
			if end < 0 {
				return tag, false
			}
			value = buf[i+1 : i+1+end]
			i += end + 2
		} else {
			valStart := i
			for i < len(buf) && !isSpace(buf[i]) && buf[i] != '>' {
				i++
			}
			value = buf[valStart:i]
		}
		if _, seen := tag.attrs[key]; !seen {
			tag.attrs[key] = value
		}
	}
}

// findClose locates "</name>" (whitespace allowed before '>') at or after
// pos. It returns the index of '<' and the index just past '>'.
func findClose(buf string, pos int, name string) (start, end int, ok bool) {
	needle := "</" + name
	for pos < len(buf) {
		i := strings.Index(buf[pos:], needle)
		if i < 0 {
			return 0, 0, false
		}
		start = pos + i
		k := start + len(needle)
		if k < len(buf) && isNameByte(buf[k]) {
			pos = k
			continue
		}
		for k < len(buf) && isSpace(buf[k]) {
			k++
		}
		if k >= len(buf) {
			return 0, 0, false
		}
		if buf[k] == '>' {
			return start, k + 1, true
		}
		pos = k
	}
	return 0, 0, false
}

// trimPartialTag drops a closing tag that is still arriving at the end of
// s: a lone '<', or "</" followed only by name characters. This keeps the
// content of a streaming action a prefix of its final content.
func trimPartialTag(s string) string {
	i := strings.LastIndexByte(s, '<')
	if i < 0 {
		return s
	}
	rest := s[i+1:]
	if rest == "" {
		return s[:i]
	}
	if rest[0] != '/' {
		return s
	}
	rest = rest[1:]
	n := 0
	for n < len(rest) && isNameByte(rest[n]) {
		n++
	}
	for n < len(rest) && isSpace(rest[n]) && n > 0 {
		n++
	}
	if n != len(rest) {
		return s
	}
	return s[:i]
}
