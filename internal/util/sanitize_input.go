package util

import (
	"html"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"
)

// SanitizeInput trims s and escapes HTML special characters, quotes included.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// CharCount returns the number of characters (runes) in s.
func CharCount(s string) int {
	return utf8.RuneCountInString(s)
}

// ClientIP extracts the peer address of r without the port.
// Proxy headers are only honoured when a RealIP middleware rewrote RemoteAddr upstream.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// WordWrap breaks text at spaces so that no line exceeds width, leaving words
// longer than width intact. Existing newlines are preserved.
func WordWrap(text string, width int) string {
	if width <= 0 {
		return text
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = wrapLine(line, width)
	}
	return strings.Join(lines, "\n")
}

func wrapLine(line string, width int) string {
	if CharCount(line) <= width {
		return line
	}

	var b strings.Builder
	lineLen := 0
	for i, word := range strings.Split(line, " ") {
		wordLen := CharCount(word)
		switch {
		case i == 0:
		case lineLen+1+wordLen > width:
			b.WriteByte('\n')
			lineLen = 0
		default:
			b.WriteByte(' ')
			lineLen++
		}
		b.WriteString(word)
		lineLen += wordLen
	}
	return b.String()
}
