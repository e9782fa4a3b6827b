package ftp

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Reply is one control-channel response: a code and one or more lines.
type Reply struct {
	Code  int
	Lines []string
}

// NewReply builds a reply.
func NewReply(code int, lines ...string) Reply {
	return Reply{Code: code, Lines: lines}
}

// decodeLine turns raw control-channel bytes into a normalized string:
// UTF-8 when valid, Latin-1 otherwise, then NFC.
func decodeLine(raw []byte) string {
	var s string
	if utf8.Valid(raw) {
		s = string(raw)
	} else {
		runes := make([]rune, len(raw))
		for i, b := range raw {
			runes[i] = rune(b)
		}
		s = string(runes)
	}
	return norm.NFC.String(s)
}

// parseCommand splits a decoded line into a lowercased verb and the rest.
func parseCommand(line string) (verb, rest string) {
	line = strings.TrimRight(line, "\r\n")
	verb, rest, _ = strings.Cut(line, " ")
	return strings.ToLower(verb), rest
}

// sanitizeOutput makes a string safe to put on the wire: invalid UTF-8 is
// NFC-normalized with control characters (except CR, LF, TAB) stripped
// and invalid sequences replaced.
func sanitizeOutput(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == utf8.RuneError {
			b.WriteRune(unicode.ReplacementChar)
			continue
		}
		if unicode.IsControl(r) && r != '\r' && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// formatReply renders a reply per the FTP multi-line convention:
// "code-first", continuation lines with a leading space, "code last".
func formatReply(r Reply) string {
	lines := r.Lines
	if len(lines) == 0 {
		lines = []string{""}
	}

	var b strings.Builder
	if len(lines) == 1 {
		fmt.Fprintf(&b, "%d %s\r\n", r.Code, sanitizeOutput(lines[0]))
		return b.String()
	}

	fmt.Fprintf(&b, "%d-%s\r\n", r.Code, sanitizeOutput(lines[0]))
	for _, line := range lines[1 : len(lines)-1] {
		fmt.Fprintf(&b, " %s\r\n", sanitizeOutput(line))
	}
	fmt.Fprintf(&b, "%d %s\r\n", r.Code, sanitizeOutput(lines[len(lines)-1]))
	return b.String()
}
