package ftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeLineUTF8(t *testing.T) {
	assert.Equal(t, "stor café.txt", decodeLine([]byte("stor café.txt")))
}

func TestDecodeLineLatin1Fallback(t *testing.T) {
	// 0xE9 is é in Latin-1 and invalid as a standalone UTF-8 byte.
	raw := []byte{'s', 't', 'o', 'r', ' ', 'c', 'a', 'f', 0xE9}
	assert.Equal(t, "stor café", decodeLine(raw))
}

func TestDecodeLineNormalizesNFC(t *testing.T) {
	// "é" as e + combining acute folds to the single codepoint.
	decomposed := "é"
	assert.Equal(t, "é", decodeLine([]byte(decomposed)))
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		verb string
		rest string
	}{
		{"USER alice\r\n", "user", "alice"},
		{"QUIT\r\n", "quit", ""},
		{"STOR my file.txt\r\n", "stor", "my file.txt"},
		{"MLSD\r\n", "mlsd", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		verb, rest := parseCommand(tt.line)
		assert.Equal(t, tt.verb, verb, tt.line)
		assert.Equal(t, tt.rest, rest, tt.line)
	}
}

func TestSanitizeOutputPassesValidUTF8(t *testing.T) {
	assert.Equal(t, "café.txt", sanitizeOutput("café.txt"))
}

func TestSanitizeOutputStripsControlBytes(t *testing.T) {
	out := sanitizeOutput("bad\x00name\xff")
	assert.NotContains(t, out, "\x00")
}

func TestFormatReplySingleLine(t *testing.T) {
	assert.Equal(t, "230 ok\r\n", formatReply(NewReply(230, "ok")))
}

func TestFormatReplyEmpty(t *testing.T) {
	assert.Equal(t, "200 \r\n", formatReply(NewReply(200)))
}

func TestFormatReplyMultiLine(t *testing.T) {
	got := formatReply(NewReply(211, "features:", "UTF8", "SIZE", "end"))
	want := "211-features:\r\n UTF8\r\n SIZE\r\n211 end\r\n"
	assert.Equal(t, want, got)
}
