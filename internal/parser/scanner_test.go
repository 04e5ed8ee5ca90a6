package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLines(t *testing.T) {
	t.Run("Skips blank lines and keeps physical line numbers", func(t *testing.T) {
		lines, err := ReadLines(strings.NewReader("a\r\n\n  \nb\n"), EncodingUTF8)
		require.NoError(t, err)
		assert.Equal(t, []Line{{No: 1, Text: "a"}, {No: 4, Text: "b"}}, lines)
	})

	t.Run("Transcodes windows-1257", func(t *testing.T) {
		lines, err := ReadLines(strings.NewReader("#R\xeega#;#C\xe7sis#\n"), EncodingWindows1257)
		require.NoError(t, err)
		require.Len(t, lines, 1)
		assert.Equal(t, []string{"Rīga", "Cēsis"}, SplitLine(lines[0].Text))
	})

	t.Run("Rejects unknown encodings", func(t *testing.T) {
		_, err := ReadLines(strings.NewReader("a"), "ebcdic")
		assert.Error(t, err)
	})

	t.Run("Flags an oversized line and keeps reading", func(t *testing.T) {
		long := strings.Repeat("x", MaxLineLength+10)
		lines, err := ReadLines(strings.NewReader("a\n"+long+"\r\nb"), EncodingUTF8)
		require.NoError(t, err)
		require.Len(t, lines, 3)

		assert.Equal(t, Line{No: 1, Text: "a"}, lines[0])
		assert.True(t, lines[1].Truncated)
		assert.Equal(t, 2, lines[1].No)
		assert.Len(t, lines[1].Text, MaxLineLength)
		assert.Equal(t, Line{No: 3, Text: "b"}, lines[2])
	})

	t.Run("Keeps a line of exactly the maximum length", func(t *testing.T) {
		exact := strings.Repeat("y", MaxLineLength)
		lines, err := ReadLines(strings.NewReader(exact+"\n"), EncodingUTF8)
		require.NoError(t, err)
		require.Len(t, lines, 1)
		assert.False(t, lines[0].Truncated)
		assert.Len(t, lines[0].Text, MaxLineLength)
	})

	t.Run("Empty input", func(t *testing.T) {
		lines, err := ReadLines(strings.NewReader(""), "")
		require.NoError(t, err)
		assert.Empty(t, lines)
	})
}
