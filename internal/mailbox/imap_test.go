package mailbox

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestMakeSnippetCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", makeSnippet("a\n b\t\tc"))
}

func TestMakeSnippetShortTextUnchanged(t *testing.T) {
	assert.Equal(t, "short", makeSnippet("short"))
}

func TestMakeSnippetTruncatesOnRuneBoundary(t *testing.T) {
	text := strings.Repeat("界", 100)
	got := makeSnippet(text)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), snippetLength)
	assert.NotEmpty(t, got)
}

func TestDisplayNameOf(t *testing.T) {
	assert.Equal(t, "Inbox", displayNameOf("INBOX"))
	assert.Equal(t, "Receipts", displayNameOf("Archive/Receipts"))
	assert.Equal(t, "Sent", displayNameOf("Sent"))
}

func TestParseUID(t *testing.T) {
	uid, err := parseUID("42")
	assert.NoError(t, err)
	assert.Equal(t, uint32(42), uid)

	_, err = parseUID("not-a-uid")
	assert.Error(t, err)
}
