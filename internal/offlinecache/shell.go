package offlinecache

import (
	"bytes"
	"regexp"
	"strings"
)

// dataPageAttr matches the initial-state attribute the page framework renders into
// the root element. Its value is already entity-escaped, so it never holds a raw quote.
var dataPageAttr = regexp.MustCompile(`data-page="[^"]*"`)

var attrEscaper = strings.NewReplacer("&", "&amp;", `"`, "&quot;", "'", "&#039;")

// Synthesize boots the shell into another view by swapping its initial-state
// attribute for payload. A shell without the attribute is returned unchanged.
func Synthesize(shell, payload []byte) []byte {
	loc := dataPageAttr.FindIndex(shell)
	if loc == nil {
		return append([]byte(nil), shell...)
	}
	var out bytes.Buffer
	out.Grow(len(shell) + len(payload))
	out.Write(shell[:loc[0]])
	out.WriteString(`data-page="`)
	out.WriteString(attrEscaper.Replace(string(payload)))
	out.WriteByte('"')
	out.Write(shell[loc[1]:])
	return out.Bytes()
}
