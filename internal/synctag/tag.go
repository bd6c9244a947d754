// Package synctag records the engine's last push time per file. Text files
// carry the record inline as a YAML front-matter key; binary files, which
// cannot be annotated, use a sidecar index instead.
package synctag

import (
	"bytes"
	"strings"
	"time"
)

// TagKey is the front-matter key holding the last push time.
const TagKey = "last-synced"

const frontMatterDelim = "---"

// ExtractTimestamp reads the last push time from the content's front matter.
func ExtractTimestamp(content []byte) (time.Time, bool) {
	block, _, ok := splitFrontMatter(content)
	if !ok {
		return time.Time{}, false
	}

	for _, line := range strings.Split(block, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found || strings.TrimSpace(key) != TagKey {
			continue
		}
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// ApplyTimestamp returns the content with the tag set to t. An existing tag
// line is replaced in place; otherwise the tag is added to the front matter,
// creating the block when the file has none. Seconds precision, UTC.
func ApplyTimestamp(content []byte, t time.Time) []byte {
	stamp := TagKey + ": " + t.UTC().Truncate(time.Second).Format(time.RFC3339)

	block, body, ok := splitFrontMatter(content)
	if !ok {
		var buf bytes.Buffer
		buf.WriteString(frontMatterDelim + "\n")
		buf.WriteString(stamp + "\n")
		buf.WriteString(frontMatterDelim + "\n")
		buf.Write(content)
		return buf.Bytes()
	}

	lines := strings.Split(block, "\n")
	replaced := false
	for i, line := range lines {
		key, _, found := strings.Cut(line, ":")
		if found && strings.TrimSpace(key) == TagKey {
			lines[i] = stamp
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, stamp)
	}

	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim + "\n")
	buf.WriteString(strings.Join(lines, "\n"))
	buf.WriteString("\n" + frontMatterDelim + "\n")
	buf.Write(body)
	return buf.Bytes()
}

// splitFrontMatter separates the front-matter block (without delimiters) from
// the body. ok is false when the content has no front matter.
func splitFrontMatter(content []byte) (block string, body []byte, ok bool) {
	text := string(content)
	if !strings.HasPrefix(text, frontMatterDelim+"\n") {
		return "", nil, false
	}

	rest := text[len(frontMatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontMatterDelim+"\n")
	if end < 0 {
		// Closing delimiter at EOF without trailing newline.
		if strings.HasSuffix(rest, "\n"+frontMatterDelim) {
			return rest[:len(rest)-len(frontMatterDelim)-1], nil, true
		}
		return "", nil, false
	}

	block = rest[:end]
	body = []byte(rest[end+len(frontMatterDelim)+2:])
	return block, body, true
}
