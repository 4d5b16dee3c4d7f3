// Package render turns a child's raw console stream into display lines.
// Each read is one segment: plain output is committed line by line, while a
// chunk carrying carriage returns is a progress redraw that replaces the
// rewritable last line, so progress bars do not flood the scrollback.
package render

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxLines bounds the scrollback when New is given no limit.
const DefaultMaxLines = 5000

// Buffer holds committed lines and the rewritable tail line.
// It is not safe for concurrent use; one goroutine appends, and readers
// must be serialized with it by the owner.
type Buffer struct {
	maxLines int
	lines    []string
	// partial is the tail last drawn by a carriage-return chunk.
	partial string
	// carry keeps an incomplete UTF-8 sequence split across chunks.
	carry   []byte
	dropped int
	version uint64
}

// New returns an empty buffer keeping at most maxLines committed lines.
func New(maxLines int) *Buffer {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Buffer{maxLines: maxLines}
}

// Append feeds one chunk read from the child. A chunk without "\r" is
// committed as new lines after the tail. Otherwise every frame but the last
// is superseded and dropped, and the last frame replaces the tail; text
// after a "\n" inside that frame starts the next tail. Trailing "\r"s end a
// frame rather than start an empty one, and "\r\n" counts as "\n".
func (b *Buffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	data := chunk
	if len(b.carry) > 0 {
		data = append(append([]byte(nil), b.carry...), chunk...)
		b.carry = nil
	}
	data = b.holdIncomplete(data)
	if len(data) == 0 {
		return
	}
	text := strings.ToValidUTF8(string(data), "\uFFFD")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.Contains(text, "\r") {
		frames := strings.Split(strings.TrimRight(text, "\r"), "\r")
		b.redraw(frames[len(frames)-1])
	} else {
		b.appendLines(text)
	}
	b.version++
}

// appendLines commits text as its own lines. A leading "\n" only ends the
// open tail.
func (b *Buffer) appendLines(text string) {
	if b.partial != "" && strings.HasPrefix(text, "\n") {
		text = text[1:]
	}
	b.commitPartial()
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return
	}
	for _, line := range strings.Split(text, "\n") {
		b.commit(line)
	}
}

// redraw replaces the tail with frame.
func (b *Buffer) redraw(frame string) {
	parts := strings.Split(frame, "\n")
	b.partial = parts[0]
	for _, p := range parts[1:] {
		b.commitPartial()
		b.partial = p
	}
}

// holdIncomplete strips a trailing partial rune into carry.
func (b *Buffer) holdIncomplete(data []byte) []byte {
	start := len(data) - utf8.UTFMax
	if start < 0 {
		start = 0
	}
	for i := len(data) - 1; i >= start; i-- {
		if !utf8.RuneStart(data[i]) {
			continue
		}
		if !utf8.FullRune(data[i:]) {
			b.carry = append([]byte(nil), data[i:]...)
			return data[:i]
		}
		break
	}
	return data
}

func (b *Buffer) commitPartial() {
	if b.partial != "" {
		b.commit(b.partial)
	}
	b.partial = ""
}

func (b *Buffer) commit(line string) {
	b.lines = append(b.lines, line)
	if over := len(b.lines) - b.maxLines; over > 0 {
		b.lines = append([]string(nil), b.lines[over:]...)
		b.dropped += over
	}
}

// Flush commits the tail and any held bytes, e.g. once the child has exited.
func (b *Buffer) Flush() {
	if len(b.carry) > 0 {
		b.partial += strings.ToValidUTF8(string(b.carry), "\uFFFD")
		b.carry = nil
	}
	if b.partial != "" {
		b.commitPartial()
		b.version++
	}
}

// Reset clears everything.
func (b *Buffer) Reset() {
	*b = Buffer{maxLines: b.maxLines, version: b.version + 1}
}

// Committed returns a copy of the committed lines.
func (b *Buffer) Committed() []string {
	return append([]string(nil), b.lines...)
}

// Partial returns the rewritable tail line.
func (b *Buffer) Partial() string { return b.partial }

// Lines returns what a display shows: committed lines plus the tail when it
// has content.
func (b *Buffer) Lines() []string {
	out := make([]string, 0, len(b.lines)+1)
	out = append(out, b.lines...)
	if b.partial != "" {
		out = append(out, b.partial)
	}
	return out
}

// Tail returns the last n display lines; n <= 0 means all.
func (b *Buffer) Tail(n int) []string {
	lines := b.Lines()
	if n <= 0 || n >= len(lines) {
		return lines
	}
	return lines[len(lines)-n:]
}

// Text joins the display lines with newlines.
func (b *Buffer) Text() string { return strings.Join(b.Lines(), "\n") }

// Dropped counts committed lines evicted from the scrollback.
func (b *Buffer) Dropped() int { return b.dropped }

// Version changes whenever the display content may have changed.
func (b *Buffer) Version() uint64 { return b.version }
