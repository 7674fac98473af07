package videohub

import (
	"strconv"
	"strings"
)

// Block is one protocol message: a title line followed by body lines, ended
// by a blank line. ACK and NAK are blocks with no body.
type Block struct {
	Title string
	Lines []string
}

// blockReader groups lines into blocks.
type blockReader struct {
	cur *Block
}

// feed consumes one line and returns a block when line ends one.
func (r *blockReader) feed(line string) (Block, bool) {
	line = strings.TrimRight(line, "\r")

	if line == "" {
		if r.cur == nil {
			return Block{}, false
		}
		b := *r.cur
		r.cur = nil
		return b, true
	}

	if r.cur == nil {
		r.cur = &Block{Title: strings.TrimSuffix(line, ":")}
		return Block{}, false
	}
	r.cur.Lines = append(r.cur.Lines, line)
	return Block{}, false
}

// keyValues parses "Key: value" body lines.
func (b Block) keyValues() map[string]string {
	out := make(map[string]string, len(b.Lines))
	for _, l := range b.Lines {
		k, v, ok := strings.Cut(l, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

type entry struct {
	index int
	value string
}

// indexed parses "<index> <value>" body lines in order. Values may contain
// spaces.
func (b Block) indexed() []entry {
	out := make([]entry, 0, len(b.Lines))
	for _, l := range b.Lines {
		idx, v, _ := strings.Cut(l, " ")
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			continue
		}
		out = append(out, entry{n, v})
	}
	return out
}

// encodeBlock renders a command block.
func encodeBlock(title string, lines ...string) []byte {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString(":\n")
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return []byte(b.String())
}
