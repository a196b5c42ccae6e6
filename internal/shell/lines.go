package shell

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Stream identifies which output pipe a chunk or line came from.
type Stream int

const (
	StreamStdout Stream = iota
	StreamStderr
)

func (s Stream) String() string {
	if s == StreamStderr {
		return "stderr"
	}
	return "stdout"
}

// Chunk is a decoded fragment read from one stream. Seq is its position in
// the shared delivery queue.
type Chunk struct {
	Stream Stream
	Text   string
	Seq    uint64
}

// Line is one newline-delimited line of output with the terminator removed.
// Seq is the sequence number of the chunk that completed it.
type Line struct {
	Text   string
	Stream Stream
	Seq    uint64
}

// lineAssembler buffers partial lines per stream so interleaved chunks from
// the other stream never split a line.
type lineAssembler struct {
	stripANSI bool
	partial   [2]strings.Builder
	lastSeq   [2]uint64
}

func (a *lineAssembler) feed(chunk Chunk) []Line {
	var lines []Line
	buf := &a.partial[chunk.Stream]
	a.lastSeq[chunk.Stream] = chunk.Seq
	text := chunk.Text
	for {
		idx := strings.IndexByte(text, '\n')
		if idx < 0 {
			buf.WriteString(text)
			return lines
		}
		buf.WriteString(text[:idx])
		lines = append(lines, a.emit(chunk.Stream))
		text = text[idx+1:]
	}
}

// flush emits whatever trailing content never saw a terminator.
func (a *lineAssembler) flush() []Line {
	var lines []Line
	for _, stream := range []Stream{StreamStdout, StreamStderr} {
		if a.partial[stream].Len() > 0 {
			lines = append(lines, a.emit(stream))
		}
	}
	return lines
}

func (a *lineAssembler) emit(stream Stream) Line {
	raw := a.partial[stream].String()
	a.partial[stream].Reset()
	return Line{
		Text:   cleanLine(raw, a.stripANSI),
		Stream: stream,
		Seq:    a.lastSeq[stream],
	}
}

func cleanLine(raw string, stripANSI bool) string {
	text := strings.TrimRight(raw, "\r")
	if stripANSI {
		text = ansi.Strip(text)
	}
	return text
}
