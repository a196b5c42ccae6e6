package shell

import (
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	// DefaultBlockSize is how many bytes a pump reads from a pipe per call.
	DefaultBlockSize = 4096
	// DefaultQueueSize bounds the chunk queue shared by both pumps.
	DefaultQueueSize = 64
	// DefaultKillGrace is how long Close waits after SIGTERM before SIGKILL.
	DefaultKillGrace = 3 * time.Second
	// DefaultDrainGrace is how long a pump waits for more output after the
	// child was reaped before it gives up on the pipe.
	DefaultDrainGrace = 250 * time.Millisecond
)

// Encoding names the byte encoding of the child's output streams.
type Encoding string

const (
	// EncodingUTF8 decodes output as UTF-8, replacing invalid bytes with U+FFFD.
	EncodingUTF8 Encoding = "utf-8"
	// EncodingUTF16LE decodes little-endian UTF-16, honouring a BOM when present.
	EncodingUTF16LE Encoding = "utf-16le"
)

// Options configures one session.
type Options struct {
	// Dir is the working directory of the child. Empty means the current directory.
	Dir string
	// Env overrides or extends the parent environment.
	Env map[string]string
	// StripANSI removes terminal escape sequences from every emitted line.
	StripANSI bool
	// Encoding of stdout and stderr. Empty means UTF-8.
	Encoding Encoding
	// Shell selects the dialect used by OpenShell: a dialect name such as
	// "bash" or "powershell", or a path to an executable. Empty means $SHELL.
	Shell string

	BlockSize int
	QueueSize int
	KillGrace time.Duration
	// DrainGrace bounds how long output is read once the child has exited,
	// measured from the last block received. Background processes that
	// inherited the pipes do not hold the stream open past it.
	DrainGrace time.Duration

	Logger *log.Logger
}

func (o Options) withDefaults() Options {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.KillGrace <= 0 {
		o.KillGrace = DefaultKillGrace
	}
	if o.DrainGrace <= 0 {
		o.DrainGrace = DefaultDrainGrace
	}
	if o.Encoding == "" {
		o.Encoding = EncodingUTF8
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	return o
}

// ParseEncoding normalises an encoding name from configuration or flags.
func ParseEncoding(name string) (Encoding, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf8", "utf-8":
		return EncodingUTF8, true
	case "utf16le", "utf-16le", "utf-16":
		return EncodingUTF16LE, true
	default:
		return "", false
	}
}

func (e Encoding) decoder() *encoding.Decoder {
	if e == EncodingUTF16LE {
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	}
	return unicode.UTF8.NewDecoder()
}

func decodeReader(r io.Reader, e Encoding) io.Reader {
	return transform.NewReader(r, e.decoder())
}

func (o Options) environ() []string {
	base := os.Environ()
	if len(o.Env) == 0 {
		return base
	}

	env := make([]string, 0, len(base)+len(o.Env))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if _, overridden := o.Env[key]; overridden {
			continue
		}
		env = append(env, entry)
	}

	keys := make([]string, 0, len(o.Env))
	for key := range o.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, key+"="+o.Env[key])
	}
	return env
}
