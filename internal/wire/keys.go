package wire

import "strings"

// keyTable maps named keys to the byte sequences written to the PTY.
// Names are matched case-insensitively.
var keyTable = map[string][]byte{
	"enter":     {'\r'},
	"return":    {'\r'},
	"tab":       {'\t'},
	"space":     {' '},
	"backspace": {0x7f},
	"escape":    {0x1b},
	"esc":       {0x1b},

	"up":    []byte("\x1b[A"),
	"down":  []byte("\x1b[B"),
	"right": []byte("\x1b[C"),
	"left":  []byte("\x1b[D"),

	"home":     []byte("\x1b[H"),
	"end":      []byte("\x1b[F"),
	"pageup":   []byte("\x1b[5~"),
	"pagedown": []byte("\x1b[6~"),
	"insert":   []byte("\x1b[2~"),
	"delete":   []byte("\x1b[3~"),

	"f1":  []byte("\x1bOP"),
	"f2":  []byte("\x1bOQ"),
	"f3":  []byte("\x1bOR"),
	"f4":  []byte("\x1bOS"),
	"f5":  []byte("\x1b[15~"),
	"f6":  []byte("\x1b[17~"),
	"f7":  []byte("\x1b[18~"),
	"f8":  []byte("\x1b[19~"),
	"f9":  []byte("\x1b[20~"),
	"f10": []byte("\x1b[21~"),
	"f11": []byte("\x1b[23~"),
	"f12": []byte("\x1b[24~"),

	"shift+tab": []byte("\x1b[Z"),
}

// KeyBytes resolves a named key to its PTY byte sequence. "ctrl+x" forms are
// computed for any letter; everything else comes from the table.
func KeyBytes(name string) ([]byte, bool) {
	k := strings.ToLower(strings.TrimSpace(name))
	if b, ok := keyTable[k]; ok {
		return b, true
	}
	if rest, ok := strings.CutPrefix(k, "ctrl+"); ok && len(rest) == 1 {
		c := rest[0]
		if c >= 'a' && c <= 'z' {
			return []byte{c - 'a' + 1}, true
		}
	}
	return nil, false
}
