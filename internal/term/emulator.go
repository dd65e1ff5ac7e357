package term

import (
	"strings"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/vt"
)

const maxScrollbackLines = 10000

// Screen is one rendered snapshot of the terminal. Lines carry plain text
// with escape sequences stripped; ANSI carries the styled rendering. Seq
// increments only when the visible frame actually changes, so it is a frame
// counter, not a byte offset.
type Screen struct {
	Lines     []string `json:"lines"`
	ANSI      []string `json:"ansi"`
	Cols      int      `json:"cols"`
	Rows      int      `json:"rows"`
	AltScreen bool     `json:"alt_screen"`
	CursorRow int      `json:"cursor_row"`
	CursorCol int      `json:"cursor_col"`
	Seq       uint64   `json:"seq"`
}

// Emulator wraps the vt emulator and caches the latest rendered screen.
// All methods are safe for concurrent use; in practice the session loop is
// the only writer and transports read snapshots.
type Emulator struct {
	mu           sync.Mutex
	emu          *vt.Emulator
	cols, rows   int
	altScreen    bool
	cursorHidden bool

	seq      uint64
	lastANSI string // previous full render, for change detection
	dirty    bool

	scrollback []string // ring of rendered lines scrolled off the top
	sbHead     int
	sbLen      int
}

// NewEmulator creates an emulator with the given dimensions.
func NewEmulator(cols, rows int) *Emulator {
	e := &Emulator{
		emu:  vt.NewEmulator(cols, rows),
		cols: cols,
		rows: rows,
	}
	e.scrollback = make([]string, maxScrollbackLines)
	e.emu.SetCallbacks(vt.Callbacks{
		// Callbacks fire inside emu.Write, so mu is already held.
		ScrollOut: func(lines []uv.Line) {
			if e.altScreen {
				return
			}
			for _, line := range lines {
				e.scrollback[e.sbHead] = line.Render()
				e.sbHead = (e.sbHead + 1) % len(e.scrollback)
				if e.sbLen < len(e.scrollback) {
					e.sbLen++
				}
			}
		},
		ScrollbackClear: func() {
			for i := range e.scrollback {
				e.scrollback[i] = ""
			}
			e.sbLen = 0
			e.sbHead = 0
		},
		AltScreen: func(on bool) {
			e.altScreen = on
		},
		CursorVisibility: func(visible bool) {
			e.cursorHidden = !visible
		},
	})
	return e
}

// Write feeds raw PTY output to the emulator.
func (e *Emulator) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dirty = true
	return e.emu.Write(p)
}

// Resize changes the terminal dimensions.
func (e *Emulator) Resize(cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cols == e.cols && rows == e.rows {
		return
	}
	e.emu.Resize(cols, rows)
	e.cols = cols
	e.rows = rows
	e.dirty = true
}

// Size returns the current dimensions.
func (e *Emulator) Size() (cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cols, e.rows
}

// Snapshot renders the current frame atomically. The frame sequence advances
// only when the rendered output differs from the previous snapshot.
func (e *Emulator) Snapshot() Screen {
	e.mu.Lock()
	defer e.mu.Unlock()

	rendered := e.emu.Render()
	if e.dirty && rendered != e.lastANSI {
		e.seq++
		e.lastANSI = rendered
	}
	e.dirty = false

	styled := splitRows(rendered, e.rows)
	plain := make([]string, len(styled))
	for i, line := range styled {
		plain[i] = strings.TrimRight(ansi.Strip(line), " ")
	}

	pos := e.emu.CursorPosition()
	return Screen{
		Lines:     plain,
		ANSI:      styled,
		Cols:      e.cols,
		Rows:      e.rows,
		AltScreen: e.altScreen,
		CursorRow: pos.Y,
		CursorCol: pos.X,
		Seq:       e.seq,
	}
}

// SetSeq rebases the frame sequence. A rebuilt emulator continues the
// previous child's numbering so screen_seq stays monotonic across a
// credential switch.
func (e *Emulator) SetSeq(base uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq = base
}

// Seq returns the current frame sequence without rendering.
func (e *Emulator) Seq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// Scrollback returns the plain text of lines scrolled off the top,
// oldest-first.
func (e *Emulator) Scrollback() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sbLen == 0 {
		return nil
	}
	out := make([]string, e.sbLen)
	start := (e.sbHead - e.sbLen + len(e.scrollback)) % len(e.scrollback)
	for i := 0; i < e.sbLen; i++ {
		out[i] = strings.TrimRight(ansi.Strip(e.scrollback[(start+i)%len(e.scrollback)]), " ")
	}
	return out
}

// CursorHidden reports whether the application hid the hardware cursor.
func (e *Emulator) CursorHidden() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursorHidden
}

// Close releases the emulator resources.
func (e *Emulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emu.Close()
}

// splitRows splits a full-grid render into per-row strings, padding to rows
// entries so consumers always see a full frame.
func splitRows(rendered string, rows int) []string {
	var lines []string
	if rendered != "" {
		lines = strings.Split(strings.ReplaceAll(rendered, "\r\n", "\n"), "\n")
	}
	for len(lines) < rows {
		lines = append(lines, "")
	}
	if len(lines) > rows {
		lines = lines[:rows]
	}
	return lines
}
