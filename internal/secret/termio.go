package secret

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// escState is the explicit state machine used to strip ANSI escape
// sequences (arrow keys, bracketed-paste wrappers, etc.) from pasted input
// while reading a password a byte at a time in raw mode.
type escState int

const (
	stateNormal escState = iota
	stateEsc
	stateCSI
	stateOSC
	stateOSCEsc
)

const (
	cr    = '\r'
	lf    = '\n'
	del   = 0x7f // common terminal "backspace" byte in raw mode
	ctrlH = 0x08
	ctrlD = 0x04
	ctrlC = 0x03
	esc   = 0x1b
)

// readPasswordMasked reads a single password line from f in raw mode,
// echoing one '*' per accepted printable character to out. It drops
// embedded ANSI escape sequences (arrow keys, bracketed paste) rather than
// treating them as printable input, and ignores other C0 control codes
// besides backspace/Enter/Ctrl-D/Ctrl-C. Bytes at or above 0x80, C1 control
// bytes included, are accepted as password input. Returns (password, cancelled, err);
// cancelled is true on Ctrl-C.
func readPasswordMasked(f *os.File, out io.Writer) (string, bool, error) {
	fd := int(f.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return "", false, fmt.Errorf("secret: make raw: %w", err)
	}
	defer term.Restore(fd, oldState)

	return readPasswordFromReader(f, out)
}

// readPasswordFromReader implements the byte-level state machine against
// any reader; split out so tests can drive it without a real terminal.
func readPasswordFromReader(r io.Reader, out io.Writer) (string, bool, error) {
	var buf []byte
	state := stateNormal
	one := make([]byte, 1)

	for {
		n, err := r.Read(one)
		if n == 0 {
			if err != nil {
				if err == io.EOF {
					return string(buf), false, nil
				}
				return "", false, fmt.Errorf("secret: read: %w", err)
			}
			continue
		}
		b := one[0]

		switch state {
		case stateEsc:
			if b == '[' {
				state = stateCSI
			} else if b == ']' {
				state = stateOSC
			} else {
				state = stateNormal
			}
			continue
		case stateCSI:
			if b >= 0x40 && b <= 0x7e {
				state = stateNormal
			}
			continue
		case stateOSC:
			if b == esc {
				state = stateOSCEsc
			} else if b == 0x07 {
				state = stateNormal
			}
			continue
		case stateOSCEsc:
			if b == '\\' {
				state = stateNormal
			} else {
				state = stateOSC
			}
			continue
		}

		switch {
		case b == esc:
			state = stateEsc
		case b == ctrlC:
			fmt.Fprint(out, "\r\n")
			return "", true, nil
		case b == ctrlD:
			fmt.Fprint(out, "\r\n")
			return string(buf), false, nil
		case b == cr || b == lf:
			fmt.Fprint(out, "\r\n")
			return string(buf), false, nil
		case b == del || b == ctrlH:
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
				fmt.Fprint(out, "\b \b")
			}
		case b < 0x20:
			// other C0 control codes: ignored
		default:
			buf = append(buf, b)
			fmt.Fprint(out, "*")
		}
	}
}
