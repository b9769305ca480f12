package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

var ErrSelectionCancelled = errors.New("device selection cancelled")

type picker struct {
	devices []DeviceInfo
	cursor  int
}

type pickResult int

const (
	pickContinue pickResult = iota
	pickDone
	pickCancel
)

// key applies one keypress read from a raw terminal.
func (p *picker) key(buf []byte) pickResult {
	switch {
	case len(buf) == 1 && (buf[0] == '\r' || buf[0] == '\n'):
		return pickDone
	case len(buf) == 1 && (buf[0] == 3 || buf[0] == 'q'): // ctrl+c
		return pickCancel
	case len(buf) == 1 && buf[0] == 'j', len(buf) == 3 && buf[0] == 0x1b && buf[1] == '[' && buf[2] == 'B':
		if p.cursor < len(p.devices)-1 {
			p.cursor++
		}
	case len(buf) == 1 && buf[0] == 'k', len(buf) == 3 && buf[0] == 0x1b && buf[1] == '[' && buf[2] == 'A':
		if p.cursor > 0 {
			p.cursor--
		}
	}
	return pickContinue
}

func (p *picker) render(w io.Writer) {
	fmt.Fprint(w, "\r\x1b[J")
	fmt.Fprint(w, "Select input device (↑/↓, Enter to confirm):\r\n\r\n")
	for i, d := range p.devices {
		tag := ""
		if IsBluetooth(d.Name) {
			tag = " \x1b[33m[bluetooth: lower audio quality]\x1b[0m"
		}
		if i == p.cursor {
			fmt.Fprintf(w, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, tag)
		} else {
			fmt.Fprintf(w, "    %s%s\r\n", d.Name, tag)
		}
	}
}

// SelectDevice presents an interactive picker on the terminal behind in.
// With a single device it returns that device without prompting.
func SelectDevice(ctx Context, in *os.File, out io.Writer) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrDeviceUnavailable
	}
	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(in.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	p := &picker{devices: devices}
	p.render(out)

	buf := make([]byte, 3)
	for {
		n, err := in.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		switch p.key(buf[:n]) {
		case pickDone:
			fmt.Fprint(out, "\r\n")
			return &devices[p.cursor], nil
		case pickCancel:
			fmt.Fprint(out, "\r\n")
			return nil, ErrSelectionCancelled
		}
		fmt.Fprintf(out, "\x1b[%dA", len(devices)+2)
		p.render(out)
	}
}
