//go:build linux

package hotkey

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	evKey      = 1
	keyPress   = 1
	keyRelease = 0 // 2 is autorepeat and is ignored
)

const inputEventSize = 24

// evdev codes from linux/input-event-codes.h
var modCodes = map[string][]uint16{
	"ctrl":  {29, 97},
	"shift": {42, 54},
	"alt":   {56, 100},
	"cmd":   {125, 126},
}

var letterCodes = [26]uint16{
	30, 48, 46, 32, 18, 33, 34, 35, 23, 36,
	37, 38, 50, 49, 24, 25, 16, 19, 31, 20,
	22, 47, 17, 45, 21, 44,
}

func keyCode(key string) (uint16, bool) {
	switch {
	case len(key) == 1 && key[0] >= 'a' && key[0] <= 'z':
		return letterCodes[key[0]-'a'], true
	case key == "0":
		return 11, true
	case len(key) == 1 && key[0] >= '1' && key[0] <= '9':
		return uint16(key[0]-'1') + 2, true
	case key == "space":
		return 57, true
	case key == "f11":
		return 87, true
	case key == "f12":
		return 88, true
	case len(key) >= 2 && key[0] == 'f':
		var n int
		if _, err := fmt.Sscanf(key, "f%d", &n); err == nil && n >= 1 && n <= 10 {
			return uint16(58 + n), true
		}
	}
	return 0, false
}

type linuxHotkey struct {
	trigger Trigger
	key     uint16
	edges   chan Edge
	files   []*os.File
	stop    chan struct{}
	once    sync.Once
}

// New returns an evdev hook reading every keyboard under /dev/input.
func New(t Trigger) (Hotkey, error) {
	code, ok := keyCode(t.Key)
	if !ok {
		return nil, fmt.Errorf("unsupported key %q", t.Key)
	}
	return &linuxHotkey{
		trigger: t,
		key:     code,
		edges:   make(chan Edge, 16),
		stop:    make(chan struct{}),
	}, nil
}

func (h *linuxHotkey) Register() error {
	keyboards, err := findKeyboards()
	if err != nil {
		return fmt.Errorf("finding keyboards: %w", err)
	}
	if len(keyboards) == 0 {
		return fmt.Errorf("no keyboard devices found (is user in 'input' group?)")
	}

	for _, path := range keyboards {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		h.files = append(h.files, f)
		go h.readEvents(f)
	}

	if len(h.files) == 0 {
		return fmt.Errorf("could not open any keyboard device (run: sudo usermod -aG input $USER, then re-login)")
	}
	return nil
}

// modState tracks which modifier keycodes are currently held on one device.
type modState map[uint16]bool

func (m modState) satisfied(mods []string) bool {
	for _, name := range mods {
		held := false
		for _, c := range modCodes[name] {
			held = held || m[c]
		}
		if !held {
			return false
		}
	}
	return true
}

func isModifier(code uint16) bool {
	for _, codes := range modCodes {
		for _, c := range codes {
			if c == code {
				return true
			}
		}
	}
	return false
}

func (h *linuxHotkey) emit(e Edge) bool {
	select {
	case h.edges <- e:
		return true
	case <-h.stop:
		return false
	}
}

func (h *linuxHotkey) readEvents(f *os.File) {
	buf := make([]byte, inputEventSize*16)
	mods := modState{}
	held := false

	for {
		n, err := f.Read(buf)
		if err != nil {
			return
		}

		for i := 0; i+inputEventSize <= n; i += inputEventSize {
			evType := binary.LittleEndian.Uint16(buf[i+16:])
			evCode := binary.LittleEndian.Uint16(buf[i+18:])
			evValue := int32(binary.LittleEndian.Uint32(buf[i+20:]))
			if evType != evKey {
				continue
			}

			switch {
			case isModifier(evCode):
				if evValue == keyPress {
					mods[evCode] = true
				} else if evValue == keyRelease {
					mods[evCode] = false
				}
			case evCode == h.key:
				if evValue == keyPress && !held && mods.satisfied(h.trigger.Mods) {
					held = true
					if !h.emit(Down) {
						return
					}
				} else if evValue == keyRelease && held {
					held = false
					if !h.emit(Up) {
						return
					}
				}
			}
		}
	}
}

func (h *linuxHotkey) Unregister() {
	h.once.Do(func() {
		close(h.stop)
		for _, f := range h.files {
			f.Close()
		}
	})
}

func (h *linuxHotkey) Edges() <-chan Edge {
	return h.edges
}

func findKeyboards() ([]string, error) {
	entries, err := os.ReadDir("/dev/input")
	if err != nil {
		return nil, err
	}

	var keyboards []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "event") {
			continue
		}
		if isKeyboard(e.Name()) {
			keyboards = append(keyboards, filepath.Join("/dev/input", e.Name()))
		}
	}
	return keyboards, nil
}

func isKeyboard(eventName string) bool {
	capsPath := filepath.Join("/sys/class/input", eventName, "device", "capabilities", "key")
	data, err := os.ReadFile(capsPath)
	if err != nil {
		return false
	}
	caps := strings.TrimSpace(string(data))
	return len(caps) > 10
}

// Diagnose reports whether keyboards can be opened for reading.
func Diagnose(t Trigger) (string, error) {
	keyboards, err := findKeyboards()
	if err != nil {
		return "", fmt.Errorf("cannot scan input devices: %w", err)
	}
	if len(keyboards) == 0 {
		return "", fmt.Errorf("no keyboard devices found (is user in 'input' group?)")
	}

	var opened string
	for _, path := range keyboards {
		f, err := os.Open(path)
		if err == nil {
			f.Close()
			opened = path
			break
		}
	}
	if opened == "" {
		return "", fmt.Errorf("found %d keyboard(s) but cannot open any (run: sudo usermod -aG input $USER)", len(keyboards))
	}

	return fmt.Sprintf("%d keyboard(s) found, opened %s, trigger %s", len(keyboards), opened, t), nil
}
