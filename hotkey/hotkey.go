package hotkey

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrObservationUnavailable means global key events cannot be observed,
// usually because the OS denied access.
var ErrObservationUnavailable = errors.New("global hotkey observation unavailable")

type Edge int

const (
	Down Edge = iota
	Up
)

func (e Edge) String() string {
	if e == Down {
		return "down"
	}
	return "up"
}

// Hotkey is an OS-level hook for one trigger combination. Edges are
// delivered on a single channel in the order the OS reported them.
type Hotkey interface {
	Register() error
	Unregister()
	Edges() <-chan Edge
}

const DefaultTrigger = "ctrl+shift+space"

// Trigger is a modifier set plus one key, e.g. ctrl+shift+space.
type Trigger struct {
	Mods []string // sorted, from ctrl, shift, alt, cmd
	Key  string
}

func (t Trigger) String() string {
	return strings.Join(append(slices.Clone(t.Mods), t.Key), "+")
}

var modAliases = map[string]string{
	"ctrl":    "ctrl",
	"control": "ctrl",
	"shift":   "shift",
	"alt":     "alt",
	"option":  "alt",
	"opt":     "alt",
	"cmd":     "cmd",
	"command": "cmd",
	"super":   "cmd",
	"win":     "cmd",
	"meta":    "cmd",
}

func validKey(k string) bool {
	switch {
	case len(k) == 1 && k[0] >= 'a' && k[0] <= 'z':
		return true
	case len(k) == 1 && k[0] >= '0' && k[0] <= '9':
		return true
	case k == "space":
		return true
	case len(k) >= 2 && k[0] == 'f':
		var n int
		if _, err := fmt.Sscanf(k, "f%d", &n); err == nil && n >= 1 && n <= 12 && k == fmt.Sprintf("f%d", n) {
			return true
		}
	}
	return false
}

// ParseTrigger parses a "+"-separated combination such as "cmd+b".
func ParseTrigger(s string) (Trigger, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	if len(parts) == 0 || parts[len(parts)-1] == "" {
		return Trigger{}, fmt.Errorf("invalid hotkey %q", s)
	}
	var t Trigger
	for _, p := range parts[:len(parts)-1] {
		m, ok := modAliases[strings.TrimSpace(p)]
		if !ok {
			return Trigger{}, fmt.Errorf("invalid hotkey %q: unknown modifier %q", s, p)
		}
		if !slices.Contains(t.Mods, m) {
			t.Mods = append(t.Mods, m)
		}
	}
	slices.Sort(t.Mods)
	t.Key = strings.TrimSpace(parts[len(parts)-1])
	if !validKey(t.Key) {
		return Trigger{}, fmt.Errorf("invalid hotkey %q: unsupported key %q", s, t.Key)
	}
	return t, nil
}
