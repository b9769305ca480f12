//go:build darwin || windows

package hotkey

import (
	"fmt"
	"sync"

	"golang.design/x/hotkey"
)

var keys = map[string]hotkey.Key{
	"a": hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD,
	"e": hotkey.KeyE, "f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH,
	"i": hotkey.KeyI, "j": hotkey.KeyJ, "k": hotkey.KeyK, "l": hotkey.KeyL,
	"m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO, "p": hotkey.KeyP,
	"q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX,
	"y": hotkey.KeyY, "z": hotkey.KeyZ,
	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
	"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
	"8": hotkey.Key8, "9": hotkey.Key9,
	"space": hotkey.KeySpace,
	"f1": hotkey.KeyF1, "f2": hotkey.KeyF2, "f3": hotkey.KeyF3, "f4": hotkey.KeyF4,
	"f5": hotkey.KeyF5, "f6": hotkey.KeyF6, "f7": hotkey.KeyF7, "f8": hotkey.KeyF8,
	"f9": hotkey.KeyF9, "f10": hotkey.KeyF10, "f11": hotkey.KeyF11, "f12": hotkey.KeyF12,
}

type xHotkey struct {
	trigger Trigger
	hk      *hotkey.Hotkey
	edges   chan Edge
	stop    chan struct{}
	once    sync.Once
}

// New returns a hook registered through the OS hotkey API.
func New(t Trigger) (Hotkey, error) {
	key, ok := keys[t.Key]
	if !ok {
		return nil, fmt.Errorf("unsupported key %q", t.Key)
	}
	var ms []hotkey.Modifier
	for _, name := range t.Mods {
		m, ok := modifiers[name]
		if !ok {
			return nil, fmt.Errorf("modifier %q not supported on this platform", name)
		}
		ms = append(ms, m)
	}
	return &xHotkey{
		trigger: t,
		hk:      hotkey.New(ms, key),
		edges:   make(chan Edge, 16),
		stop:    make(chan struct{}),
	}, nil
}

func (h *xHotkey) Register() error {
	if err := h.hk.Register(); err != nil {
		return err
	}
	// one goroutine for both channels keeps down/up in OS order
	go func() {
		for {
			var e Edge
			select {
			case <-h.stop:
				return
			case <-h.hk.Keydown():
				e = Down
			case <-h.hk.Keyup():
				e = Up
			}
			select {
			case h.edges <- e:
			case <-h.stop:
				return
			}
		}
	}()
	return nil
}

func (h *xHotkey) Unregister() {
	h.once.Do(func() {
		close(h.stop)
		h.hk.Unregister()
	})
}

func (h *xHotkey) Edges() <-chan Edge {
	return h.edges
}

func Diagnose(t Trigger) (string, error) {
	return fmt.Sprintf("hotkey support available (%s)", t), nil
}
