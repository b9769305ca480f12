package clipboard

import (
	"time"

	"github.com/micmonay/keybd_event"
)

// uinput devices stay invisible to the compositor for about two seconds.
const (
	settle       = 2 * time.Second
	shortcutName = "Ctrl+V"
)

func pasteModifier(kb *keybd_event.KeyBonding) { kb.HasCTRL(true) }
