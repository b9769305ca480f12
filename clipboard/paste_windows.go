package clipboard

import "github.com/micmonay/keybd_event"

const (
	settle       = 0
	shortcutName = "Ctrl+V"
)

func pasteModifier(kb *keybd_event.KeyBonding) { kb.HasCTRL(true) }
