package clipboard

import "github.com/micmonay/keybd_event"

const (
	settle       = 0
	shortcutName = "Cmd+V"
)

func pasteModifier(kb *keybd_event.KeyBonding) { kb.HasSuper(true) }
