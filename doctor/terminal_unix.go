//go:build !windows

package doctor

import "os/exec"

const pasteHint = "  Fix with: sudo chmod 660 /dev/uinput && sudo chgrp input /dev/uinput"

// resetTerminal undoes raw mode left behind by the hotkey hook.
func resetTerminal() {
	exec.Command("stty", "sane").Run()
}
