package doctor

const pasteHint = "  Check that no other program is blocking simulated input"

func resetTerminal() {}
