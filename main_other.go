//go:build !linux

package main

import (
	"os"
	"runtime"

	"golang.design/x/hotkey/mainthread"
)

// The hotkey and audio frameworks on macOS must own the main thread.
func init() {
	runtime.LockOSThread()
}

func main() {
	code := 0
	mainthread.Init(func() { code = run(os.Args[1:]) })
	os.Exit(code)
}
