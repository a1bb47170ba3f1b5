package main

import (
	"os"
	"runtime/debug"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			LogPanic("main", r, string(debug.Stack()))
			CloseLogger()
			os.Exit(2)
		}
	}()
	Execute()
}
