package main

import (
	"os"

	appLog "sleepcal/internal/log"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		appLog.Error("sleepcal failed", err)
		os.Exit(1)
	}
}
