package main

import (
	"os"

	"github.com/NeowayLabs/kmsd/internal/logger"
)

func main() {
	if err := Execute(); err != nil {
		logger.Error("kmsd failed", "err", err)
		os.Exit(1)
	}
}
