package main

import (
	"os"

	"github.com/oremus-labs/lookout-stream/internal/streamcli"
)

func main() {
	if err := streamcli.Execute(); err != nil {
		os.Exit(1)
	}
}
