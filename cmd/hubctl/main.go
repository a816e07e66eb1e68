package main

import (
	"os"

	"github.com/relaypoint-io/relaypoint/internal/hubctl"
)

func main() {
	if err := hubctl.Execute(); err != nil {
		os.Exit(1)
	}
}
