package main

import (
	"log"

	"saferecovery/services/recoverymon"
)

func main() {
	if err := recoverymon.Main(); err != nil {
		log.Fatalf("recoverymon: %v", err)
	}
}
