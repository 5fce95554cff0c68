package main

import (
	"fmt"
	"os"

	"github.com/Willytecheira/nexus-wa-core-sub000/internal/util"
)

// Prints a fresh operator API key with its API_KEY_HASH, or hashes the key
// given as the only argument. ENCRYPTION_KEY is always a new random key.
func main() {
	if len(os.Args) > 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run ./cmd/keygen [api-key]\n")
		os.Exit(1)
	}

	var apiKey string
	if len(os.Args) == 2 {
		apiKey = os.Args[1]
	} else {
		key, err := util.GenerateToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		apiKey = key
	}

	encryptionKey, err := util.GenerateToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key (give to operators): %s\n", apiKey)
	fmt.Printf("API_KEY_HASH=%s\n", util.HashToken(apiKey))
	fmt.Printf("ENCRYPTION_KEY=%s\n", encryptionKey)
}
