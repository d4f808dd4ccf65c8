// Command vibe-admin inspects and repairs the data the bot keeps per chat.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
