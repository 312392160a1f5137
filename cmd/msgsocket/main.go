// Command msgsocket runs a sample msgsocket server or console client.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
