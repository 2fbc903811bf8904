// The main package for the scraperd executable.
package main

import "github.com/marketlens/scraperd/cmd"

func main() {
	cmd.Execute()
}
