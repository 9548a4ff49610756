// The main package for the technews-ingest executable.
package main

import "github.com/JakeFAU/technews-ingest/cmd"

func main() {
	cmd.Execute()
}
