// Command canvassync runs the canvas hub, headless sync sessions and the
// scenario harness.
package main

import (
	"os"

	"github.com/roach88/canvassync/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
