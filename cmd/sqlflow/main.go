// Command sqlflow answers natural-language questions against a SQL database.
package main

import (
	"fmt"
	"os"

	"github.com/randalmurphal/sqlflow/cmd/sqlflow/cli"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := cli.Execute(version, commit); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
