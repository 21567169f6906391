// Command atsguard operates the tenant-isolated applicant tracking core.
package main

import (
	"os"

	"github.com/roach88/atsguard/internal/cli"
)

func main() {
	os.Exit(cli.GetExitCode(cli.Execute()))
}
