// Command devc resolves devcontainer.json configurations into build plans.
package main

import (
	"os"

	"github.com/devcontainers/cli-sub000/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
