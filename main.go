package main

import (
	"context"
	"fmt"
	"os"

	"github.com/humblenginr/brisk/cli"
)

func main() {
	root := cli.NewRootCommand()
	err := root.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(cli.ExitCode(err))
}
