package main

import (
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/rs/zerolog"

	"github.com/ben-ranford/depsplit/internal/app"
	"github.com/ben-ranford/depsplit/internal/cli"
)

var exitFunc = os.Exit

func run(ctx context.Context, args []string, in io.Reader, out io.Writer, errOut io.Writer) int {
	commandLine := cli.New(func(log zerolog.Logger) cli.Runner {
		return app.New(log)
	}, in, out, errOut)
	return commandLine.Run(ctx, args)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}
