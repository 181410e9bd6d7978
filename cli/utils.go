package cli

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"go.viam.com/bevdepth/config"
	"go.viam.com/bevdepth/logging"
)

// warningf prints a message prefixed with a bold "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, "\x1b[1mWarning:\x1b[0m "+format+"\n", a...)
}

func newLogger(c *cli.Context) logging.Logger {
	logger := logging.NewLogger("bevdepth")
	if c.Bool(generalFlagDebug) {
		logger.SetLevel(logging.DEBUG)
	}
	return logger
}

// loadConfig reads the --config file, or returns the defaults when none is given.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.Path(generalFlagConfig)
	if path == "" {
		return config.Default(), nil
	}
	return config.Read(path)
}

func newTable(w io.Writer, header ...interface{}) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	style := table.StyleLight
	style.Options.SeparateColumns = true
	style.Options.DrawBorder = true
	t.SetStyle(style)
	t.AppendHeader(table.Row(header))
	return t
}
