// Command vqtokenizer generates configurations, builds the cached feature
// store and trains backbone torsion tokenizers.
package main

import (
	"io"
	"os"

	flags "github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
)

// globalOptions apply to every command.
type globalOptions struct {
	LogLevel  string `long:"log-level" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"log verbosity"`
	LogFormat string `long:"log-format" default:"text" choice:"text" choice:"json" description:"log output format"`
}

// newLogger builds the root logger from the global options.
func (g *globalOptions) newLogger(out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	if g.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(g.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func newParser(stdout, stderr io.Writer) *flags.Parser {
	global := &globalOptions{}
	parser := flags.NewParser(global, flags.Default)
	parser.Name = "vqtokenizer"

	mustAdd := func(name, short, long string, cmd any) {
		if _, err := parser.AddCommand(name, short, long, cmd); err != nil {
			panic(err)
		}
	}
	mustAdd("config", "Write a default training config",
		"Writes the default YAML configuration for a tokenizer type and prints its path.",
		&configCommand{global: global, stdout: stdout})
	mustAdd("preprocess", "Build the cached feature store",
		"Extracts torsion patches from every .pdb file in data.pdb_dir into a store folder and writes its SHA-256 checksum.",
		&preprocessCommand{global: global, stdout: stdout, stderr: stderr})
	mustAdd("train", "Train a tokenizer",
		"Trains the tokenizer described by the config, keeping the best checkpoints and writing the final model.",
		&trainCommand{global: global, stderr: stderr})
	return parser
}

func run(args []string, stdout, stderr io.Writer) int {
	parser := newParser(stdout, stderr)
	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return 0
		}
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
