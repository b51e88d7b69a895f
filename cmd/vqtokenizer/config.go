package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/born-ml/vqtokenizer/internal/config"
)

type configCommand struct {
	global *globalOptions
	stdout io.Writer

	Type   string `long:"type" required:"true" choice:"vq" choice:"lfq" description:"tokenizer type"`
	Output string `long:"output" description:"output path (default config/<type>_train.yml)"`
}

// Execute implements flags.Commander.
func (c *configCommand) Execute([]string) error {
	cfg, err := config.Default(c.Type)
	if err != nil {
		return err
	}
	path := c.Output
	if path == "" {
		path = config.DefaultPath(c.Type)
	}
	if err := config.Write(path, cfg); err != nil {
		return err
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	fmt.Fprintf(c.stdout, "Default config file generated: %s\n", path)
	return nil
}
