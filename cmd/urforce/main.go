package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	ConfigFile string `short:"c" long:"config" default:"urforce.json" description:"Configuration file"`
	LogLevel   string `long:"log-level" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	LogFormat  string `long:"log-format" default:"text" choice:"text" choice:"json" description:"Log output format"`

	Run   RunCommand   `command:"run" description:"Run a force-mode session"`
	Setup SetupCommand `command:"setup" description:"Write a configuration file interactively"`
	Info  InfoCommand  `command:"info" description:"Show controller version and calibration status"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "urforce - run force-mode sessions on UR-style actuators"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
