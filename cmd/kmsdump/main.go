package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/NeowayLabs/drmkit/internal/config"
)

var rootCmd = &cobra.Command{
	Use:          filepath.Base(os.Args[0]),
	Short:        "print the KMS configuration of a DRM device",
	Long:         "Prints driver version, capabilities, connectors with their modes and CRTC state, and planes. Nothing is modified.",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		run(func() error { return dump(cmd, os.Stdout) })
	},
}

var (
	debugFlag  bool
	allFlag    bool
	configFlag string
	flagged    = config.Default()
)

func init() {
	fs := rootCmd.Flags()
	flagged.AddFlags(fs)
	fs.BoolVarP(&allFlag, "all", "a", false, "list every mode, not only the selected one")
	fs.StringVarP(&configFlag, "config", "c", "", "YAML configuration file, flags take precedence")
	fs.BoolVarP(&debugFlag, "debug", "d", false, "print error stack traces")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(fn func() error) {
	err := fn()
	if err == nil {
		return
	}
	if stackFramer, ok := err.(interface{ ErrorStack() string }); debugFlag && ok {
		fmt.Fprintln(os.Stderr, stackFramer.ErrorStack())
	} else {
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
	}
	os.Exit(1)
}
