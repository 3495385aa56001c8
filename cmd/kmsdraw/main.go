package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NeowayLabs/drmkit/internal/config"
	"github.com/NeowayLabs/drmkit/pattern"
)

var rootCmd = &cobra.Command{
	Use:   filepath.Base(os.Args[0]),
	Short: "draw a test pattern on every connected display",
	Long: `Draws a test pattern on every connected output driven by a CRTC,
holds it on screen and restores what was displayed before.
Needs to run as DRM master, usually from a text console.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		run(func() error { return drawOutputs(cmd) })
	},
}

var (
	debugFlag  bool
	configFlag string
	flagged    = config.Default()
)

func init() {
	fs := rootCmd.Flags()
	flagged.AddFlags(fs)
	fs.BoolVarP(&flagged.OverrideMaster, "master-override", "m", false, "continue without being DRM master")
	fs.DurationVar(&flagged.Hold, "hold", flagged.Hold, "how long the pattern stays on screen")
	fs.StringVar(&flagged.Pattern, "pattern", flagged.Pattern, "pattern to draw: "+strings.Join(pattern.Names, ", "))
	fs.StringVar(&flagged.PNG, "png", "", "save the first output's buffer to this PNG file")
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
