package config

import (
	"github.com/spf13/pflag"
)

// AddFlags registers the flags shared by the tools on fs. Parsed values
// are written to c; see Resolve.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Device, "path", "p", c.Device, "DRM device node")
	fs.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "log debug messages")
	fs.DurationVar(&c.CrtcTimeout, "crtc-timeout", c.CrtcTimeout, "deadline of each CRTC configuration call")
	fs.IntVar(&c.Workers, "workers", c.Workers, "connectors queried in parallel")
}

// Resolve loads the file at path and overlays the values of flags that
// were set explicitly on fs. flagged is the Config the flags were bound
// to.
func Resolve(fs *pflag.FlagSet, path string, flagged Config) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	for name, apply := range map[string]func(){
		"path":            func() { cfg.Device = flagged.Device },
		"verbose":         func() { cfg.Verbose = flagged.Verbose },
		"master-override": func() { cfg.OverrideMaster = flagged.OverrideMaster },
		"hold":            func() { cfg.Hold = flagged.Hold },
		"pattern":         func() { cfg.Pattern = flagged.Pattern },
		"png":             func() { cfg.PNG = flagged.PNG },
		"crtc-timeout":    func() { cfg.CrtcTimeout = flagged.CrtcTimeout },
		"workers":         func() { cfg.Workers = flagged.Workers },
	} {
		if fs.Changed(name) {
			apply()
		}
	}
	return cfg, cfg.Validate()
}
