package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	errorsGo "github.com/go-errors/errors"
	"github.com/spf13/cobra"

	"github.com/NeowayLabs/drmkit/internal/config"
	"github.com/NeowayLabs/drmkit/internal/log"
	"github.com/NeowayLabs/drmkit/kms"
	"github.com/NeowayLabs/drmkit/pattern"
)

const (
	bpp       = 32
	labelSize = 18
)

func drawOutputs(cmd *cobra.Command) (err error) {
	cfg, err := config.Resolve(cmd.Flags(), configFlag, flagged)
	if err != nil {
		return errorsGo.Wrap(err, 0)
	}
	logger := log.New(os.Stderr, cfg.Verbose)

	h, err := kms.Open(cfg.Device, kms.Config{
		Logger:           logger,
		CrtcTimeout:      cfg.CrtcTimeout,
		DiscoveryWorkers: cfg.Workers,
	})
	if err != nil {
		return errorsGo.Wrap(err, 0)
	}

	td := &kms.Teardown{}
	td.TrackHandle(h)
	defer func() {
		// the signal context is likely cancelled here, restoring must
		// still happen
		terr := td.Run(context.Background())
		if errors.Is(terr, kms.ErrRestoreFailed) {
			log.Fatal(logger, "display was not restored, switch virtual terminals or replug the monitor")
		}
		if terr != nil {
			err = errors.Join(err, terr)
		}
	}()

	if !h.RequireMaster(cfg.OverrideMaster) {
		return errorsGo.Wrap(&kms.Error{Op: "require master of " + cfg.Device, Kind: kms.ErrMastershipUnavailable}, 0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outs, err := h.ListOutputs(ctx)
	if err != nil {
		return errorsGo.Wrap(err, 0)
	}
	for _, o := range outs {
		logger.Debug("found output", "output", o.String(), "state", o.State().String())
	}
	bindable := kms.Bindable(outs)
	if len(bindable) == 0 {
		return errorsGo.New("no connected output is driven by a crtc")
	}

	mappings, err := h.AttachAll(ctx, bindable, bpp, td)
	if err != nil {
		return errorsGo.Wrap(err, 0)
	}

	for i, o := range bindable {
		m := mappings[o]
		if err := pattern.Draw(m, cfg.Pattern); err != nil {
			return errorsGo.Wrap(err, 0)
		}
		mi, _ := o.Mode()
		if err := pattern.Label(m, o.Name()+" "+mi.String(), 8, 8, labelSize); err != nil {
			logger.Warn("failed to draw label", "output", o.Name(), "err", err)
		}
		if i == 0 && cfg.PNG != "" {
			if err := pattern.SavePNG(cfg.PNG, m); err != nil {
				logger.Warn("failed to save png", "path", cfg.PNG, "err", err)
			} else {
				logger.Info("saved buffer", "output", o.Name(), "path", cfg.PNG)
			}
		}
	}

	hold(ctx, logger, cfg.Hold)
	return nil
}

func hold(ctx context.Context, logger *slog.Logger, d time.Duration) {
	logger.Info("holding test pattern", "duration", d.String())
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		logger.Info("interrupted, restoring displays")
	}
}
