package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	errorsGo "github.com/go-errors/errors"
	"github.com/spf13/cobra"

	"github.com/NeowayLabs/drmkit"
	"github.com/NeowayLabs/drmkit/internal/config"
	"github.com/NeowayLabs/drmkit/internal/log"
	"github.com/NeowayLabs/drmkit/kms"
	"github.com/NeowayLabs/drmkit/mode"
)

var capNames = []struct {
	cap  uint64
	name string
}{
	{drmkit.CapDumbBuffer, "dumb buffer"},
	{drmkit.CapVBlankHighCRTC, "vblank high crtc"},
	{drmkit.CapDumbPreferredDepth, "dumb preferred depth"},
	{drmkit.CapDumbPreferShadow, "dumb prefer shadow"},
	{drmkit.CapPrime, "prime"},
	{drmkit.CapTimestampMonotonic, "timestamp monotonic"},
	{drmkit.CapAsyncPageFlip, "async page flip"},
	{drmkit.CapCursorWidth, "cursor width"},
	{drmkit.CapCursorHeight, "cursor height"},
	{drmkit.CapAddFB2Modifiers, "addfb2 modifiers"},
}

func dump(cmd *cobra.Command, w io.Writer) error {
	cfg, err := config.Resolve(cmd.Flags(), configFlag, flagged)
	if err != nil {
		return errorsGo.Wrap(err, 0)
	}
	logger := log.New(os.Stderr, cfg.Verbose)

	h, err := kms.Open(cfg.Device, kms.Config{
		Logger:           logger,
		ClientCaps:       map[uint64]uint64{drmkit.ClientCapUniversalPlanes: 1},
		CrtcTimeout:      cfg.CrtcTimeout,
		DiscoveryWorkers: cfg.Workers,
	})
	if err != nil {
		return errorsGo.Wrap(err, 0)
	}
	defer func() {
		if err := h.Close(); err != nil {
			logger.Error("failed to close device", "err", err)
		}
	}()

	return writeDump(context.Background(), w, h, cfg.Device, allFlag)
}

func writeDump(ctx context.Context, w io.Writer, h *kms.Handle, path string, all bool) error {
	v, err := h.Version()
	if err != nil {
		return errorsGo.Wrap(err, 0)
	}
	fmt.Fprintf(w, "%s: %s, %s\n", path, v, v.Desc)
	fmt.Fprintf(w, "master: %t, kms: %t\n\n", h.Device().IsMaster(), h.Device().IsKMS())

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "CAPABILITY\tVALUE")
	for _, c := range capNames {
		val, err := h.Device().GetCap(c.cap)
		if err != nil {
			fmt.Fprintf(tw, "%s\t%s\n", c.name, err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\n", c.name, val)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	outs, err := h.ListOutputs(ctx)
	if err != nil {
		return errorsGo.Wrap(err, 0)
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "CONNECTOR\tNAME\tSTATUS\tENCODER\tCRTC\tMODE\tMODES\tCURRENT FB\tBINDABLE")
	for _, o := range outs {
		selected := "-"
		if m, ok := o.Mode(); ok {
			selected = m.String()
		}
		current := "-"
		if s, ok := o.Snapshot(); ok {
			current = fmt.Sprintf("%d +%d+%d", s.BufferID, s.X, s.Y)
			if s.ModeValid {
				current += " " + s.Mode.String()
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\t%d\t%s\t%t\n",
			o.ConnectorID(), o.Name(), o.Status(), o.EncoderID(), o.CrtcID(),
			selected, len(o.Modes()), current, o.Bindable())
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if all {
		for _, o := range outs {
			if len(o.Modes()) == 0 {
				continue
			}
			fmt.Fprintf(w, "\n%s modes:\n", o.Name())
			writeModes(w, o.Modes())
		}
	}

	planes, err := h.Planes()
	if err != nil {
		fmt.Fprintf(w, "\nplanes: %s\n", err)
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "PLANE\tCRTC\tFB\tPOSSIBLE CRTCS\tFORMATS")
	for _, p := range planes {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%#x\t%s\n", p.ID, p.CrtcID, p.FBID, p.PossibleCrtcs, formats(p.Formats))
	}
	return tw.Flush()
}

func writeModes(w io.Writer, modes []mode.Info) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "\tNAME\tSIZE\tREFRESH\tCLOCK\tPREFERRED")
	for i := range modes {
		m := &modes[i]
		fmt.Fprintf(tw, "%d\t%s\t%dx%d\t%d\t%d\t%t\n",
			i, m.ModeName(), m.Hdisplay, m.Vdisplay, m.Vrefresh, m.Clock, m.Preferred())
	}
	_ = tw.Flush()
}

// formats renders fourcc codes, e.g. XR24.
func formats(codes []uint32) string {
	var b []byte
	for i, c := range codes {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, byte(c), byte(c>>8), byte(c>>16), byte(c>>24))
	}
	return string(b)
}
