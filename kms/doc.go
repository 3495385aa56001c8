// Package kms drives a single display pipeline through a dumb buffer.
//
// The lifecycle is strictly ordered:
//
//	Open -> ListOutputs -> CreateBuffer -> Map -> AddFramebuffer -> Bind
//	     -> (draw) -> Unmap -> Remove -> Destroy -> Restore -> Close
//
// Every acquisition can be registered with a Teardown, which walks the
// registered resources in reverse order, keeps going when a step fails
// and reports every failed step.
//
// Each Output moves through Discovered, SnapshotCaptured, Bound and
// Restored. The CRTC snapshot is captured during discovery, before
// anything is changed, and Restore reprograms the CRTC from it.
//
// All kernel access goes through the Device interface. Card is the
// implementation backed by a DRM node; tests provide their own.
package kms
