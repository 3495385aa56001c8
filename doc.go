// Package drmkit provides the device-level calls of the Linux DRM
// (Direct Rendering Manager) interface: opening card nodes, querying the
// driver version and capabilities, and probing or changing the DRM
// master state of a descriptor.
//
// Mode setting (connectors, CRTCs, dumb buffers) lives in package mode,
// and the buffer/output lifecycle built on top of both lives in package kms.
package drmkit
