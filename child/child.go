// Package child defines the interface an Array uses to talk to its
// underlying devices and provides an in-memory implementation for tests
// and demos. A real deployment would back Device with a raw block
// device or file; that wiring lives outside this module (see spec
// section 1's host-framework boundary).
package child

import "github.com/behrlich/go-raid5/internal/interfaces"

// Device is one child of a raid5.Array: a flat, block-addressed byte
// range the array reads and writes strips/parity against.
type Device = interfaces.ChildDevice

// DiscardDevice is a Device that also supports trimming ranges.
type DiscardDevice = interfaces.DiscardDevice
