// Package pipeline is the composition root for the packet-to-cloud
// pipeline. It wires the stream client, packet dispatcher, versioned
// parsers, and the polar-to-Cartesian converter into one runtime.
//
// This package imports from the stage packages (network, parse, convert);
// none of those packages import pipeline.
package pipeline
