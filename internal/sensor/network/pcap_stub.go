//go:build !pcap
// +build !pcap

package network

import (
	"context"
	"errors"
)

// ErrPCAPNotBuilt reports a PCAP replay request in a binary built without
// the 'pcap' tag.
var ErrPCAPNotBuilt = errors.New("pcap support not built; rebuild with -tags pcap")

// ReadPCAPFile is unavailable without the 'pcap' build tag.
func ReadPCAPFile(ctx context.Context, pcapFile string, udpPort int, sink func([]byte)) error {
	return ErrPCAPNotBuilt
}
