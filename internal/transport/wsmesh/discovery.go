package wsmesh

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service shoplist nodes advertise.
const ServiceType = "_shoplist._tcp"

const roomTXTPrefix = "room="

// Advertise announces this node on the local network. Only nodes in the
// same room connect to it.
func (n *Node) Advertise(port int) error {
	server, err := zeroconf.Register(n.self, ServiceType, "local.", port, []string{roomTXTPrefix + n.room}, nil)
	if err != nil {
		return fmt.Errorf("register mDNS service: %w", err)
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		server.Shutdown()
		return nil
	}
	n.zc = server
	n.mu.Unlock()

	slog.Info("mDNS service registered", "service", ServiceType, "port", port, "room", n.room)
	return nil
}

// Discover browses the local network until ctx ends and connects to every
// node advertising the same room.
func (n *Node) Discover(ctx context.Context) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("initialize mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			addr, ok := matchEntry(entry, n.room, n.self)
			if !ok {
				continue
			}
			slog.Info("mDNS discovered peer", "instance", entry.Instance, "addr", addr)
			if err := n.Connect(addr); err != nil {
				slog.Warn("connect to discovered peer failed", "addr", addr, "err", err)
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return fmt.Errorf("browse mDNS services: %w", err)
	}
	return nil
}

// matchEntry returns the dial address of a discovered service when it
// belongs to room and is not self.
func matchEntry(entry *zeroconf.ServiceEntry, room, self string) (string, bool) {
	if entry == nil || entry.Instance == self {
		return "", false
	}
	inRoom := false
	for _, txt := range entry.Text {
		if strings.TrimPrefix(txt, roomTXTPrefix) == room && strings.HasPrefix(txt, roomTXTPrefix) {
			inRoom = true
			break
		}
	}
	if !inRoom {
		return "", false
	}

	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return "", false
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)), true
}
