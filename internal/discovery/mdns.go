// Package discovery advertises the knit server on the local network and lets
// clients find it without being told an address.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/grandcat/zeroconf"
)

const domain = "local."

var ErrNotFound = errors.New("no knit server found")

// InstanceName defaults to "collabknit-<hostname>".
func InstanceName(instance string) string {
	if instance != "" {
		return instance
	}
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%s", "collabknit", host)
}

// Advertise registers the service until ctx is done.
func Advertise(ctx context.Context, logger *log.Logger, instance, service string, port int) error {
	server, err := zeroconf.Register(InstanceName(instance), service, domain, port, []string{"txtv=0", "path=/ws"}, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	defer server.Shutdown()
	logger.Info("mDNS service registered", "service", service, "port", port)
	<-ctx.Done()
	return nil
}

// Lookup browses for service and returns the first address found.
func Lookup(ctx context.Context, logger *log.Logger, service string) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("failed to initialize mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan string, 1)
	go func(results <-chan *zeroconf.ServiceEntry) {
		for entry := range results {
			addr, ok := entryAddr(entry)
			if !ok {
				continue
			}
			logger.Info("mDNS discovered server", "instance", entry.Instance, "addr", addr)
			select {
			case found <- addr:
				cancel()
			default:
			}
		}
	}(entries)

	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return "", fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	select {
	case addr := <-found:
		return addr, nil
	case <-ctx.Done():
		select {
		case addr := <-found:
			return addr, nil
		default:
		}
		return "", ErrNotFound
	}
}

func entryAddr(e *zeroconf.ServiceEntry) (string, bool) {
	var ip net.IP
	switch {
	case len(e.AddrIPv4) > 0:
		ip = e.AddrIPv4[0]
	case len(e.AddrIPv6) > 0:
		ip = e.AddrIPv6[0]
	default:
		return "", false
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(e.Port)), true
}
