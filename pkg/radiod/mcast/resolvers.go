package mcast

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"

	"github.com/grandcat/zeroconf"
)

// AvahiResolver shells out to avahi-resolve-host-name, the Linux mDNS
// resolution stage. Reports ok=false (not an error) when the binary
// isn't installed, so Resolve falls through to the next stage.
type AvahiResolver struct {
	// LookPath overrides exec.LookPath, for tests.
	LookPath func(string) (string, error)
}

func (r *AvahiResolver) lookPath(name string) (string, error) {
	if r.LookPath != nil {
		return r.LookPath(name)
	}
	return exec.LookPath(name)
}

func (r *AvahiResolver) ResolveIPv4(ctx context.Context, host string) (net.IP, bool, error) {
	path, err := r.lookPath("avahi-resolve-host-name")
	if err != nil {
		return nil, false, nil
	}
	cmd := exec.CommandContext(ctx, path, "-4", host)
	out, err := cmd.Output()
	if err != nil {
		return nil, false, nil
	}
	// Output format: "<hostname>\t<ip>\n"
	fields := strings.Fields(string(out))
	if len(fields) < 2 {
		return nil, false, nil
	}
	ip := net.ParseIP(fields[len(fields)-1])
	if ip == nil || ip.To4() == nil {
		return nil, false, nil
	}
	return ip.To4(), true, nil
}

// DNSSDResolver shells out to dns-sd, the macOS-style DNS-SD
// resolution stage.
type DNSSDResolver struct {
	LookPath func(string) (string, error)
}

func (r *DNSSDResolver) lookPath(name string) (string, error) {
	if r.LookPath != nil {
		return r.LookPath(name)
	}
	return exec.LookPath(name)
}

func (r *DNSSDResolver) ResolveIPv4(ctx context.Context, host string) (net.IP, bool, error) {
	path, err := r.lookPath("dns-sd")
	if err != nil {
		return nil, false, nil
	}
	cmd := exec.CommandContext(ctx, path, "-G", "v4", host)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, false, nil
	}
	if err := cmd.Start(); err != nil {
		return nil, false, nil
	}
	defer cmd.Process.Kill()

	scanner := bufio.NewScanner(stdout)
	var found net.IP
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		for _, f := range fields {
			if ip := net.ParseIP(f); ip != nil && ip.To4() != nil {
				found = ip.To4()
				break
			}
		}
		if found != nil {
			break
		}
	}
	cmd.Wait()
	if found == nil {
		return nil, false, nil
	}
	return found, true, nil
}

// ZeroconfResolver resolves a hostname by browsing radiod's mDNS
// service type and matching the advertised instance name, using
// github.com/grandcat/zeroconf. This is an alternative, pure-Go
// implementation of the mDNS resolution stage for embedders that would rather
// not shell out to avahi-resolve-host-name: it's useful specifically
// when the daemon advertises itself as an mDNS service instance (the
// deployment pattern the wider ka9q_ubersdr client corpus already uses
// for its own instance discovery) rather than publishing a plain A
// record for its hostname.
type ZeroconfResolver struct {
	// Service is the mDNS service type to browse, e.g. "_radiod._tcp".
	Service string
	// Domain defaults to "local." when empty.
	Domain string
}

func (r *ZeroconfResolver) ResolveIPv4(ctx context.Context, host string) (net.IP, bool, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, false, fmt.Errorf("mcast: zeroconf resolver init: %w", err)
	}

	domain := r.Domain
	if domain == "" {
		domain = "local."
	}
	service := r.Service
	if service == "" {
		service = "_radiod._tcp"
	}

	browseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	var found net.IP
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			if !matchesHost(entry, host) {
				continue
			}
			if len(entry.AddrIPv4) > 0 {
				found = entry.AddrIPv4[0]
				cancel()
				return
			}
		}
	}()

	if err := resolver.Browse(browseCtx, service, domain, entries); err != nil {
		return nil, false, fmt.Errorf("mcast: zeroconf browse: %w", err)
	}
	<-browseCtx.Done()
	<-done

	if found == nil {
		return nil, false, nil
	}
	return found, true, nil
}

func matchesHost(entry *zeroconf.ServiceEntry, host string) bool {
	h := strings.TrimSuffix(strings.ToLower(host), ".")
	return strings.EqualFold(strings.TrimSuffix(entry.HostName, "."), h) ||
		strings.EqualFold(entry.Instance, h)
}

// HashFallback synthesizes a multicast address from the hostname via
// the FNV-1 hash scheme ka9q-radio's own multicast.c uses
// (make_maddr()), so a caller who names an unresolvable group host
// still reaches the same multicast address radiod itself would derive.
// It answers for every host, so when it is listed among Resolve's
// stages, no later stage and not the getaddrinfo fallback is tried;
// it does not run after DNS has failed.
type HashFallback struct{}

func (HashFallback) ResolveIPv4(_ context.Context, host string) (net.IP, bool, error) {
	return fnv1MulticastAddr(host), true, nil
}

func fnv1hash(data []byte) uint32 {
	hash := uint32(0x811c9dc5)
	for _, b := range data {
		hash *= 0x01000193
		hash ^= uint32(b)
	}
	return hash
}

// fnv1MulticastAddr generates an administratively-scoped 239.0.0.0/8
// multicast address from hostname, matching ka9q-radio's make_maddr().
func fnv1MulticastAddr(hostname string) net.IP {
	hash := fnv1hash([]byte(hostname))
	addr := (uint32(239) << 24) | (hash & 0xffffff)

	// Avoid 239.0.0.0/24 and 239.128.0.0/24: these map to the same
	// Ethernet multicast MAC addresses and would collide on the wire.
	if addr&0x007fff00 == 0 {
		addr |= (addr & 0xff) << 8
	}
	if addr&0x007fff00 == 0 {
		addr |= 0x00100000
	}

	return net.IPv4(byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
}
