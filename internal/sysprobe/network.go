package sysprobe

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/osinstall/osinstall/internal/environment"
)

const (
	resolvConfPath = "/etc/resolv.conf"
	route4Path     = "/proc/net/route"
	route6Path     = "/proc/net/ipv6_route"
)

// RTF_GATEWAY in the kernel's route flag words.
const routeFlagGateway = 0x2

func (p *Prober) probeNetwork(context.Context) (environment.NetworkInfo, error) {
	info := environment.NetworkInfo{
		Interfaces: map[string]environment.Interface{},
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return info, fmt.Errorf("listing network interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}

		state := "DOWN"
		if iface.Flags&net.FlagUp != 0 {
			state = "UP"
		}

		var addresses []string
		if addrs, err := iface.Addrs(); err == nil {
			for _, addr := range addrs {
				ipnet, ok := addr.(*net.IPNet)
				if !ok || ipnet.IP.IsLinkLocalUnicast() {
					continue
				}
				addresses = append(addresses, ipnet.String())
			}
		}

		info.Interfaces[iface.Name] = environment.Interface{
			Index:     iface.Index,
			Name:      iface.Name,
			MAC:       iface.HardwareAddr.String(),
			State:     state,
			Addresses: addresses,
		}
	}

	if data, err := os.ReadFile(resolvConfPath); err == nil {
		info.DNS = parseResolvConf(data)
	} else if !os.IsNotExist(err) {
		return info, fmt.Errorf("reading %s: %w", resolvConfPath, err)
	}

	for _, route := range []struct {
		path    string
		parse   func([]byte) (*environment.Gateway, error)
		gateway **environment.Gateway
	}{
		{route4Path, parseRoute4, &info.Gateway4},
		{route6Path, parseRoute6, &info.Gateway6},
	} {
		data, err := os.ReadFile(route.path)
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return info, fmt.Errorf("reading %s: %w", route.path, err)
		}
		gateway, err := route.parse(data)
		if err != nil {
			return info, fmt.Errorf("parsing %s: %w", route.path, err)
		}
		*route.gateway = gateway
	}
	return info, nil
}

// parseResolvConf extracts the resolver facts. A domain directive wins over
// the search list, matching how the resolver itself treats them.
func parseResolvConf(data []byte) environment.DNS {
	var dns environment.DNS
	var searchDomain string

	for _, line := range strings.Split(string(data), "\n") {
		if idx := strings.IndexAny(line, "#;"); idx >= 0 {
			line = line[:idx]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "nameserver":
			if _, err := netip.ParseAddr(fields[1]); err == nil {
				dns.Servers = append(dns.Servers, fields[1])
			}
		case "domain":
			dns.Domain = fields[1]
		case "search":
			searchDomain = fields[1]
		}
	}

	if dns.Domain == "" {
		dns.Domain = searchDomain
	}
	return dns
}

// parseRoute4 finds the IPv4 default route in /proc/net/route. Addresses
// there are little-endian hex words.
func parseRoute4(data []byte) (*environment.Gateway, error) {
	lines := strings.Split(string(data), "\n")
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[1] != "00000000" {
			continue
		}
		flags, err := strconv.ParseUint(fields[3], 16, 32)
		if err != nil || flags&routeFlagGateway == 0 {
			continue
		}

		word, err := strconv.ParseUint(fields[2], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("bad gateway word %q", fields[2])
		}
		addr := netip.AddrFrom4([4]byte{
			byte(word), byte(word >> 8), byte(word >> 16), byte(word >> 24),
		})
		return &environment.Gateway{Device: fields[0], Gateway: addr.String()}, nil
	}
	return nil, nil
}

// parseRoute6 finds the IPv6 default route in /proc/net/ipv6_route: a
// zero-length destination prefix with the gateway flag set.
func parseRoute6(data []byte) (*environment.Gateway, error) {
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 10 || fields[1] != "00" {
			continue
		}
		flags, err := strconv.ParseUint(fields[8], 16, 32)
		if err != nil || flags&routeFlagGateway == 0 {
			continue
		}

		var raw [16]byte
		if len(fields[4]) != 32 {
			return nil, fmt.Errorf("bad gateway address %q", fields[4])
		}
		for i := 0; i < 16; i++ {
			b, err := strconv.ParseUint(fields[4][2*i:2*i+2], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("bad gateway address %q", fields[4])
			}
			raw[i] = byte(b)
		}
		addr := netip.AddrFrom16(raw)
		return &environment.Gateway{Device: fields[9], Gateway: addr.String()}, nil
	}
	return nil, nil
}
