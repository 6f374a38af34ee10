// Package netutil resolves the host's LAN address and validates the
// "ip:port" strings users type to reach a server.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrNoLANAddress is returned when no up, non-loopback interface has an IPv4 address.
var ErrNoLANAddress = errors.New("no LAN IPv4 address")

// LocalIPv4 returns the first IPv4 address of an up, non-loopback interface.
func LocalIPv4() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if ip := firstIPv4(addrs); ip != "" {
			return ip, nil
		}
	}
	return "", ErrNoLANAddress
}

func firstIPv4(addrs []net.Addr) string {
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() {
			return ip4.String()
		}
	}
	return ""
}

// ValidateAddress checks that address has the form "a.b.c.d:port" with every
// octet in 0..255 and port in 1..65535.
func ValidateAddress(address string) error {
	host, portStr, found := strings.Cut(address, ":")
	if !found {
		return fmt.Errorf("address %q: missing port", address)
	}

	octets := strings.Split(host, ".")
	if len(octets) != 4 {
		return fmt.Errorf("address %q: expected four octets", address)
	}
	for _, octet := range octets {
		n, err := strconv.Atoi(octet)
		if err != nil || n < 0 || n > 255 {
			return fmt.Errorf("address %q: invalid octet %q", address, octet)
		}
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("address %q: invalid port %q", address, portStr)
	}
	return nil
}

// SplitAddress validates address and returns its host and port.
func SplitAddress(address string) (string, int, error) {
	if err := ValidateAddress(address); err != nil {
		return "", 0, err
	}
	host, portStr, _ := strings.Cut(address, ":")
	port, _ := strconv.Atoi(portStr)
	return host, port, nil
}
