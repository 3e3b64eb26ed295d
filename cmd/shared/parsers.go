package shared

import (
	"fmt"
	"net"
	"regexp"
	"strconv"

	"dominicbreuker/lanlink/pkg/config"
)

var transportRe = regexp.MustCompile(`^(tcp|ws|kcp)://([^:]*):(\d+)$`)

// ParseTransport parses a transport string in the format "protocol://host:port"
// where protocol is one of tcp, ws or kcp. The host can be empty or "*" to
// bind to all interfaces. Returns the protocol, host, port, and any parsing error.
func ParseTransport(s string) (proto config.Protocol, host string, port int, err error) {
	matches := transportRe.FindStringSubmatch(s)
	if len(matches) != 4 {
		err = parsingError(s)
		return
	}

	switch matches[1] {
	case "tcp":
		proto = config.ProtoTCP
	case "ws":
		proto = config.ProtoWS
	case "kcp":
		proto = config.ProtoKCP
	}
	host = matches[2]
	if host == "*" { // also counts as all interfaces
		host = ""
	}

	port, err = strconv.Atoi(matches[3])
	if err != nil || port < 1 || port > 65535 {
		err = parsingError(s)
		return
	}

	return
}

func parsingError(s string) error {
	return fmt.Errorf("parsing %s: format should be 'protocol://host:port', where protocol = tcp|ws|kcp", s)
}

// ParseMulticast parses "group:port" where group is an IPv4 multicast address.
func ParseMulticast(s string) (group string, port int, err error) {
	host, p, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, fmt.Errorf("parsing %s: %w", s, err)
	}

	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
		return "", 0, fmt.Errorf("parsing %s: '%s' is not an IPv4 multicast group", s, host)
	}

	port, err = strconv.Atoi(p)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("parsing %s: invalid port '%s'", s, p)
	}
	return host, port, nil
}
