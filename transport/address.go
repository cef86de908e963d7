package transport

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// Environment variables read by AddressFromEnv.
const (
	EnvRemoteURL  = "OP_HARNESS_REMOTE_URL"
	EnvRemoteHost = "OP_HARNESS_REMOTE_HOST"
	EnvRemotePort = "OP_HARNESS_REMOTE_PORT"
)

const (
	DefaultRemoteHost = "localhost"
	DefaultRemotePort = 1090
	WebsocketPath     = "/ws"
)

// DefaultRemoteURL is the address used when nothing is configured.
var DefaultRemoteURL = Address{Host: DefaultRemoteHost, Port: DefaultRemotePort}.String()

// Address locates a remote endpoint. URL wins over Host and Port.
type Address struct {
	URL  string
	Host string
	Port int
}

func (a Address) String() string {
	if a.URL != "" {
		return a.URL
	}
	host := a.Host
	if host == "" {
		host = DefaultRemoteHost
	}
	port := a.Port
	if port == 0 {
		port = DefaultRemotePort
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port)) + WebsocketPath
}

// AddressFromEnv reads the remote address from the process environment.
func AddressFromEnv() (Address, error) {
	return addressFromLookup(os.LookupEnv)
}

func addressFromLookup(lookup func(string) (string, bool)) (Address, error) {
	addr := Address{Host: DefaultRemoteHost, Port: DefaultRemotePort}
	if v, ok := lookup(EnvRemoteURL); ok && v != "" {
		addr.URL = v
	}
	if v, ok := lookup(EnvRemoteHost); ok && v != "" {
		addr.Host = v
	}
	if v, ok := lookup(EnvRemotePort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return Address{}, fmt.Errorf("invalid %s %q", EnvRemotePort, v)
		}
		addr.Port = port
	}
	return addr, nil
}
