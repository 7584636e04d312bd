// Package discovery locates link peers on the local network. The accepting
// role advertises one fixed service type; the initiating role browses for
// it. No TXT metadata is published.
package discovery

import (
	"context"
	"errors"
	"strings"
)

const (
	DefaultServiceType = "_hostlink._tcp"
	DefaultDomain      = "local."
)

var (
	ErrInvalidServiceType = errors.New("discovery: invalid service type")
	ErrInvalidPort        = errors.New("discovery: invalid port")
)

// Endpoint is one browse result.
type Endpoint struct {
	Instance string
	Host     string
	// Addr is a dialable host:port.
	Addr string
}

// Browser reports candidate peers until ctx is done. found may be called
// more than once and for the same endpoint repeatedly.
type Browser interface {
	Browse(ctx context.Context, found func(Endpoint)) error
}

// Advertiser announces the local listener on port.
type Advertiser interface {
	Advertise(port int) (Advertisement, error)
}

// Advertisement is a running announcement.
type Advertisement interface {
	Shutdown() error
}

// ValidateServiceType accepts "_name._tcp" or "_name._udp".
func ValidateServiceType(service string) error {
	parts := strings.Split(service, ".")
	if len(parts) != 2 {
		return ErrInvalidServiceType
	}
	if len(parts[0]) < 2 || parts[0][0] != '_' {
		return ErrInvalidServiceType
	}
	if parts[1] != "_tcp" && parts[1] != "_udp" {
		return ErrInvalidServiceType
	}
	return nil
}
