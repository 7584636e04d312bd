package discovery

import (
	"context"
	"net"
	"time"
)

const defaultStaticInterval = time.Second

// StaticBrowser reports a fixed list of host:port peers, once immediately
// and then every Interval, for deployments without multicast.
type StaticBrowser struct {
	Peers    []string
	Interval time.Duration
}

func (b StaticBrowser) Browse(ctx context.Context, found func(Endpoint)) error {
	interval := b.Interval
	if interval <= 0 {
		interval = defaultStaticInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for _, peer := range b.Peers {
			if ctx.Err() != nil {
				return nil
			}
			host, _, err := net.SplitHostPort(peer)
			if err != nil {
				continue
			}
			found(Endpoint{Instance: peer, Host: host, Addr: peer})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// NopAdvertiser satisfies Advertiser without announcing anything.
type NopAdvertiser struct{}

func (NopAdvertiser) Advertise(port int) (Advertisement, error) {
	if port <= 0 {
		return nil, ErrInvalidPort
	}
	return nopAdvertisement{}, nil
}

type nopAdvertisement struct{}

func (nopAdvertisement) Shutdown() error { return nil }
