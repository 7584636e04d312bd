package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog/log"
)

const (
	defaultQueryTimeout  = time.Second
	defaultQueryInterval = 2 * time.Second
)

// MDNSConfig holds the DNS-SD parameters shared by browse and advertise.
type MDNSConfig struct {
	Instance      string
	ServiceType   string
	Domain        string
	Interface     *net.Interface
	QueryTimeout  time.Duration
	QueryInterval time.Duration
}

func (c MDNSConfig) withDefaults() MDNSConfig {
	if c.ServiceType == "" {
		c.ServiceType = DefaultServiceType
	}
	if c.Domain == "" {
		c.Domain = DefaultDomain
	}
	if c.Instance == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "hostlink"
		}
		c.Instance = host
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
	if c.QueryInterval <= 0 {
		c.QueryInterval = defaultQueryInterval
	}
	return c
}

// serviceSuffix is the fully qualified service name entries must end with.
func (c MDNSConfig) serviceSuffix() string {
	return c.ServiceType + "." + strings.TrimSuffix(c.Domain, ".") + "."
}

type MDNSBrowser struct {
	cfg MDNSConfig
}

func NewMDNSBrowser(cfg MDNSConfig) (*MDNSBrowser, error) {
	cfg = cfg.withDefaults()
	if err := ValidateServiceType(cfg.ServiceType); err != nil {
		return nil, err
	}
	return &MDNSBrowser{cfg: cfg}, nil
}

// Browse issues one query per QueryInterval until ctx is done.
func (b *MDNSBrowser) Browse(ctx context.Context, found func(Endpoint)) error {
	for {
		if err := b.query(ctx, found); err != nil {
			log.Warn().Err(err).Str("service", b.cfg.ServiceType).Msg("mdns query failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.cfg.QueryInterval):
		}
	}
}

func (b *MDNSBrowser) query(ctx context.Context, found func(Endpoint)) error {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			if ctx.Err() != nil {
				continue
			}
			if ep, ok := b.endpoint(entry); ok {
				found(ep)
			}
		}
	}()

	params := mdns.DefaultParams(b.cfg.ServiceType)
	params.Domain = strings.TrimSuffix(b.cfg.Domain, ".")
	params.Timeout = b.cfg.QueryTimeout
	params.Interface = b.cfg.Interface
	params.Entries = entries
	err := mdns.Query(params)
	close(entries)
	<-done
	return err
}

func (b *MDNSBrowser) endpoint(entry *mdns.ServiceEntry) (Endpoint, bool) {
	if entry == nil || entry.Port <= 0 {
		return Endpoint{}, false
	}
	if !strings.HasSuffix(entry.Name, b.cfg.serviceSuffix()) {
		return Endpoint{}, false
	}
	var ip net.IP
	switch {
	case entry.AddrV4 != nil:
		ip = entry.AddrV4
	case entry.AddrV6 != nil:
		ip = entry.AddrV6
	default:
		return Endpoint{}, false
	}
	instance := strings.TrimSuffix(strings.TrimSuffix(entry.Name, b.cfg.serviceSuffix()), ".")
	return Endpoint{
		Instance: instance,
		Host:     entry.Host,
		Addr:     net.JoinHostPort(ip.String(), fmt.Sprint(entry.Port)),
	}, true
}

type MDNSAdvertiser struct {
	cfg MDNSConfig
}

func NewMDNSAdvertiser(cfg MDNSConfig) (*MDNSAdvertiser, error) {
	cfg = cfg.withDefaults()
	if err := ValidateServiceType(cfg.ServiceType); err != nil {
		return nil, err
	}
	return &MDNSAdvertiser{cfg: cfg}, nil
}

func (a *MDNSAdvertiser) Advertise(port int) (Advertisement, error) {
	if port <= 0 {
		return nil, ErrInvalidPort
	}
	service, err := mdns.NewMDNSService(
		a.cfg.Instance,
		a.cfg.ServiceType,
		a.cfg.Domain,
		"",
		port,
		localIPs(a.cfg.Interface),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("discovery: build service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service, Iface: a.cfg.Interface})
	if err != nil {
		return nil, fmt.Errorf("discovery: start responder: %w", err)
	}
	log.Info().
		Str("instance", a.cfg.Instance).
		Str("service", a.cfg.ServiceType).
		Int("port", port).
		Msg("advertising link service")
	return server, nil
}

// localIPs lists unicast addresses to publish; nil lets the responder
// resolve the hostname itself.
func localIPs(iface *net.Interface) []net.IP {
	var addrs []net.Addr
	var err error
	if iface != nil {
		addrs, err = iface.Addrs()
	} else {
		addrs, err = net.InterfaceAddrs()
	}
	if err != nil {
		return nil
	}
	var ips []net.IP
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || !ipnet.IP.IsGlobalUnicast() {
			continue
		}
		ips = append(ips, ipnet.IP)
	}
	return ips
}
