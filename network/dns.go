package network

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	// SeedService is the SRV service name of peer seeds: _dig._tcp.{domain}.
	SeedService = "dig"

	defaultUpstream = "8.8.8.8:53"
	dnsTimeout      = 10 * time.Second
	edns0BufSize    = 4096
)

// DNSSeeder discovers bootstrap peers from SRV records.
type DNSSeeder struct {
	// Upstream is the recursive resolver address (e.g., "8.8.8.8:53").
	Upstream string
	// RequireDNSSEC rejects answers without the AD (Authenticated Data) flag.
	RequireDNSSEC bool
	// Net is the transport passed to the DNS client ("udp" or "tcp").
	Net string
}

// NewDNSSeeder creates a seeder. If upstream is empty it defaults to "8.8.8.8:53".
func NewDNSSeeder(upstream string) *DNSSeeder {
	if upstream == "" {
		upstream = defaultUpstream
	}
	return &DNSSeeder{Upstream: upstream, Net: "udp"}
}

// Seeds resolves _dig._tcp.{domain} and returns host:port addresses sorted by
// priority ascending, then weight descending.
func (s *DNSSeeder) Seeds(ctx context.Context, domain string) ([]string, error) {
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrDNSLookupFailed)
	}
	qname := dns.Fqdn(fmt.Sprintf("_%s._tcp.%s", SeedService, domain))

	msg := new(dns.Msg)
	msg.SetQuestion(qname, dns.TypeSRV)
	msg.RecursionDesired = true
	msg.SetEdns0(edns0BufSize, s.RequireDNSSEC)

	client := &dns.Client{Net: s.Net, Timeout: dnsTimeout}
	resp, _, err := client.ExchangeContext(ctx, msg, s.Upstream)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %w", ErrDNSLookupFailed, qname, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%w: query %s: rcode %s", ErrDNSLookupFailed, qname, dns.RcodeToString[resp.Rcode])
	}
	if s.RequireDNSSEC && !resp.AuthenticatedData {
		return nil, fmt.Errorf("%w: AD flag not set for %s", ErrDNSSECValidationFailed, qname)
	}

	var records []*net.SRV
	for _, rr := range resp.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			records = append(records, &net.SRV{
				Target:   srv.Target,
				Port:     srv.Port,
				Priority: srv.Priority,
				Weight:   srv.Weight,
			})
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Weight > records[j].Weight
	})

	seeds := make([]string, len(records))
	for i, srv := range records {
		host := strings.TrimSuffix(srv.Target, ".")
		seeds[i] = net.JoinHostPort(host, strconv.Itoa(int(srv.Port)))
	}
	return seeds, nil
}

// SeededCatalog falls back to DNS seed peers when the underlying catalog
// resolves no peers for a store.
type SeededCatalog struct {
	PeerCatalog
	Seeder *DNSSeeder
	Domain string
}

// ResolvePeers returns the underlying catalog's peers, or the DNS seeds when
// that set is empty or the lookup fails.
func (c *SeededCatalog) ResolvePeers(ctx context.Context, storeID string, sampleSize int, blacklist []string) ([]string, error) {
	peers, err := c.PeerCatalog.ResolvePeers(ctx, storeID, sampleSize, blacklist)
	if err == nil && len(peers) > 0 {
		return peers, nil
	}
	seeds, serr := c.Seeder.Seeds(ctx, c.Domain)
	if serr != nil {
		if err != nil {
			return nil, err
		}
		return nil, serr
	}
	return FilterPeers(seeds, sampleSize, blacklist), nil
}
