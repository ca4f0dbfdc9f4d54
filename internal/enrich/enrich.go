// Package enrich attaches best-effort context (reverse DNS, geolocation,
// WHOIS) to a copy of a connection alert. Every lookup is individually timed
// out; a failed lookup leaves its field empty and never fails enrichment.
package enrich

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/EasonC13-shadow/LuLuAICompanion/internal/domain"
)

const (
	defaultGeoAPIBase = "http://ip-api.com/json"
	defaultLookupTime = 2 * time.Second
	defaultCacheTTL   = 10 * time.Minute
	whoisPort         = "43"
	whoisRootServer   = "whois.iana.org"
	maxWhoisLines     = 12
)

// Enricher implements domain.Enricher.
type Enricher struct {
	geoAPIBase  string
	lookupTime  time.Duration
	resolver    *net.Resolver
	httpClient  *http.Client
	logger      *slog.Logger
	whoisDialer func(ctx context.Context, addr string) (net.Conn, error)

	cacheTTL time.Duration
	cacheMu  sync.RWMutex
	dnsCache map[string]dnsCacheEntry
}

type dnsCacheEntry struct {
	hostname string
	cachedAt time.Time
}

// Config configures an Enricher.
type Config struct {
	GeoAPIBase string
	LookupTime time.Duration
	CacheTTL   time.Duration
	Logger     *slog.Logger
}

func New(cfg Config) *Enricher {
	if cfg.GeoAPIBase == "" {
		cfg.GeoAPIBase = defaultGeoAPIBase
	}
	if cfg.LookupTime <= 0 {
		cfg.LookupTime = defaultLookupTime
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d := &net.Dialer{}
	return &Enricher{
		geoAPIBase: cfg.GeoAPIBase,
		lookupTime: cfg.LookupTime,
		cacheTTL:   cfg.CacheTTL,
		resolver:   &net.Resolver{PreferGo: true},
		httpClient: &http.Client{Timeout: cfg.LookupTime + time.Second},
		logger:     cfg.Logger,
		whoisDialer: func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		},
		dnsCache: make(map[string]dnsCacheEntry),
	}
}

// Enrich returns a copy of alert with whatever lookups succeeded attached.
// The original alert is never mutated.
func (e *Enricher) Enrich(ctx context.Context, alert *domain.ConnectionAlert) *domain.ConnectionAlert {
	out := alert.Clone()
	if out == nil || out.IPAddress == "" {
		return out
	}

	if out.ReverseDNS == "" {
		out.ReverseDNS = e.reverseDNS(ctx, out.IPAddress)
	}
	if geo := e.geoLocate(ctx, out.IPAddress); geo != "" {
		out.GeoLocation = geo
	}
	if whois := e.whois(ctx, out.IPAddress); whois != "" {
		out.WhoisData = whois
	}
	return out
}

// reverseDNS resolves ip with a TTL cache; negative results are cached as "".
func (e *Enricher) reverseDNS(ctx context.Context, ip string) string {
	e.cacheMu.RLock()
	if entry, ok := e.dnsCache[ip]; ok && time.Since(entry.cachedAt) < e.cacheTTL {
		e.cacheMu.RUnlock()
		return entry.hostname
	}
	e.cacheMu.RUnlock()

	lookupCtx, cancel := context.WithTimeout(ctx, e.lookupTime)
	defer cancel()

	hostname := ""
	names, err := e.resolver.LookupAddr(lookupCtx, ip)
	if err == nil && len(names) > 0 {
		hostname = strings.TrimSuffix(names[0], ".")
	}

	e.cacheMu.Lock()
	e.dnsCache[ip] = dnsCacheEntry{hostname: hostname, cachedAt: time.Now()}
	e.cacheMu.Unlock()
	return hostname
}

type geoResponse struct {
	Status  string `json:"status"`
	Country string `json:"country"`
	City    string `json:"city"`
	Org     string `json:"org"`
	ISP     string `json:"isp"`
}

func (e *Enricher) geoLocate(ctx context.Context, ip string) string {
	reqCtx, cancel := context.WithTimeout(ctx, e.lookupTime)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet,
		e.geoAPIBase+"/"+ip+"?fields=status,country,city,org,isp", nil)
	if err != nil {
		return ""
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.Debug("geo lookup failed", "ip", ip, "error", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var geo geoResponse
	if err := json.NewDecoder(resp.Body).Decode(&geo); err != nil || geo.Status != "success" {
		return ""
	}

	parts := make([]string, 0, 3)
	if geo.City != "" {
		parts = append(parts, geo.City)
	}
	if geo.Country != "" {
		parts = append(parts, geo.Country)
	}
	if geo.Org != "" {
		parts = append(parts, geo.Org)
	} else if geo.ISP != "" {
		parts = append(parts, geo.ISP)
	}
	return strings.Join(parts, ", ")
}

// whois queries the IANA root, follows one referral, and keeps the first
// meaningful lines of the answer.
func (e *Enricher) whois(ctx context.Context, ip string) string {
	answer := e.whoisQuery(ctx, whoisRootServer, ip)
	if answer == "" {
		return ""
	}
	if refer := whoisReferral(answer); refer != "" {
		if referred := e.whoisQuery(ctx, refer, ip); referred != "" {
			answer = referred
		}
	}
	return summarizeWhois(answer)
}

func (e *Enricher) whoisQuery(ctx context.Context, server, query string) string {
	dialCtx, cancel := context.WithTimeout(ctx, e.lookupTime)
	defer cancel()

	conn, err := e.whoisDialer(dialCtx, net.JoinHostPort(server, whoisPort))
	if err != nil {
		e.logger.Debug("whois dial failed", "server", server, "error", err)
		return ""
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(e.lookupTime))

	if _, err := fmt.Fprintf(conn, "%s\r\n", query); err != nil {
		return ""
	}

	var b strings.Builder
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func whoisReferral(answer string) string {
	for _, line := range strings.Split(answer, "\n") {
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "refer:") || strings.HasPrefix(lower, "whois:") {
			return strings.TrimSpace(line[strings.Index(line, ":")+1:])
		}
	}
	return ""
}

// summarizeWhois keeps the lines worth showing a model: org, country, net
// name and range, capped so the prompt stays small.
func summarizeWhois(answer string) string {
	keep := []string{"orgname:", "org-name:", "organization:", "netname:", "country:", "cidr:", "inetnum:", "netrange:", "descr:"}
	var lines []string
	for _, line := range strings.Split(answer, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		for _, prefix := range keep {
			if strings.HasPrefix(lower, prefix) {
				lines = append(lines, trimmed)
				break
			}
		}
		if len(lines) >= maxWhoisLines {
			break
		}
	}
	return strings.Join(lines, "\n")
}
