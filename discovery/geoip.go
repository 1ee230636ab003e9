package discovery

import (
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// GeoIPEnricher populates a DeviceRecord's advisory QTH field from a
// MaxMind GeoIP2 database, mirroring GeoIPService's behavior (a
// disabled no-op when the database path is empty, English-name lookup
// with ISO-code fallback).
type GeoIPEnricher struct {
	db      *geoip2.Reader
	mu      sync.RWMutex
	enabled bool
}

// NewGeoIPEnricher opens the MaxMind database at dbPath. An empty path
// returns a disabled enricher rather than an error, matching
// GeoIPService's "missing config disables the feature" convention.
func NewGeoIPEnricher(dbPath string) (*GeoIPEnricher, error) {
	if dbPath == "" {
		return &GeoIPEnricher{enabled: false}, nil
	}
	db, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("discovery: opening GeoIP database %s: %w", dbPath, err)
	}
	return &GeoIPEnricher{db: db, enabled: true}, nil
}

// Enrich sets rec.QTH to a "City, Country" advisory string resolved
// from rec.Host. It never touches any other field: QTH is advisory
// only, never authoritative source info.
func (g *GeoIPEnricher) Enrich(rec *DeviceRecord) {
	if !g.enabled {
		return
	}
	ip := net.ParseIP(rec.Host)
	if ip == nil {
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	city, err := g.db.City(ip)
	if err != nil {
		return
	}

	country := city.Country.IsoCode
	if name, ok := city.Country.Names["en"]; ok && name != "" {
		country = name
	}
	cityName := ""
	if name, ok := city.City.Names["en"]; ok {
		cityName = name
	}

	switch {
	case cityName != "" && country != "":
		rec.QTH = cityName + ", " + country
	case country != "":
		rec.QTH = country
	}
}

// Close releases the underlying database.
func (g *GeoIPEnricher) Close() error {
	if g.db != nil {
		return g.db.Close()
	}
	return nil
}
