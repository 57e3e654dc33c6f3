package processor

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/oschwald/geoip2-golang"

	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/field"
	"github.com/GabrielNunesIT/logindex/internal/model"
)

// Location is what the geo backfill knows about an address.
type Location struct {
	Country   string
	Region    string
	City      string
	Latitude  float64
	Longitude float64
}

// Locator resolves an address to a Location.
type Locator interface {
	Locate(ip net.IP) (Location, error)
}

// cityDB adapts a GeoIP2 City database to Locator.
type cityDB struct {
	reader *geoip2.Reader
}

func (c cityDB) Locate(ip net.IP) (Location, error) {
	city, err := c.reader.City(ip)
	if err != nil {
		return Location{}, err
	}
	loc := Location{
		Country:   city.Country.IsoCode,
		City:      city.City.Names["en"],
		Latitude:  city.Location.Latitude,
		Longitude: city.Location.Longitude,
	}
	if len(city.Subdivisions) > 0 {
		loc.Region = city.Subdivisions[0].IsoCode
	}
	return loc, nil
}

// GeoEnricher fills country, region, city, latitude and longitude from a
// GeoIP2 City database when the log line did not carry them. Values the
// line already has are never replaced.
type GeoEnricher struct {
	cfg     config.GeoConfig
	locator Locator
	closer  func() error
	logger  logger.ILogger
}

// NewGeoEnricher opens the configured City database. Without a database
// path the enricher is a no-op.
func NewGeoEnricher(cfg config.GeoConfig, log logger.ILogger) (*GeoEnricher, error) {
	g := &GeoEnricher{cfg: cfg, logger: log.SubLogger("GeoEnricher")}
	if !cfg.Enabled || cfg.CityDB == "" {
		return g, nil
	}

	reader, err := geoip2.Open(cfg.CityDB)
	if err != nil {
		return nil, fmt.Errorf("opening geoip database: %w", err)
	}
	g.locator = cityDB{reader: reader}
	g.closer = reader.Close
	return g, nil
}

// NewGeoEnricherWithLocator creates a GeoEnricher backed by locator.
func NewGeoEnricherWithLocator(cfg config.GeoConfig, locator Locator, log logger.ILogger) *GeoEnricher {
	return &GeoEnricher{cfg: cfg, locator: locator, logger: log.SubLogger("GeoEnricher")}
}

// Name returns the processor identifier.
func (g *GeoEnricher) Name() string {
	return "geo"
}

// Process backfills missing geo extras of a parsed entry.
func (g *GeoEnricher) Process(_ context.Context, entry *model.Entry) error {
	if !g.cfg.Enabled || g.locator == nil || entry.Record == nil {
		return nil
	}

	ip := net.ParseIP(entry.Record.IP)
	if ip == nil {
		return nil
	}

	loc, err := g.locator.Locate(ip)
	if err != nil {
		g.logger.Debugf("geoip lookup failed: ip=%s, error=%v", entry.Record.IP, err)
		return nil
	}

	values := map[string]string{
		"country": loc.Country,
		"region":  loc.Region,
		"city":    loc.City,
	}
	// 0,0 is what the database returns for addresses without coordinates.
	if loc.Latitude != 0 || loc.Longitude != 0 {
		values["latitude"] = strconv.FormatFloat(loc.Latitude, 'f', -1, 64)
		values["longitude"] = strconv.FormatFloat(loc.Longitude, 'f', -1, 64)
	}

	for key, value := range values {
		if _, ok := entry.Record.Extra(key); ok || field.IsUnknown(value) {
			continue
		}
		if entry.Record.Extras == nil {
			entry.Record.Extras = make(map[string]string)
		}
		entry.Record.Extras[key] = field.NormalizeExtra(key, value)
	}
	return nil
}

// Close releases the database.
func (g *GeoEnricher) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer()
}
