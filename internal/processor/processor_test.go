package processor

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/logindex/internal/accesslog"
	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/model"
	"github.com/GabrielNunesIT/logindex/internal/testutil"
)

const combinedLine = `203.0.113.7 - - [15/Jun/2021:12:00:00 -0400] "GET /index.html?a=1 HTTP/1.1" 200 512 "https://Example.org/page" "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)" example.com country="us" city="new york"`

func TestLineParser(t *testing.T) {
	parser := NewLineParser(config.ParserConfig{Enabled: true})
	assert.Equal(t, "parser", parser.Name())

	entry := model.NewEntry("file", []byte(combinedLine))
	require.NoError(t, parser.Process(context.Background(), entry))

	require.NotNil(t, entry.Record)
	assert.Equal(t, "203.0.113.7", entry.Record.IP)
	assert.Equal(t, "/index.html", entry.Record.URI)
	assert.Equal(t, "a=1", entry.Record.Query)
	assert.Equal(t, "2021-06-15-16", entry.Record.Datestamp)
	assert.Equal(t, "example.org", entry.Record.ReferrerDomain)
	assert.Equal(t, "US", entry.Record.Extras["country"])
	assert.Equal(t, "New York", entry.Record.Extras["city"])
	assert.Equal(t, Hash([]byte(combinedLine)), entry.Hash)
	assert.Len(t, entry.Hash, 32)
}

func TestLineParser_Disabled(t *testing.T) {
	parser := NewLineParser(config.ParserConfig{Enabled: false})

	entry := model.NewEntry("file", []byte(combinedLine))
	require.NoError(t, parser.Process(context.Background(), entry))
	assert.Nil(t, entry.Record)
	assert.Empty(t, entry.Hash)
}

func TestLineParser_Unparsed(t *testing.T) {
	parser := NewLineParser(config.ParserConfig{Enabled: true})

	for _, raw := range []string{"   ", "-"} {
		entry := model.NewEntry("stdin", []byte(raw))
		err := parser.Process(context.Background(), entry)
		assert.ErrorIs(t, err, ErrUnparsed, "raw=%q", raw)
		assert.Nil(t, entry.Record)
	}
}

func TestLineParser_TimestampFailureHook(t *testing.T) {
	var failures []string
	parser := NewLineParser(config.ParserConfig{Enabled: true},
		WithTimestampFailureHook(func(source string) { failures = append(failures, source) }))

	bad := model.NewEntry("syslog", []byte(`1.2.3.4 - - [yesterday] "GET / HTTP/1.1" 200 5`))
	require.NoError(t, parser.Process(context.Background(), bad))
	assert.Nil(t, bad.Record.UnixTimestamp)

	good := model.NewEntry("file", []byte(combinedLine))
	require.NoError(t, parser.Process(context.Background(), good))

	assert.Equal(t, []string{"syslog"}, failures)
}

func TestLineParser_UnwrapJSON(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
		raw    string
		wantIP string
	}{
		{
			name:   "docker json-file envelope",
			raw:    `{"log":"10.0.0.1 - - [15/Jun/2021:12:00:00 +0000] \"GET / HTTP/1.1\" 200 5\n","stream":"stdout","time":"2021-06-15T12:00:00Z"}`,
			wantIP: "10.0.0.1",
		},
		{
			name:   "message key",
			raw:    `  {"message":"10.0.0.2 - - [15/Jun/2021:12:00:00 +0000] \"GET / HTTP/1.1\" 200 5"}  `,
			wantIP: "10.0.0.2",
		},
		{
			name:   "custom key",
			fields: []string{"line"},
			raw:    `{"log":"ignored","line":"10.0.0.3 - - [15/Jun/2021:12:00:00 +0000] \"GET / HTTP/1.1\" 200 5"}`,
			wantIP: "10.0.0.3",
		},
		{
			name:   "plain line passes through",
			raw:    `10.0.0.4 - - [15/Jun/2021:12:00:00 +0000] "GET / HTTP/1.1" 200 5`,
			wantIP: "10.0.0.4",
		},
		{
			name:   "invalid json is parsed as a line",
			raw:    `{not json`,
			wantIP: "{not",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := NewLineParser(config.ParserConfig{Enabled: true, UnwrapJSON: true, JSONFields: tt.fields})
			entry := model.NewEntry("stdin", []byte(tt.raw))

			require.NoError(t, parser.Process(context.Background(), entry))
			assert.Equal(t, tt.wantIP, entry.Record.IP)
		})
	}
}

func TestHash(t *testing.T) {
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", Hash([]byte("abc")))
	assert.Equal(t, Hash([]byte("abc")), Hash([]byte("abc\n")))
}

func TestAgentDomain(t *testing.T) {
	tests := []struct {
		agent string
		want  string
	}{
		{"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", "google.com"},
		{"Mozilla/5.0 (compatible; bingbot/2.0; +http://www.bing.com/bingbot.htm)", "bing.com"},
		{"Mozilla/5.0 (compatible; AhrefsBot/7.0; +http://ahrefs.com/robot/)", "ahrefs.com"},
		{"Mozilla/5.0 (compatible; Example/1.0; https://Crawler.Example.NET; bot)", "crawler.example.net"},
		{"curl/7.68.0", ""},
		{"see http://example.com", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.agent, func(t *testing.T) {
			assert.Equal(t, tt.want, AgentDomain(tt.agent))
		})
	}
}

func TestEnricher(t *testing.T) {
	cfg := config.EnricherConfig{
		Enabled:      true,
		AddHostname:  true,
		Hostname:     "test-host",
		AgentDomain:  true,
		StaticLabels: map[string]string{"env": "test", "dc": "us-east"},
	}

	enricher := NewEnricher(cfg)
	assert.Equal(t, "enricher", enricher.Name())

	entry := model.NewEntry("test", []byte("test"))
	entry.Record = &accesslog.Record{
		IP:    "1.2.3.4",
		Agent: "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
	}

	require.NoError(t, enricher.Process(context.Background(), entry))

	assert.Equal(t, "test-host", entry.Metadata["hostname"])
	assert.Equal(t, "test", entry.Metadata["env"])
	assert.Equal(t, "us-east", entry.Metadata["dc"])
	assert.Equal(t, "google.com", entry.Record.Extras["agent_domain"])
}

func TestEnricher_HostnameRequiresAddHostname(t *testing.T) {
	enricher := NewEnricher(config.EnricherConfig{Enabled: true, Hostname: "web1"})

	entry := model.NewEntry("test", nil)
	require.NoError(t, enricher.Process(context.Background(), entry))
	assert.NotContains(t, entry.Metadata, "hostname")
}

func TestEnricher_KeepsLoggedAgentDomain(t *testing.T) {
	enricher := NewEnricher(config.EnricherConfig{Enabled: true, AgentDomain: true})

	entry := model.NewEntry("test", nil)
	entry.Record = &accesslog.Record{
		Agent:  "Googlebot/2.1 (+http://www.google.com/bot.html)",
		Extras: map[string]string{"agent_domain": "from-line.example"},
	}

	require.NoError(t, enricher.Process(context.Background(), entry))
	assert.Equal(t, "from-line.example", entry.Record.Extras["agent_domain"])
}

func TestEnricher_Disabled(t *testing.T) {
	enricher := NewEnricher(config.EnricherConfig{Enabled: false, AddHostname: true, Hostname: "h"})

	entry := model.NewEntry("test", nil)
	require.NoError(t, enricher.Process(context.Background(), entry))
	assert.Empty(t, entry.Metadata)
}

// fakeLocator serves fixed locations keyed by address.
type fakeLocator map[string]Location

func (f fakeLocator) Locate(ip net.IP) (Location, error) {
	if loc, ok := f[ip.String()]; ok {
		return loc, nil
	}
	return Location{}, errors.New("address not found")
}

func TestGeoEnricher(t *testing.T) {
	locator := fakeLocator{
		"203.0.113.7":  {Country: "US", Region: "NY", City: "New York", Latitude: 40.7128, Longitude: -74.006},
		"198.51.100.1": {Country: "FR", City: "paris"},
	}
	geo := NewGeoEnricherWithLocator(config.GeoConfig{Enabled: true}, locator, testutil.NewTestLogger())
	assert.Equal(t, "geo", geo.Name())

	tests := []struct {
		name   string
		record *accesslog.Record
		want   map[string]string
	}{
		{
			name:   "fills everything",
			record: &accesslog.Record{IP: "203.0.113.7"},
			want: map[string]string{
				"country":   "US",
				"region":    "NY",
				"city":      "New York",
				"latitude":  "40.7128",
				"longitude": "-74.006",
			},
		},
		{
			name:   "keeps values from the line",
			record: &accesslog.Record{IP: "203.0.113.7", Extras: map[string]string{"city": "Brooklyn"}},
			want: map[string]string{
				"country":   "US",
				"region":    "NY",
				"city":      "Brooklyn",
				"latitude":  "40.7128",
				"longitude": "-74.006",
			},
		},
		{
			name:   "normalizes casing and skips empty values",
			record: &accesslog.Record{IP: "198.51.100.1"},
			want:   map[string]string{"country": "FR", "city": "Paris"},
		},
		{
			name:   "unknown address",
			record: &accesslog.Record{IP: "192.0.2.1"},
			want:   nil,
		},
		{
			name:   "not an address",
			record: &accesslog.Record{IP: "example.com"},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := model.NewEntry("file", nil)
			entry.Record = tt.record

			require.NoError(t, geo.Process(context.Background(), entry))
			if tt.want == nil {
				assert.Empty(t, entry.Record.Extras)
				return
			}
			assert.Equal(t, tt.want, entry.Record.Extras)
		})
	}
}

func TestGeoEnricher_WithoutDatabase(t *testing.T) {
	geo, err := NewGeoEnricher(config.GeoConfig{Enabled: true}, testutil.NewTestLogger())
	require.NoError(t, err)

	entry := model.NewEntry("file", nil)
	entry.Record = &accesslog.Record{IP: "203.0.113.7"}
	require.NoError(t, geo.Process(context.Background(), entry))
	assert.Empty(t, entry.Record.Extras)
	assert.NoError(t, geo.Close())
}

func TestGeoEnricher_MissingDatabase(t *testing.T) {
	_, err := NewGeoEnricher(config.GeoConfig{Enabled: true, CityDB: "/nonexistent/GeoLite2-City.mmdb"}, testutil.NewTestLogger())
	assert.Error(t, err)
}

type recordingProcessor struct {
	name  string
	calls *[]string
	err   error
}

func (r recordingProcessor) Name() string { return r.name }

func (r recordingProcessor) Process(context.Context, *model.Entry) error {
	*r.calls = append(*r.calls, r.name)
	return r.err
}

func TestChain(t *testing.T) {
	var calls []string
	chain := NewChain(recordingProcessor{name: "a", calls: &calls})
	chain.Add(recordingProcessor{name: "b", calls: &calls, err: ErrUnparsed})
	chain.Add(recordingProcessor{name: "c", calls: &calls})

	assert.Equal(t, "chain", chain.Name())
	assert.Equal(t, 3, chain.Len())
	assert.Equal(t, []string{"a", "b", "c"}, chain.Names())

	err := chain.Process(context.Background(), model.NewEntry("test", nil))
	assert.ErrorIs(t, err, ErrUnparsed)
	assert.Equal(t, []string{"a", "b"}, calls, "processing stops at the first error")
}

func TestChain_Cancelled(t *testing.T) {
	var calls []string
	chain := NewChain(recordingProcessor{name: "a", calls: &calls})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, chain.Process(ctx, model.NewEntry("test", nil)), context.Canceled)
	assert.Empty(t, calls)
}

func TestChain_FullPipeline(t *testing.T) {
	chain := NewChain(
		NewLineParser(config.ParserConfig{Enabled: true}),
		NewEnricher(config.EnricherConfig{Enabled: true, AddHostname: true, Hostname: "web1", AgentDomain: true}),
		NewGeoEnricherWithLocator(config.GeoConfig{Enabled: true},
			fakeLocator{"203.0.113.7": {Country: "US", Region: "NY", City: "Manhattan", Latitude: 1, Longitude: 2}}, testutil.NewTestLogger()),
	)

	entry := model.NewEntry("file", []byte(combinedLine))
	require.NoError(t, chain.Process(context.Background(), entry))

	assert.Equal(t, "google.com", entry.Record.Extras["agent_domain"])
	assert.Equal(t, "US", entry.Record.Extras["country"])
	assert.Equal(t, "New York", entry.Record.Extras["city"])
	assert.Equal(t, "NY", entry.Record.Extras["region"])
	assert.Equal(t, "web1", entry.Metadata["hostname"])
}

type closingProcessor struct {
	recordingProcessor
	closed   *int
	closeErr error
}

func (c closingProcessor) Close() error {
	*c.closed++
	return c.closeErr
}

func TestChain_Close(t *testing.T) {
	var calls []string
	closed := 0
	chain := NewChain(
		recordingProcessor{name: "plain", calls: &calls},
		closingProcessor{recordingProcessor: recordingProcessor{name: "geo", calls: &calls}, closed: &closed, closeErr: errors.New("busy")},
	)

	err := chain.Close()
	assert.ErrorContains(t, err, "geo: busy")
	assert.Equal(t, 1, closed)

	assert.NoError(t, chain.Close())
	assert.Equal(t, 1, closed)
}
