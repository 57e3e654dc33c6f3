package accesslog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func TestParse(t *testing.T) {
	r := Parse(fixture(t, "combined.log"))

	assert.Equal(t, "100.200.300.400", r.IP)
	assert.Empty(t, r.Identity)
	assert.Equal(t, "fakeuser", r.User)
	assert.Equal(t, "01/Jan/1999:03:01:01 -0500", r.Timestamp)
	assert.Equal(t, "1999-01-01-08", r.Datestamp)
	require.NotNil(t, r.UnixTimestamp)
	assert.Equal(t, 915177661.0, *r.UnixTimestamp)
	assert.Equal(t, time.Date(1999, 1, 1, 8, 1, 1, 0, time.UTC), r.Time)
	assert.Equal(t, "GET", r.Method)
	assert.Equal(t, "/hello/world.html", r.URI)
	assert.Equal(t, "param1=value1&param2=value2", r.Query)
	assert.Equal(t, "HTTP/1.1", r.HTTPVersion)
	require.NotNil(t, r.StatusCode)
	assert.Equal(t, 302, *r.StatusCode)
	require.NotNil(t, r.BytesSent)
	assert.Equal(t, int64(0), *r.BytesSent)
	assert.Equal(t, "http://example.com/page.html", r.Referrer)
	assert.Equal(t, "example.com", r.ReferrerDomain)
	assert.Equal(t, "Mozilla/5.0 (+http://www.example.com/bot.html)", r.Agent)
	assert.Equal(t, "example.com", r.Host)

	assert.Equal(t, "abcdefg", r.Extras["request_id"])
	assert.Equal(t, "New York", r.Extras["city"])
	assert.Equal(t, "123", r.Extras["latitude"])
	assert.Equal(t, "456", r.Extras["longitude"])
	assert.NotContains(t, r.Extras, "region")
	assert.NotContains(t, r.Extras, "latlong")
}

func TestParse_NoReferrer(t *testing.T) {
	r := Parse(fixture(t, "combined_noreferrer.log"))

	assert.Empty(t, r.Referrer)
	assert.Empty(t, r.ReferrerDomain)
	assert.Empty(t, r.User)
	assert.Empty(t, r.Query)

	// Fields after the missing referrer still line up.
	assert.Equal(t, "Mozilla/5.0 (X11; Linux x86_64)", r.Agent)
	assert.Equal(t, "example.com", r.Host)
	assert.Equal(t, "US", r.Extras["country"])
	require.NotNil(t, r.StatusCode)
	assert.Equal(t, 200, *r.StatusCode)
	require.NotNil(t, r.BytesSent)
	assert.Equal(t, int64(512), *r.BytesSent)
}

func TestParse_EmptyQuotedReferrer(t *testing.T) {
	line := `10.0.0.1 - - [10/Oct/2020:13:55:36 +0000] "GET /a HTTP/2.0" 404 17 "" "curl/7.68.0" www.example.org`
	r := Parse(line + ` city="paris"`)

	assert.Empty(t, r.Referrer)
	assert.Empty(t, r.ReferrerDomain)
	assert.Equal(t, "curl/7.68.0", r.Agent)
	assert.Equal(t, "www.example.org", r.Host)
	assert.Equal(t, "Paris", r.Extras["city"])
}

func TestParse_ReferrerDomainKeepsPort(t *testing.T) {
	line := `10.0.0.1 - - [10/Oct/2020:13:55:36 +0000] "GET / HTTP/1.1" 200 1 "https://Example.com:8443/x?y=1" "ua" host a="b"`
	r := Parse(line)

	assert.Equal(t, "example.com:8443", r.ReferrerDomain)
}

func TestParse_ReferrerWithoutHost(t *testing.T) {
	line := `10.0.0.1 - - [10/Oct/2020:13:55:36 +0000] "GET / HTTP/1.1" 200 1 "android-app" "ua" host a="b"`
	r := Parse(line)

	assert.Equal(t, "android-app", r.Referrer)
	assert.Empty(t, r.ReferrerDomain)
}

func TestParse_Degraded(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		check func(t *testing.T, r *Record)
	}{
		{
			name: "empty line",
			line: "",
			check: func(t *testing.T, r *Record) {
				assert.Empty(t, r.IP)
				assert.Nil(t, r.StatusCode)
				assert.NotNil(t, r.Extras)
				assert.Empty(t, r.Extras)
			},
		},
		{
			name: "single token",
			line: "garbage",
			check: func(t *testing.T, r *Record) {
				assert.Empty(t, r.IP)
				assert.Empty(t, r.Method)
				assert.Nil(t, r.UnixTimestamp)
			},
		},
		{
			name: "unbalanced quote is repaired",
			line: `1.2.3.4 - - [01/Jan/1999:03:01:01 -0500] "GET / HTTP/1.1" 200 10 "-" "Mozilla/5.0 (X11`,
			check: func(t *testing.T, r *Record) {
				assert.Equal(t, "1.2.3.4", r.IP)
				assert.Equal(t, "Mozilla/5.0 (X11", r.Agent)
				assert.Empty(t, r.Host)
			},
		},
		{
			name: "non-numeric status and size",
			line: `1.2.3.4 - - [01/Jan/1999:03:01:01 -0500] "GET / HTTP/1.1" abc - "-" "ua" vhost k="v"`,
			check: func(t *testing.T, r *Record) {
				assert.Nil(t, r.StatusCode)
				assert.Nil(t, r.BytesSent)
				assert.Equal(t, "ua", r.Agent)
				assert.Equal(t, "vhost", r.Host)
				assert.Equal(t, "v", r.Extras["k"])
			},
		},
		{
			name: "unparseable timestamp",
			line: `1.2.3.4 - - [yesterday] "GET / HTTP/1.1" 200 10 "-" "ua" vhost k="v"`,
			check: func(t *testing.T, r *Record) {
				assert.Equal(t, "yesterday", r.Timestamp)
				assert.Nil(t, r.UnixTimestamp)
				assert.Empty(t, r.Datestamp)
				assert.True(t, r.Time.IsZero())
				assert.Equal(t, "GET", r.Method)
			},
		},
		{
			name: "missing closing bracket",
			line: `1.2.3.4 - - [01/Jan/1999:03:01:01 -0500 "GET / HTTP/1.1" 200`,
			check: func(t *testing.T, r *Record) {
				assert.Equal(t, "1.2.3.4", r.IP)
				assert.Empty(t, r.Timestamp)
				assert.Nil(t, r.UnixTimestamp)
			},
		},
		{
			name: "ipv6 client",
			line: `2001:db8::1 - - [01/Jan/1999:03:01:01 -0500] "HEAD /ping HTTP/1.1" 204 0 "-" "probe" vhost k="v"`,
			check: func(t *testing.T, r *Record) {
				assert.Equal(t, "2001:db8::1", r.IP)
				assert.Equal(t, "HEAD", r.Method)
				require.NotNil(t, r.StatusCode)
				assert.Equal(t, 204, *r.StatusCode)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				tt.check(t, Parse(tt.line))
			})
		})
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trims", "  a b  \n", "a b"},
		{"balances quotes", `a "b`, `a "b"`},
		{"balanced untouched", `a "b"`, `a "b"`},
		{"empty referrer", `200 5 "" "ua"`, `200 5 - "ua"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
		ok   bool
	}{
		{
			name: "offset converted to UTC",
			in:   "01/Jan/1999:03:01:01 -0500",
			want: time.Date(1999, 1, 1, 8, 1, 1, 0, time.UTC),
			ok:   true,
		},
		{
			name: "brackets accepted",
			in:   "[10/Oct/2000:13:55:36 +0200]",
			want: time.Date(2000, 10, 10, 11, 55, 36, 0, time.UTC),
			ok:   true,
		},
		{
			name: "microsecond variant",
			in:   "01/Jan/1999:03:01:01:500000 -0500",
			want: time.Date(1999, 1, 1, 8, 1, 1, 500000000, time.UTC),
			ok:   true,
		},
		{name: "iso format rejected", in: "1999-01-01T03:01:01Z"},
		{name: "empty", in: ""},
		{name: "bad month", in: "01/Foo/1999:03:01:01 -0500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %v", got)
				assert.Equal(t, time.UTC, got.Location())
			}
		})
	}
}

func TestParse_MicrosecondTimestamp(t *testing.T) {
	r := Parse(`1.2.3.4 - - [01/Jan/1999:03:01:01:500000 -0500] "GET / HTTP/1.1" 200 1 "-" "ua" vhost`)

	require.NotNil(t, r.UnixTimestamp)
	assert.Equal(t, 915177661.5, *r.UnixTimestamp)
	assert.Equal(t, "1999-01-01-08", r.Datestamp)
}

func TestParseExtras(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]string
	}{
		{
			name: "embedded spaces",
			in:   `city="new york" country="us" region="ny"`,
			want: map[string]string{"city": "New York", "country": "US", "region": "NY"},
		},
		{
			name: "latlong split",
			in:   `latlong="40.1,-70.2"`,
			want: map[string]string{"latitude": "40.1", "longitude": "-70.2"},
		},
		{
			name: "latlong without comma kept",
			in:   `latlong="unknown"`,
			want: map[string]string{"latlong": "unknown"},
		},
		{
			name: "sentinels dropped",
			in:   `region="ZZ" city="?" country="-" cookie="" request_id="r1"`,
			want: map[string]string{"request_id": "r1"},
		},
		{
			name: "unknown keys stored as-is",
			in:   `trace="AbC def"`,
			want: map[string]string{"trace": "AbC def"},
		},
		{
			name: "no pairs",
			in:   "",
			want: map[string]string{},
		},
		{
			name: "unquoted value ignored",
			in:   `foo=bar`,
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseExtras(tt.in))
		})
	}
}

func TestRecord_Clone(t *testing.T) {
	original := Parse(fixture(t, "combined.log"))
	clone := original.Clone()

	assert.Equal(t, original, clone)

	clone.Extras["city"] = "Elsewhere"
	*clone.StatusCode = 500
	assert.Equal(t, "New York", original.Extras["city"])
	assert.Equal(t, 302, *original.StatusCode)

	var nilRecord *Record
	assert.Nil(t, nilRecord.Clone())
}
