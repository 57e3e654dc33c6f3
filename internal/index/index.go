// Package index stores parsed access log lines in SQLite and runs compiled
// search clauses against them.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/GabrielNunesIT/logindex/internal/accesslog"
	"github.com/GabrielNunesIT/logindex/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS logs (
	unix_timestamp integer,
	datestamp,
	hash,
	source_file,
	source_offset integer,
	ip collate nocase,
	host collate nocase,
	uri collate nocase,
	query collate nocase,
	statusCode integer,
	method collate nocase,
	agent collate nocase,
	agent_domain collate nocase,
	classification collate nocase,
	country collate nocase,
	region collate nocase,
	city collate nocase,
	latitude real,
	longitude real,
	cookie collate nocase,
	referrer collate nocase,
	referrer_domain collate nocase,
	logline,
	UNIQUE(hash)
);

CREATE INDEX IF NOT EXISTS index_datestamp ON logs (datestamp desc);
CREATE INDEX IF NOT EXISTS index_datestamp_yyyymmdd ON logs (substr(datestamp, 0, 11));
CREATE INDEX IF NOT EXISTS index_ip ON logs (ip);
CREATE INDEX IF NOT EXISTS index_ip_datestamp ON logs (ip, datestamp);
CREATE INDEX IF NOT EXISTS index_host ON logs (host);
CREATE INDEX IF NOT EXISTS index_uri ON logs (uri);
CREATE INDEX IF NOT EXISTS index_statusCode ON logs (statusCode);
CREATE INDEX IF NOT EXISTS index_method ON logs (method);
CREATE INDEX IF NOT EXISTS index_agent_domain ON logs (agent_domain);
CREATE INDEX IF NOT EXISTS index_classification ON logs (classification);
CREATE INDEX IF NOT EXISTS index_country ON logs (country);
CREATE INDEX IF NOT EXISTS index_city ON logs (city);
CREATE INDEX IF NOT EXISTS index_region ON logs (region);
CREATE INDEX IF NOT EXISTS index_cookie ON logs (cookie);
CREATE INDEX IF NOT EXISTS index_source_file ON logs (source_file);

CREATE TABLE IF NOT EXISTS reverse_ip (
	ip,
	reverse_host,
	reverse_domain,
	organization,
	updated DEFAULT NULL,
	UNIQUE(ip)
);

CREATE INDEX IF NOT EXISTS index_reverse_domain ON reverse_ip (reverse_domain);

CREATE TRIGGER IF NOT EXISTS reverse_ip_after_update
AFTER UPDATE ON reverse_ip
BEGIN
	UPDATE reverse_ip SET updated=CURRENT_TIMESTAMP WHERE ip=new.ip;
END;

CREATE TRIGGER IF NOT EXISTS backfill_region_after_insert
AFTER INSERT ON logs
FOR EACH ROW WHEN IFNULL(new.region, '') = ''
BEGIN
	UPDATE logs SET region=(
		SELECT region FROM logs WHERE ip=new.ip AND region <> '' LIMIT 1
	) WHERE rowid=new.rowid;
END;

CREATE TRIGGER IF NOT EXISTS backfill_city_after_insert
AFTER INSERT ON logs
FOR EACH ROW WHEN IFNULL(new.city, '') = ''
BEGIN
	UPDATE logs SET city=(
		SELECT city FROM logs WHERE ip=new.ip AND city <> '' LIMIT 1
	) WHERE rowid=new.rowid;
END;
`

const insertLog = `INSERT OR IGNORE INTO logs (
	unix_timestamp, datestamp, hash, source_file, source_offset,
	ip, host, uri, query, statusCode, method, agent, agent_domain,
	classification, country, region, city, latitude, longitude,
	cookie, referrer, referrer_domain, logline
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertReverseIP = `INSERT OR IGNORE INTO reverse_ip (ip) VALUES (?)`

const selectColumns = `SELECT rowid, unix_timestamp, datestamp, logs.ip, host, uri, query,
	statusCode, method, agent, agent_domain, classification, country,
	region, city, latitude, longitude, cookie, referrer, referrer_domain,
	source_file, source_offset, logline
FROM logs`

// Index is the SQLite logs database.
type Index struct {
	db *sql.DB
}

// Open opens (or creates) the index at path and applies the schema.
func Open(ctx context.Context, path string) (*Index, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index schema: %w", err)
	}

	return &Index{db: db}, nil
}

// Close closes the database.
func (i *Index) Close() error {
	return i.db.Close()
}

// InsertResult describes one Insert call.
type InsertResult struct {
	// Inserted counts new rows. Lines already present by hash are skipped.
	Inserted int
	// FirstID and LastID bound the rowids of the new rows.
	FirstID int64
	LastID  int64
}

// Insert stores parsed entries in one transaction and registers their
// addresses for reverse lookup. Entries without a Record are skipped.
func (i *Index) Insert(ctx context.Context, entries []*model.Entry) (InsertResult, error) {
	var result InsertResult

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("beginning insert: %w", err)
	}
	defer tx.Rollback()

	logStmt, err := tx.PrepareContext(ctx, insertLog)
	if err != nil {
		return result, fmt.Errorf("preparing insert: %w", err)
	}
	defer logStmt.Close()

	ipStmt, err := tx.PrepareContext(ctx, insertReverseIP)
	if err != nil {
		return result, fmt.Errorf("preparing reverse_ip insert: %w", err)
	}
	defer ipStmt.Close()

	seen := make(map[string]struct{})
	for _, entry := range entries {
		if entry == nil || entry.Record == nil {
			continue
		}

		res, err := logStmt.ExecContext(ctx, logValues(entry)...)
		if err != nil {
			return result, fmt.Errorf("inserting line %s: %w", entry.Hash, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			id, _ := res.LastInsertId()
			if result.Inserted == 0 {
				result.FirstID = id
			}
			result.LastID = id
			result.Inserted++
		}

		ip := entry.Record.IP
		if _, ok := seen[ip]; ok || ip == "" {
			continue
		}
		seen[ip] = struct{}{}
		if _, err := ipStmt.ExecContext(ctx, ip); err != nil {
			return result, fmt.Errorf("registering address %s: %w", ip, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, fmt.Errorf("committing insert: %w", err)
	}
	return result, nil
}

func logValues(entry *model.Entry) []any {
	r := entry.Record
	return []any{
		nullFloat(r.UnixTimestamp),
		nullString(r.Datestamp),
		nullString(entry.Hash),
		nullString(entry.SourceFile),
		entry.Offset,
		r.IP,
		nullString(r.Host),
		nullString(r.URI),
		nullString(r.Query),
		nullInt(r.StatusCode),
		nullString(r.Method),
		nullString(r.Agent),
		extra(r, "agent_domain"),
		extra(r, "classification"),
		extra(r, "country"),
		extra(r, "region"),
		extra(r, "city"),
		extraFloat(r, "latitude"),
		extraFloat(r, "longitude"),
		extra(r, "cookie"),
		nullString(r.Referrer),
		nullString(r.ReferrerDomain),
		string(entry.Raw),
	}
}

// Row is one stored log line.
type Row struct {
	ID             int64    `json:"id"`
	UnixTimestamp  *float64 `json:"unix_timestamp,omitempty"`
	Datestamp      string   `json:"datestamp,omitempty"`
	IP             string   `json:"ip"`
	Host           string   `json:"host,omitempty"`
	URI            string   `json:"uri,omitempty"`
	Query          string   `json:"query,omitempty"`
	StatusCode     *int64   `json:"status_code,omitempty"`
	Method         string   `json:"method,omitempty"`
	Agent          string   `json:"agent,omitempty"`
	AgentDomain    string   `json:"agent_domain,omitempty"`
	Classification string   `json:"classification,omitempty"`
	Country        string   `json:"country,omitempty"`
	Region         string   `json:"region,omitempty"`
	City           string   `json:"city,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	Cookie         string   `json:"cookie,omitempty"`
	Referrer       string   `json:"referrer,omitempty"`
	ReferrerDomain string   `json:"referrer_domain,omitempty"`
	SourceFile     string   `json:"source_file,omitempty"`
	SourceOffset   int64    `json:"source_offset"`
	Logline        string   `json:"logline"`
}

// SearchSQL builds the statement Search runs. An empty clause means no
// filter. A positive limit adds a LIMIT placeholder.
func SearchSQL(clause string, limit int) string {
	var b strings.Builder
	b.WriteString(selectColumns)
	if clause != "" {
		b.WriteString("\nWHERE ")
		b.WriteString(clause)
	}
	b.WriteString("\nORDER BY unix_timestamp DESC")
	if limit > 0 {
		b.WriteString("\nLIMIT ?")
	}
	return b.String()
}

func limitArgs(limit int) []any {
	if limit > 0 {
		return []any{limit}
	}
	return nil
}

// Search returns the newest rows matching clause, a compiled WHERE clause.
func (i *Index) Search(ctx context.Context, clause string, limit int) ([]Row, error) {
	rows, err := i.db.QueryContext(ctx, SearchSQL(clause, limit), limitArgs(limit)...)
	if err != nil {
		return nil, fmt.Errorf("running search: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("reading search row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Explain returns the query plan SQLite chooses for a search.
func (i *Index) Explain(ctx context.Context, clause string, limit int) ([]string, error) {
	rows, err := i.db.QueryContext(ctx, "EXPLAIN QUERY PLAN "+SearchSQL(clause, limit), limitArgs(limit)...)
	if err != nil {
		return nil, fmt.Errorf("explaining search: %w", err)
	}
	defer rows.Close()

	var plan []string
	for rows.Next() {
		var id, parent, notUsed int
		var detail string
		if err := rows.Scan(&id, &parent, &notUsed, &detail); err != nil {
			return nil, fmt.Errorf("reading query plan: %w", err)
		}
		plan = append(plan, detail)
	}
	return plan, rows.Err()
}

// AlertMatch is an address and path matched by an alert query.
type AlertMatch struct {
	IP  string `json:"ip"`
	URI string `json:"uri"`
}

// Alert runs clause against rows firstID..lastID, the rows of one insert.
func (i *Index) Alert(ctx context.Context, clause string, firstID, lastID int64) ([]AlertMatch, error) {
	if clause == "" {
		return nil, nil
	}

	query := "SELECT DISTINCT logs.ip, IFNULL(uri, '') FROM logs WHERE (" + clause + ") AND rowid BETWEEN ? AND ?"
	rows, err := i.db.QueryContext(ctx, query, firstID, lastID)
	if err != nil {
		return nil, fmt.Errorf("running alert query: %w", err)
	}
	defer rows.Close()

	var matches []AlertMatch
	for rows.Next() {
		var m AlertMatch
		if err := rows.Scan(&m.IP, &m.URI); err != nil {
			return nil, fmt.Errorf("reading alert row: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Count returns the number of stored lines, restricted to one source file
// unless sourceFile is empty.
func (i *Index) Count(ctx context.Context, sourceFile string) (int64, error) {
	var n int64
	var err error
	if sourceFile == "" {
		err = i.db.QueryRowContext(ctx, "SELECT count(*) FROM logs").Scan(&n)
	} else {
		err = i.db.QueryRowContext(ctx, "SELECT count(*) FROM logs WHERE source_file=?", sourceFile).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("counting lines: %w", err)
	}
	return n, nil
}

// ReverseDomains returns the known reverse domain of each address.
// Addresses without one are absent from the map.
func (i *Index) ReverseDomains(ctx context.Context, ips []string) (map[string]string, error) {
	out := make(map[string]string, len(ips))
	if len(ips) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ips)), ", ")
	args := make([]any, len(ips))
	for n, ip := range ips {
		args[n] = ip
	}

	rows, err := i.db.QueryContext(ctx,
		"SELECT ip, reverse_domain FROM reverse_ip WHERE reverse_domain IS NOT NULL AND ip IN ("+placeholders+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying reverse domains: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ip, domain string
		if err := rows.Scan(&ip, &domain); err != nil {
			return nil, fmt.Errorf("reading reverse domain: %w", err)
		}
		out[ip] = domain
	}
	return out, rows.Err()
}

// SetReverse records the reverse lookup result of an address.
func (i *Index) SetReverse(ctx context.Context, ip, host, domain string) error {
	_, err := i.db.ExecContext(ctx,
		`INSERT INTO reverse_ip (ip, reverse_host, reverse_domain) VALUES (?, ?, ?)
		ON CONFLICT(ip) DO UPDATE SET reverse_host=excluded.reverse_host, reverse_domain=excluded.reverse_domain`,
		ip, nullString(host), nullString(domain))
	if err != nil {
		return fmt.Errorf("storing reverse domain for %s: %w", ip, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (Row, error) {
	var row Row
	var ts, lat, long sql.NullFloat64
	var status, offset sql.NullInt64
	var datestamp, ip, host, uri, query, method, agent, agentDomain sql.NullString
	var classification, country, region, city, cookie, referrer sql.NullString
	var referrerDomain, sourceFile, logline sql.NullString

	err := s.Scan(&row.ID, &ts, &datestamp, &ip, &host, &uri, &query,
		&status, &method, &agent, &agentDomain, &classification, &country,
		&region, &city, &lat, &long, &cookie, &referrer, &referrerDomain,
		&sourceFile, &offset, &logline)
	if err != nil {
		return row, err
	}

	row.UnixTimestamp = floatPtr(ts)
	row.Datestamp = datestamp.String
	row.IP = ip.String
	row.Host = host.String
	row.URI = uri.String
	row.Query = query.String
	if status.Valid {
		v := status.Int64
		row.StatusCode = &v
	}
	row.Method = method.String
	row.Agent = agent.String
	row.AgentDomain = agentDomain.String
	row.Classification = classification.String
	row.Country = country.String
	row.Region = region.String
	row.City = city.String
	row.Latitude = floatPtr(lat)
	row.Longitude = floatPtr(long)
	row.Cookie = cookie.String
	row.Referrer = referrer.String
	row.ReferrerDomain = referrerDomain.String
	row.SourceFile = sourceFile.String
	row.SourceOffset = offset.Int64
	row.Logline = logline.String
	return row, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func extra(r *accesslog.Record, key string) any {
	v, _ := r.Extra(key)
	return nullString(v)
}

func extraFloat(r *accesslog.Record, key string) any {
	v, ok := r.Extra(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return f
}
