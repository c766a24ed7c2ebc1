package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"nostrintel/internal/model"
)

// Store is the durable cache for profiles and relay descriptors plus the
// per-session daily rate counters. Backed by a single SQLite file in WAL
// mode with a small connection pool.
type Store struct {
	path       string
	profileTTL time.Duration
	relayTTL   time.Duration

	mu sync.Mutex
	db *sql.DB

	// nowFunc is swapped in tests to exercise TTL expiry.
	nowFunc func() time.Time
}

const maxWriters = 5

func New(path string, profileTTL, relayTTL time.Duration) *Store {
	return &Store{
		path:       path,
		profileTTL: profileTTL,
		relayTTL:   relayTTL,
		nowFunc:    time.Now,
	}
}

func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create data dir: %v", model.ErrStorage, err)
		}
	}

	// Pragmas ride the DSN so they apply to every pooled connection. A PRAGMA
	// statement would only reach the one connection that executed it, leaving
	// the rest with busy_timeout=0 and failing concurrent writers with
	// SQLITE_BUSY.
	dsn := "file:" + s.path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	db.SetMaxOpenConns(maxWriters)

	schema := `
CREATE TABLE IF NOT EXISTS profiles (
  pubkey TEXT PRIMARY KEY NOT NULL,
  name TEXT,
  display_name TEXT,
  about TEXT,
  picture TEXT,
  banner TEXT,
  nip05 TEXT,
  lud16 TEXT,
  website TEXT,
  cached_at INTEGER NOT NULL,
  expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_profiles_expires ON profiles(expires_at);

CREATE TABLE IF NOT EXISTS relay_info (
  relay_url TEXT PRIMARY KEY NOT NULL,
  name TEXT,
  description TEXT,
  supported_nips TEXT,
  software TEXT,
  version TEXT,
  online INTEGER NOT NULL DEFAULT 1,
  latency_ms INTEGER,
  cached_at INTEGER NOT NULL,
  expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_relay_info_expires ON relay_info(expires_at);

CREATE TABLE IF NOT EXISTS rate_limits (
  session_id TEXT NOT NULL,
  day_ordinal INTEGER NOT NULL,
  count INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (session_id, day_ordinal)
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return fmt.Errorf("%w: %v", model.ErrStorage, err)
	}

	s.db = db
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) ensureDB(ctx context.Context) (*sql.DB, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("%w: store not initialized", model.ErrStorage)
	}
	return s.db, nil
}

func (s *Store) now() int64 {
	return s.nowFunc().Unix()
}

// GetProfile returns the cached profile for pubkey, or nil when absent or
// expired. Stale rows are never returned.
func (s *Store) GetProfile(ctx context.Context, pubkey string) (*model.CachedProfile, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(
		ctx,
		`SELECT pubkey, name, display_name, about, picture, banner, nip05, lud16, website
		 FROM profiles WHERE pubkey = ? AND expires_at > ?`,
		pubkey, s.now(),
	)

	var p model.CachedProfile
	var name, displayName, about, picture, banner, nip05, lud16, website sql.NullString
	if err := row.Scan(&p.Pubkey, &name, &displayName, &about, &picture, &banner, &nip05, &lud16, &website); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	p.Name = name.String
	p.DisplayName = displayName.String
	p.About = about.String
	p.Picture = picture.String
	p.Banner = banner.String
	p.NIP05 = nip05.String
	p.Lud16 = lud16.String
	p.Website = website.String
	return &p, nil
}

func (s *Store) SetProfile(ctx context.Context, p model.CachedProfile) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	_, err = db.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO profiles
		 (pubkey, name, display_name, about, picture, banner, nip05, lud16, website, cached_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Pubkey, p.Name, p.DisplayName, p.About, p.Picture, p.Banner, p.NIP05, p.Lud16, p.Website,
		now, now+int64(s.profileTTL.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	return nil
}

// GetRelayInfo returns the cached descriptor for the relay URL as provided
// (URLs are not normalised), or nil when absent or expired.
func (s *Store) GetRelayInfo(ctx context.Context, relayURL string) (*model.CachedRelayInfo, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(
		ctx,
		`SELECT relay_url, name, description, supported_nips, software, version, online, latency_ms
		 FROM relay_info WHERE relay_url = ? AND expires_at > ?`,
		relayURL, s.now(),
	)

	var info model.CachedRelayInfo
	var name, description, nipsJSON, software, version sql.NullString
	var online int
	var latency sql.NullInt64
	if err := row.Scan(&info.RelayURL, &name, &description, &nipsJSON, &software, &version, &online, &latency); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	info.Name = name.String
	info.Description = description.String
	info.Software = software.String
	info.Version = version.String
	info.Online = online == 1
	if latency.Valid && info.Online {
		ms := latency.Int64
		info.LatencyMS = &ms
	}
	info.SupportedNIPs = []int{}
	if nipsJSON.Valid && nipsJSON.String != "" {
		// Tolerate a corrupt list: treat it as empty rather than failing
		// the whole lookup.
		_ = json.Unmarshal([]byte(nipsJSON.String), &info.SupportedNIPs)
	}
	return &info, nil
}

func (s *Store) SetRelayInfo(ctx context.Context, info model.CachedRelayInfo) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}

	nipsJSON, err := json.Marshal(info.SupportedNIPs)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorage, err)
	}

	var latency interface{}
	if info.Online && info.LatencyMS != nil {
		latency = *info.LatencyMS
	}

	now := s.now()
	_, err = db.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO relay_info
		 (relay_url, name, description, supported_nips, software, version, online, latency_ms, cached_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.RelayURL, info.Name, info.Description, string(nipsJSON), info.Software, info.Version,
		boolToInt(info.Online), latency,
		now, now+int64(s.relayTTL.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	return nil
}

// CheckAndIncrementRate atomically increments the (session, day) counter iff
// the pre-increment count is strictly below limit. Returns true when the
// increment happened. Two concurrent callers at count=limit-1 observe one
// true and one false and the persisted count lands exactly on limit: the
// conditional UPDATE is a single atomic statement in SQLite, and the INSERT
// OR IGNORE that precedes it is idempotent.
func (s *Store) CheckAndIncrementRate(ctx context.Context, sessionID string, dayOrdinal int, limit uint32) (bool, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return false, err
	}

	if _, err := db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO rate_limits (session_id, day_ordinal, count) VALUES (?, ?, 0)`,
		sessionID, dayOrdinal,
	); err != nil {
		return false, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}

	res, err := db.ExecContext(
		ctx,
		`UPDATE rate_limits SET count = count + 1
		 WHERE session_id = ? AND day_ordinal = ? AND count < ?`,
		sessionID, dayOrdinal, limit,
	)
	if err != nil {
		return false, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	return affected > 0, nil
}

// GetRateCount returns the current counter for (session, day), 0 when no row.
func (s *Store) GetRateCount(ctx context.Context, sessionID string, dayOrdinal int) (uint32, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return 0, err
	}

	var count uint32
	err = db.QueryRowContext(
		ctx,
		`SELECT count FROM rate_limits WHERE session_id = ? AND day_ordinal = ?`,
		sessionID, dayOrdinal,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	return count, nil
}

// CleanupExpired removes expired cache rows and rate counters from past days.
func (s *Store) CleanupExpired(ctx context.Context) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	today := s.nowFunc().UTC().YearDay()
	for _, stmt := range []struct {
		query string
		arg   interface{}
	}{
		{`DELETE FROM profiles WHERE expires_at < ?`, now},
		{`DELETE FROM relay_info WHERE expires_at < ?`, now},
		{`DELETE FROM rate_limits WHERE day_ordinal < ?`, today},
	} {
		if _, err := db.ExecContext(ctx, stmt.query, stmt.arg); err != nil {
			return fmt.Errorf("%w: %v", model.ErrStorage, err)
		}
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
