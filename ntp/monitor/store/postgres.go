/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package store keeps the list of monitored servers and probe results in PostgreSQL.
*/
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/globalprobe/ntpmon/ntp/probe"
)

const targetsQuery = `
SELECT monitored_servers.owner_cognito_id, monitored_servers.dns_name,
       server_addresses.address, server_addresses.server_address_id
  FROM monitored_servers
  JOIN server_addresses ON monitored_servers.server_id = server_addresses.server_id
 ORDER BY dns_name, address;
`

const siteQuery = `SELECT probe_site_id FROM probe_sites WHERE site_name = $1;`

const insertResult = `
INSERT INTO ntp_probe_results (
    server_address_id, probe_site_id, request_sent, response_received,
    round_trip_time, clock_offset
) VALUES ($1, $2, $3, $4, $5, $6);
`

// connectRetries is how many more times we try to reach the database on startup
const connectRetries = 5

// ErrUnknownSite is returned when the probe site is not registered
var ErrUnknownSite = errors.New("unknown probe site")

// DB is the part of pgxpool.Pool we use
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Postgres is both a target source and a result sink
type Postgres struct {
	db     DB
	filter *Filter
	close  func()

	mu      sync.Mutex
	siteIDs map[string]int64
}

// New creates Postgres on top of existing connection
func New(db DB, filter *Filter) *Postgres {
	return &Postgres{
		db:      db,
		filter:  filter,
		close:   func() {},
		siteIDs: map[string]int64{},
	}
}

// Connect opens connection pool and waits for the database to answer
func Connect(ctx context.Context, connString string, filter *Filter) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 10 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	ping := func() error {
		err := pool.Ping(ctx)
		if err != nil {
			log.Warningf("postgres %s:%d is not ready: %v", cfg.ConnConfig.Host, cfg.ConnConfig.Port, err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), connectRetries), ctx)
	if err := backoff.Retry(ping, policy); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	log.Infof("connected to postgres %s:%d/%s", cfg.ConnConfig.Host, cfg.ConnConfig.Port, cfg.ConnConfig.Database)
	p := New(pool, filter)
	p.close = pool.Close
	return p, nil
}

// Close releases database resources
func (p *Postgres) Close() {
	p.close()
}

// Targets returns every address of every monitored server
func (p *Postgres) Targets(ctx context.Context) ([]probe.Target, error) {
	rows, err := p.db.Query(ctx, targetsQuery)
	if err != nil {
		return nil, fmt.Errorf("querying targets: %w", err)
	}
	defer rows.Close()

	targets := []probe.Target{}
	for rows.Next() {
		var (
			owner   string
			dnsName *string
			address string
			id      int64
		)
		if err := rows.Scan(&owner, &dnsName, &address, &id); err != nil {
			return nil, fmt.Errorf("scanning target: %w", err)
		}
		t := probe.Target{Address: address, OwnerID: owner, ServerAddressID: &id}
		if dnsName != nil {
			t.DNSName = *dnsName
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading targets: %w", err)
	}
	log.Debugf("got %d targets from postgres", len(targets))
	return targets, nil
}

// siteID resolves numeric id of the probe site once
func (p *Postgres) siteID(ctx context.Context, site string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.siteIDs[site]; ok {
		return id, nil
	}
	var id int64
	if err := p.db.QueryRow(ctx, siteQuery, site).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w %q", ErrUnknownSite, site)
		}
		return 0, fmt.Errorf("looking up probe site %q: %w", site, err)
	}
	p.siteIDs[site] = id
	return id, nil
}

// resultRow is one ntp_probe_results row minus the site
type resultRow struct {
	serverAddressID int64
	requestSent     time.Time
	responseRecv    time.Time
	roundTrip       pgtype.Interval
	offset          pgtype.Interval
}

func secondsToInterval(v float64) pgtype.Interval {
	return pgtype.Interval{Microseconds: int64(math.Round(v * 1e6)), Valid: true}
}

// buildRows picks successes that are good enough to store, in address order
func buildRows(results probe.Results, filter *Filter) ([]resultRow, error) {
	rows := []resultRow{}
	for _, addr := range results.Addresses() {
		s, ok := results[addr].(*probe.Success)
		if !ok {
			continue
		}
		if s.Target.ServerAddressID == nil {
			log.Warningf("%s has no server address id, not storing", s.Target)
			continue
		}
		exclude, err := filter.Exclude(s.Offset, s.Delay)
		if err != nil {
			return nil, fmt.Errorf("filtering %s: %w", s.Target, err)
		}
		if exclude {
			log.Warningf("%s: offset %.6fs, delay %.6fs excluded by %q", s.Target, s.Offset, s.Delay, filter)
			continue
		}
		rows = append(rows, resultRow{
			serverAddressID: *s.Target.ServerAddressID,
			requestSent:     s.SentAt,
			responseRecv:    s.SentAt.Add(s.DelayDuration()),
			roundTrip:       secondsToInterval(s.Delay),
			offset:          secondsToInterval(s.Offset),
		})
	}
	return rows, nil
}

// Write stores valid successes in a single batch
func (p *Postgres) Write(ctx context.Context, site string, results probe.Results) error {
	rows, err := buildRows(results, p.filter)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		log.Debugf("nothing to store")
		return nil
	}
	siteID, err := p.siteID(ctx, site)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertResult, r.serverAddressID, siteID, r.requestSent, r.responseRecv, r.roundTrip, r.offset)
	}
	br := p.db.SendBatch(ctx, batch)
	for i := range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("inserting result %d of %d: %w", i+1, len(rows), err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("closing batch: %w", err)
	}
	log.Infof("stored %d results for site %s", len(rows), site)
	return nil
}
