package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned by FindRequestLogByRid when no row matches.
var ErrNotFound = errors.New("not found")

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so callers can route
// a single request through a transaction when they need atomic read-then-
// update semantics, or hit the pool directly otherwise.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Queries is the pgx-backed Querier implementation.
type Queries struct {
	db DBTX
}

// New builds a Queries bound to either a pool (outside a transaction) or a
// tx (inside one), mirroring this corpus's db.New(tx) convention.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) InsertRequestLog(ctx context.Context, p InsertRequestLogParams) (RequestLog, error) {
	const query = `
INSERT INTO request_log (rid, ds_id, up_id, event_type, ad_id, channel_id, ts, os, upload_params, upstream_url, track_status, track_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING rid, ds_id, up_id, event_type, ad_id, channel_id, ts, os, upload_params, callback_params, upstream_url, downstream_url, track_time, track_status, is_callback_sent, callback_time, callback_event_type
`
	row := q.db.QueryRow(ctx, query,
		p.Rid, p.DsID, p.UpID, p.EventType, p.AdID, p.ChannelID, p.Ts, p.OS, p.UploadParams, p.UpstreamURL, p.TrackStatus, p.TrackTime,
	)
	return scanRequestLog(row)
}

func (q *Queries) FindRequestLogByRid(ctx context.Context, rid string) (RequestLog, error) {
	const query = `
SELECT rid, ds_id, up_id, event_type, ad_id, channel_id, ts, os, upload_params, callback_params, upstream_url, downstream_url, track_time, track_status, is_callback_sent, callback_time, callback_event_type
FROM request_log WHERE rid = $1
`
	row := q.db.QueryRow(ctx, query, rid)
	log, err := scanRequestLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return RequestLog{}, ErrNotFound
	}
	return log, err
}

func (q *Queries) UpdateRequestLogByRid(ctx context.Context, p UpdateRequestLogParams) error {
	const query = `
UPDATE request_log SET
  callback_params = COALESCE($2, callback_params),
  downstream_url = COALESCE($3, downstream_url),
  is_callback_sent = $4,
  callback_time = COALESCE($5, callback_time),
  callback_event_type = COALESCE($6, callback_event_type)
WHERE rid = $1
`
	tag, err := q.db.Exec(ctx, query, p.Rid, p.CallbackParams, p.DownstreamURL, p.IsCallbackSent, p.CallbackTime, p.CallbackEventType)
	if err != nil {
		return fmt.Errorf("update request_log by rid %s: %w", p.Rid, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRequestLog(row pgx.Row) (RequestLog, error) {
	var r RequestLog
	err := row.Scan(
		&r.Rid, &r.DsID, &r.UpID, &r.EventType, &r.AdID, &r.ChannelID, &r.Ts, &r.OS,
		&r.UploadParams, &r.CallbackParams, &r.UpstreamURL, &r.DownstreamURL,
		&r.TrackTime, &r.TrackStatus, &r.IsCallbackSent, &r.CallbackTime, &r.CallbackEventType,
	)
	if err != nil {
		return RequestLog{}, err
	}
	return r, nil
}
