// Package db is the narrow persistence interface the relay needs: a typed
// RequestLog row plus Insert/FindByRid/UpdateByRid. Shaped in the
// sqlc-generated style the rest of the service layers consume (db.Querier,
// db.New(tx), pgtype-typed params) even though this package is hand-written
// rather than generated, since no schema/sqlc.yaml was available to
// generate from.
package db

import "github.com/jackc/pgx/v5/pgtype"

// TrackStatus values for RequestLog.TrackStatus.
const (
	TrackStatusUpstream200    = int16(1)
	TrackStatusUpstreamNon200 = int16(2)
)

// CallbackSent values for RequestLog.IsCallbackSent. The zero value means
// "pending"; once set to a terminal state the column never reverts back to
// pending — transitions are monotonic.
const (
	CallbackPending          = int16(0)
	CallbackSent             = int16(1)
	CallbackThrottled        = int16(2)
	CallbackDownstreamFailed = int16(3)
	CallbackNotInWhitelist   = int16(4)
)

// RequestLog is one row per forwarded upstream request, correlating the
// track-time dispatch with its later callback by Rid.
type RequestLog struct {
	Rid               string
	DsID              string
	UpID              string
	EventType         string
	AdID              pgtype.Text
	ChannelID         pgtype.Text
	Ts                int64
	OS                pgtype.Text
	UploadParams      []byte // serialised JSON: {query: udm, callback_template}
	CallbackParams    pgtype.Text // serialised JSON, nullable
	UpstreamURL       pgtype.Text
	DownstreamURL     pgtype.Text
	TrackTime         pgtype.Timestamptz
	TrackStatus       int16
	IsCallbackSent    int16
	CallbackTime      pgtype.Timestamptz
	CallbackEventType pgtype.Text
}

// InsertRequestLogParams carries the fields set at track-time, before any
// callback has arrived.
type InsertRequestLogParams struct {
	Rid            string
	DsID           string
	UpID           string
	EventType      string
	AdID           pgtype.Text
	ChannelID      pgtype.Text
	Ts             int64
	OS             pgtype.Text
	UploadParams   []byte
	UpstreamURL    pgtype.Text
	TrackStatus    int16
	TrackTime      pgtype.Timestamptz
}

// UpdateRequestLogParams carries the fields the callback handler updates.
// Zero-value (Valid: false) pgtype fields leave the corresponding column
// untouched.
type UpdateRequestLogParams struct {
	Rid               string
	CallbackParams    pgtype.Text
	DownstreamURL     pgtype.Text
	IsCallbackSent    int16
	CallbackTime      pgtype.Timestamptz
	CallbackEventType pgtype.Text
}
