package db

import "context"

// Querier is the narrow persistence interface the track and callback
// services depend on. Implemented by *Queries (pgx-backed) and by hand-
// rolled mocks in tests, matching the rest of this corpus's db.Querier
// convention (see e.g. apps/privacy-service/internal/service).
type Querier interface {
	InsertRequestLog(ctx context.Context, params InsertRequestLogParams) (RequestLog, error)
	FindRequestLogByRid(ctx context.Context, rid string) (RequestLog, error)
	UpdateRequestLogByRid(ctx context.Context, params UpdateRequestLogParams) error
}
