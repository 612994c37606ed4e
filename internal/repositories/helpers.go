// Package repositories holds the PostgreSQL-backed stores. Every method runs
// on the transaction carried by ctx when there is one.
package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kidoxdavid/eazyfoods-sub001/models"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func pointFrom(lat, lng sql.NullFloat64) *models.Point {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &models.Point{Lat: lat.Float64, Lng: lng.Float64}
}

func pointArgs(p *models.Point) (lat, lng any) {
	if p == nil {
		return nil, nil
	}
	return p.Lat, p.Lng
}

func uuidPtr(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func actorFrom(kind string, id uuid.NullUUID) models.ActorRef {
	return models.ActorRef{Kind: models.ActorKind(kind), ID: uuidPtr(id)}
}

func uuidStrings(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

func limitOrDefault(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
