package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fastygo/donote/repository"
)

// serverNow reads the transaction timestamp so every document written in tx shares one clock.
func serverNow(ctx context.Context, tx pgx.Tx) (time.Time, error) {
	var now time.Time
	if err := tx.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, err
	}
	return now.UTC(), nil
}

// parseChangePayload splits a NOTIFY payload of the form "<owner>/<collection>".
func parseChangePayload(payload string) (repository.CollectionRef, bool) {
	i := strings.LastIndex(payload, "/")
	if i <= 0 || i == len(payload)-1 {
		return repository.CollectionRef{}, false
	}
	return repository.CollectionRef{Owner: payload[:i], Collection: payload[i+1:]}, true
}
