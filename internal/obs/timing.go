// Package obs holds lightweight operation timing.
package obs

import (
	"context"
	"log"
	"time"
)

type ctxKey string

// SessionIDKey carries the hyperlapse session id through a context.
const SessionIDKey ctxKey = "session_id"

// WithSessionID tags ctx with a session id for timing logs.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

// Time logs the duration of an operation. Use as
//
//	defer obs.Time(ctx, "op")(&err)
func Time(ctx context.Context, name string) func(errp *error) {
	start := time.Now()

	sessionID, _ := ctx.Value(SessionIDKey).(string)

	return func(errp *error) {
		dur := time.Since(start)

		if errp != nil && *errp != nil {
			log.Printf("[Timing] session=%s op=%s dur=%dms err=%v", sessionID, name, dur.Milliseconds(), *errp)
			return
		}
		log.Printf("[Timing] session=%s op=%s dur=%dms", sessionID, name, dur.Milliseconds())
	}
}
