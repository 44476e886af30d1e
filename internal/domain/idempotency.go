package domain

import "time"

// Idempotency remembers the outcome of a keyed letter write so a retry with
// the same Idempotency-Key is answered from LetterID instead of running the
// operation again. Scope is the request method plus concrete path, e.g.
// "POST /api/v1/letters/42/approval/decision"; the tuple (actor, scope, key)
// is unique. Status is the HTTP status originally returned.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	ActorID   string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_idem_actor_scope_key,priority:1"`
	Scope     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_idem_actor_scope_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_idem_actor_scope_key,priority:3"`
	LetterID  int64     `gorm:"type:INTEGER NOT NULL;index"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

func (Idempotency) TableName() string { return "idempotency_keys" }

// Live reports whether the record may still be replayed at now.
func (r Idempotency) Live(now time.Time) bool { return now.Before(r.ExpiresAt) }
