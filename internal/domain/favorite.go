package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// EmptyPokemonData is stored when a favorite is added without a payload.
var EmptyPokemonData = json.RawMessage(`{}`)

// FavoriteRecord is one (user, pokemon) favorite.
type FavoriteRecord struct {
	// ─────────────────────────────
	// Identity (immutable)
	// ─────────────────────────────

	// ID is assigned by the store on first insert.
	ID int64 `json:"id"`

	// Username is an opaque caller-supplied identifier.
	// It is never validated against a user table.
	Username string `json:"-"`

	// PokemonID identifies the favorited entity in the external catalog.
	PokemonID int64 `json:"pokemon_id"`

	// ─────────────────────────────
	// Snapshot at favoriting time
	// ─────────────────────────────

	// PokemonName is a display name, possibly empty.
	PokemonName string `json:"pokemon_name"`

	// PokemonData is an opaque JSON payload, never interpreted here.
	PokemonData json.RawMessage `json:"pokemon_data"`

	// CreatedAt is set by the store and only used for ordering.
	CreatedAt time.Time `json:"created_at"`
}

// NewFavorite is the input of an idempotent insert.
type NewFavorite struct {
	Username    string
	PokemonID   int64
	PokemonName string
	PokemonData json.RawMessage
}

// InsertResult reports the identity of the row for a (user, pokemon) pair
// and whether it was already there.
type InsertResult struct {
	ID      int64
	Existed bool
}

// FavoriteKey addresses a single favorite.
type FavoriteKey struct {
	Username  string
	PokemonID int64
}

// NormalizePokemonData maps an absent or null payload to {}.
func NormalizePokemonData(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return EmptyPokemonData
	}
	return trimmed
}
