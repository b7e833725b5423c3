package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const (
	msgUserRequired        = "user required"
	msgUserAndIDRequired   = "user and pokemon_id required"
	msgPokemonIDNotInteger = "pokemon_id must be a positive integer"
)

// ValidateUser checks the user query/body field.
func ValidateUser(user string) error {
	if user == "" {
		return &ValidationError{Msg: msgUserRequired}
	}
	return nil
}

// ParseFavoriteKey validates the pair carried by POST and DELETE bodies.
// rawID is the undecoded pokemon_id value, which may be a JSON number or a
// numeric string.
func ParseFavoriteKey(user string, rawID json.RawMessage) (FavoriteKey, error) {
	id, present, err := parsePokemonID(rawID)
	if user == "" || !present {
		return FavoriteKey{}, &ValidationError{Msg: msgUserAndIDRequired}
	}
	if err != nil {
		return FavoriteKey{}, err
	}
	return FavoriteKey{Username: user, PokemonID: id}, nil
}

// parsePokemonID reports present=false for absent, null, 0, "" and false,
// the values clients send for "not given".
func parsePokemonID(raw json.RawMessage) (id int64, present bool, err error) {
	raw = bytes.TrimSpace(raw)
	switch string(raw) {
	case "", "null", "0", `""`, "false":
		return 0, false, nil
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, true, &ValidationError{Msg: msgPokemonIDNotInteger}
		}
		s = strings.TrimSpace(s)
	} else {
		s = string(raw)
	}

	n, perr := strconv.ParseInt(s, 10, 64)
	if perr != nil {
		// 25.0 or 2.5e1 are integers written as floats
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
			return 0, true, &ValidationError{Msg: msgPokemonIDNotInteger}
		}
		n = int64(f)
	}
	if n == 0 {
		return 0, false, nil
	}
	if n < 0 {
		return 0, true, &ValidationError{Msg: msgPokemonIDNotInteger}
	}
	return n, true, nil
}
