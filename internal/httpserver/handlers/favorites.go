package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/pokefav/internal/domain"
	"github.com/MrSnakeDoc/pokefav/internal/httpserver/deps"
	"github.com/MrSnakeDoc/pokefav/internal/logger"
)

// favoriteRequest is the body of POST and DELETE /api/favorites.
// pokemon_id stays raw so numeric strings are accepted too.
type favoriteRequest struct {
	User        string          `json:"user"`
	PokemonID   json.RawMessage `json:"pokemon_id"`
	PokemonName string          `json:"pokemon_name"`
	PokemonData json.RawMessage `json:"pokemon_data"`
}

type addFavoriteResponse struct {
	OK      bool  `json:"ok"`
	ID      int64 `json:"id"`
	Existed bool  `json:"existed"`
}

type deleteFavoriteResponse struct {
	Deleted int64 `json:"deleted"`
}

// ListFavorites handles GET /api/favorites?user=<username>.
func ListFavorites(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Query().Get("user")
		if err := domain.ValidateUser(user); err != nil {
			writeDomainError(w, err)
			return
		}

		favorites, err := d.Store.List(r.Context(), user)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if favorites == nil {
			favorites = []domain.FavoriteRecord{}
		}
		writeJSON(w, http.StatusOK, favorites)
	}
}

// AddFavorite handles POST /api/favorites. Adding a pair twice returns the
// same id with existed=true.
func AddFavorite(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req favoriteRequest
		if !decodeBody(w, r, d.MaxBodyBytes, &req) {
			return
		}

		key, err := domain.ParseFavoriteKey(req.User, req.PokemonID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		res, err := d.Store.InsertIfAbsent(r.Context(), domain.NewFavorite{
			Username:    key.Username,
			PokemonID:   key.PokemonID,
			PokemonName: req.PokemonName,
			PokemonData: domain.NormalizePokemonData(req.PokemonData),
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		d.Logger.Debug("favorite added",
			logger.Int64("id", res.ID),
			logger.Int64("pokemon_id", key.PokemonID),
			logger.Bool("existed", res.Existed))

		writeJSON(w, http.StatusCreated, addFavoriteResponse{OK: true, ID: res.ID, Existed: res.Existed})
	}
}

// DeleteFavorite handles DELETE /api/favorites. Deleting a missing pair
// reports deleted=0.
func DeleteFavorite(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req favoriteRequest
		if !decodeBody(w, r, d.MaxBodyBytes, &req) {
			return
		}

		key, err := domain.ParseFavoriteKey(req.User, req.PokemonID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		n, err := d.Store.Delete(r.Context(), key)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deleteFavoriteResponse{Deleted: n})
	}
}
