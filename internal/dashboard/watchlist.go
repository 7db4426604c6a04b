package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"confluence-signals/internal/model"
)

type entryRequest struct {
	Asset     string `json:"asset" validate:"required,alphanum,max=20"`
	Interval  string `json:"interval" validate:"required,oneof=15m 1h 4h 8h 12h 1d"`
	Direction string `json:"direction" validate:"required,oneof=bullish bearish wind_catcher river_turn"`
	Notes     string `json:"notes" validate:"max=200"`
}

func (e entryRequest) entry(now time.Time) (model.WatchlistEntry, error) {
	iv, err := model.ParseInterval(e.Interval)
	if err != nil {
		return model.WatchlistEntry{}, err
	}
	dir, err := model.ParseDirection(e.Direction)
	if err != nil {
		return model.WatchlistEntry{}, err
	}
	return model.WatchlistEntry{
		Asset:     strings.ToUpper(e.Asset),
		Interval:  iv,
		Direction: dir,
		Notes:     e.Notes,
		AddedAt:   now.Unix(),
	}, nil
}

type moveRequest struct {
	From entryRequest `json:"from"`
	To   entryRequest `json:"to"`
}

// watchlistView groups entries by the watchlist system they belong to.
type watchlistView struct {
	Entries     []model.WatchlistEntry `json:"entries"`
	WindCatcher []model.WatchlistEntry `json:"wind_catcher"`
	RiverTurn   []model.WatchlistEntry `json:"river_turn"`
}

func (s *Server) handleListWatchlist(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Watchlist.ListEntries(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	view := watchlistView{
		Entries:     []model.WatchlistEntry{},
		WindCatcher: []model.WatchlistEntry{},
		RiverTurn:   []model.WatchlistEntry{},
	}
	for _, e := range entries {
		view.Entries = append(view.Entries, e)
		if e.Direction == model.Bullish {
			view.WindCatcher = append(view.WindCatcher, e)
		} else {
			view.RiverTurn = append(view.RiverTurn, e)
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if !s.decode(w, r, &req) {
		return
	}
	e, err := req.entry(s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	added, err := s.Watchlist.AddEntry(r.Context(), e)
	if errors.Is(err, model.ErrDuplicateEntry) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	log.Info().Str("component", "dashboard").Str("pair", added.Key()).
		Str("direction", string(added.Direction)).Msg("watchlist entry added")
	writeJSON(w, http.StatusCreated, added)
}

// handleRemoveWatchlist takes the entry from the JSON body or, when the
// body is empty, from query parameters.
func (s *Server) handleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if r.ContentLength > 0 {
		if !s.decode(w, r, &req) {
			return
		}
	} else {
		q := r.URL.Query()
		req = entryRequest{Asset: q.Get("asset"), Interval: q.Get("interval"), Direction: q.Get("direction")}
		if !s.check(w, &req) {
			return
		}
	}
	e, err := req.entry(s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	removed, err := s.Watchlist.RemoveEntry(r.Context(), e.Asset, e.Interval, e.Direction)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, model.ErrEntryNotFound.Error())
		return
	}
	log.Info().Str("component", "dashboard").Str("pair", e.Key()).
		Str("direction", string(e.Direction)).Msg("watchlist entry removed")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMoveWatchlist(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !s.decode(w, r, &req) {
		return
	}
	now := s.now()
	from, err := req.From.entry(now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := req.To.entry(now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	moved, err := s.Watchlist.MoveEntry(r.Context(), from, to)
	switch {
	case errors.Is(err, model.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, model.ErrDuplicateEntry):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.internalError(w, r, err)
		return
	}
	log.Info().Str("component", "dashboard").Str("from", from.Key()+":"+string(from.Direction)).
		Str("to", to.Key()+":"+string(to.Direction)).Msg("watchlist entry moved")
	writeJSON(w, http.StatusOK, moved)
}

// decode reads a JSON body into v and validates it, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return s.check(w, v)
}

func (s *Server) check(w http.ResponseWriter, v interface{}) bool {
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
