package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/kaputi/kaputi-backend/internal/engine"
	"github.com/kaputi/kaputi-backend/internal/leaderboard"
	"github.com/kaputi/kaputi-backend/internal/registry"
	"github.com/kaputi/kaputi-backend/pkg/types"
)

type joinRequest struct {
	Name     string `json:"name"`
	PlayerID string `json:"player_id,omitempty"`
}

type joinResponse struct {
	Code     string             `json:"code"`
	PlayerID string             `json:"player_id,omitempty"`
	JoinURL  string             `json:"join_url"`
	State    types.RoomSnapshot `json:"state"`
}

type errorResponse struct {
	Error types.ErrorBody `json:"error"`
}

type scoreResponse struct {
	Initials   string    `json:"initials"`
	FinalScore int       `json:"final_score"`
	Timestamp  time.Time `json:"timestamp"`
}

type api struct {
	reg       *registry.Registry
	board     leaderboard.Board
	publicURL string
	log       *zap.Logger
}

func (a *api) joinURL(code string) string {
	return a.publicURL + "/join/" + code
}

// CreateRoom opens a room and, when a name is given, seats its host.
func (a *api) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decode(w, r, &req) {
		return
	}

	s, err := a.reg.Create(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	resp := joinResponse{Code: s.Code(), JoinURL: a.joinURL(s.Code())}

	if strings.TrimSpace(req.Name) != "" {
		res, err := s.JoinPlayer(r.Context(), "", req.Name)
		if err != nil {
			a.fail(w, err)
			return
		}
		resp.PlayerID = res.PlayerID
		resp.State = res.Snapshot
	} else {
		if resp.State, err = s.Snapshot(r.Context()); err != nil {
			a.fail(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}

// JoinRoom seats a player, or re-admits one that sends back its player_id.
func (a *api) JoinRoom(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "code"))
	var req joinRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := a.reg.Join(r.Context(), code, req.PlayerID, req.Name)
	if err != nil {
		a.fail(w, err)
		return
	}
	status := http.StatusCreated
	if req.PlayerID != "" && req.PlayerID == res.PlayerID {
		status = http.StatusOK
	}
	writeJSON(w, status, joinResponse{
		Code:     code,
		PlayerID: res.PlayerID,
		JoinURL:  a.joinURL(code),
		State:    res.Snapshot,
	})
}

func (a *api) GetRoom(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "code"))
	s, err := a.reg.Lookup(r.Context(), code)
	if err != nil {
		a.fail(w, err)
		return
	}
	snap, err := s.Snapshot(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// RoomQR renders the join link as a PNG for a phone camera.
func (a *api) RoomQR(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "code"))
	if _, err := a.reg.Lookup(r.Context(), code); err != nil {
		a.fail(w, err)
		return
	}
	png, err := qrcode.Encode(a.joinURL(code), qrcode.Medium, 256)
	if err != nil {
		a.log.Error("qr encode failed", zap.String("room", code), zap.Error(err))
		http.Error(w, "failed to render qr code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (a *api) Healthz(w http.ResponseWriter, r *http.Request) {
	n, err := a.reg.Count(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "stopping"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "rooms": n})
}

// Leaderboard lists the best final scores; ?limit= caps it at 100.
func (a *api) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, 100)
	}

	top, err := a.board.Top(r.Context(), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	out := make([]scoreResponse, 0, len(top))
	for _, e := range top {
		out = append(out, scoreResponse{Initials: e.Initials, FinalScore: e.FinalScore, Timestamp: e.Timestamp})
	}
	writeJSON(w, http.StatusOK, out)
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	var e *engine.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindAuthorization:
		return http.StatusForbidden
	case engine.KindCapacity:
		return http.StatusConflict
	case engine.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: types.ErrorBody{
		Code:    engine.CodeOf(err),
		Kind:    string(engine.KindOf(err)),
		Message: err.Error(),
	}})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
