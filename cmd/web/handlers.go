package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/AdamBeresnev/op-tournament/internal/bracket"
	"github.com/AdamBeresnev/op-tournament/internal/httputil"
	"github.com/AdamBeresnev/op-tournament/internal/middleware"
	"github.com/AdamBeresnev/op-tournament/internal/service"
	users "github.com/AdamBeresnev/op-tournament/internal/user"
	"github.com/AdamBeresnev/op-tournament/internal/utils"
	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type application struct {
	logger      *slog.Logger
	db          *sqlx.DB
	sessions    *scs.SessionManager
	auth        *middleware.Auth
	validate    *validator.Validate
	corsOrigins []string

	tournaments *service.TournamentService
	matches     *service.MatchService
	roster      *service.RosterService
	users       *service.UserService
}

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json field names rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. It writes the error response itself.
func (app *application) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.BadRequest(w, "invalid JSON body", err)
		return false
	}
	if err := app.validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			httputil.BadRequest(w, "invalid request body", err)
			return false
		}
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[fe.Field()] = fmt.Sprintf("failed on the '%s' rule", fe.Tag())
		}
		httputil.InvalidFields(w, fields)
		return false
	}
	return true
}

func caller(r *http.Request) users.Caller {
	c, _ := middleware.GetCaller(r.Context())
	return c
}

// tournamentID parses the {id} path parameter. Malformed ids are reported as not found.
func tournamentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.NotFound(w, "tournament not found", err)
		return uuid.Nil, false
	}
	return id, true
}

// syncUser stores the profile carried by a bearer token so notifications can reach the player.
func (app *application) syncUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := middleware.GetClaims(r.Context()); ok && (claims.Username != "" || claims.Email != "") {
			c := claims.Caller()
			_, err := app.users.EnsureUser(r.Context(), service.Identity{
				ID:       c.ID,
				Username: claims.Username,
				Email:    claims.Email,
				Role:     c.Role,
			})
			if err != nil {
				app.logger.Warn("failed to sync user profile", "user_id", c.ID, "error", err)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (app *application) healthz(w http.ResponseWriter, r *http.Request) {
	if err := app.db.PingContext(r.Context()); err != nil {
		httputil.InternalServerError(w, "database ping failed", err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createSession exchanges a bearer token for a cookie session.
func (app *application) createSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		httputil.Unauthorized(w, "bearer token required", nil)
		return
	}
	c := claims.Caller()
	user, err := app.users.EnsureUser(r.Context(), service.Identity{
		ID:       c.ID,
		Username: claims.Username,
		Email:    claims.Email,
		Role:     c.Role,
	})
	if err != nil {
		httputil.Error(w, "failed to store user", err)
		return
	}
	if err := app.auth.StartSession(r.Context(), c); err != nil {
		httputil.InternalServerError(w, "failed to start session", err)
		return
	}
	httputil.JSON(w, http.StatusOK, user)
}

func (app *application) logout(w http.ResponseWriter, r *http.Request) {
	if err := app.auth.EndSession(r.Context()); err != nil {
		httputil.InternalServerError(w, "failed to end session", err)
		return
	}
	httputil.Message(w, http.StatusOK, "Logged out")
}

func (app *application) listTournaments(w http.ResponseWriter, r *http.Request) {
	list, err := app.tournaments.ListTournaments(r.Context())
	if err != nil {
		httputil.Error(w, "failed to list tournaments", err)
		return
	}
	httputil.JSON(w, http.StatusOK, list)
}

func (app *application) listPreviousResults(w http.ResponseWriter, r *http.Request) {
	list, err := app.tournaments.ListPreviousResults(r.Context())
	if err != nil {
		httputil.Error(w, "failed to list previous results", err)
		return
	}
	httputil.JSON(w, http.StatusOK, list)
}

func (app *application) listPlayerTournaments(w http.ResponseWriter, r *http.Request) {
	list, err := app.tournaments.ListForPlayer(r.Context(), caller(r))
	if err != nil {
		httputil.Error(w, "failed to list player tournaments", err)
		return
	}
	httputil.JSON(w, http.StatusOK, list)
}

func (app *application) getTournament(w http.ResponseWriter, r *http.Request) {
	id, ok := tournamentID(w, r)
	if !ok {
		return
	}
	t, err := app.tournaments.GetTournament(r.Context(), id)
	if err != nil {
		httputil.Error(w, "failed to get tournament", err)
		return
	}
	httputil.JSON(w, http.StatusOK, t)
}

func (app *application) roundStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := tournamentID(w, r)
	if !ok {
		return
	}
	done, err := app.tournaments.RoundComplete(r.Context(), id)
	if err != nil {
		httputil.Error(w, "failed to evaluate round", err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]bool{"roundComplete": done})
}

type createTournamentRequest struct {
	Name       string    `json:"name" validate:"required,max=100"`
	MaxPlayers int       `json:"maxPlayers" validate:"required"`
	StartDate  time.Time `json:"startDate"`
}

func (app *application) createTournament(w http.ResponseWriter, r *http.Request) {
	var req createTournamentRequest
	if !app.decode(w, r, &req) {
		return
	}
	t, err := app.tournaments.CreateTournament(r.Context(), caller(r), service.CreateInput{
		Name:       req.Name,
		MaxPlayers: req.MaxPlayers,
		StartDate:  req.StartDate,
	})
	if err != nil {
		httputil.Error(w, "failed to create tournament", err)
		return
	}
	httputil.JSON(w, http.StatusCreated, t)
}

func (app *application) join(w http.ResponseWriter, r *http.Request) {
	id := uuid.Nil
	if chi.URLParam(r, "id") != "" {
		var ok bool
		if id, ok = tournamentID(w, r); !ok {
			return
		}
	}
	res, err := app.tournaments.Join(r.Context(), caller(r), id)
	if err != nil {
		httputil.Error(w, "failed to join tournament", err)
		return
	}
	if res.Queued {
		httputil.Message(w, http.StatusOK, "Join request submitted")
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"message": "Joined tournament", "tournament": res.Tournament})
}

func (app *application) joinWaitingList(w http.ResponseWriter, r *http.Request) {
	if err := app.roster.RequestJoin(r.Context(), caller(r), bracket.QueueWaitingList); err != nil {
		httputil.Error(w, "failed to join waiting list", err)
		return
	}
	httputil.Message(w, http.StatusOK, "Added to waiting list")
}

type admitRequest struct {
	PlayerIDs []uuid.UUID `json:"playerIds" validate:"required"`
	MatchTime *time.Time  `json:"matchTime"`
	Queue     string      `json:"queue" validate:"omitempty,oneof=pending-requests waiting-list"`
}

func (app *application) admitPlayers(w http.ResponseWriter, r *http.Request) {
	id, ok := tournamentID(w, r)
	if !ok {
		return
	}
	var req admitRequest
	if !app.decode(w, r, &req) {
		return
	}
	t, err := app.tournaments.AdmitPlayers(r.Context(), caller(r), id, service.AdmitInput{
		PlayerIDs: req.PlayerIDs,
		MatchTime: utils.OrZero(req.MatchTime),
		Queue:     req.Queue,
	})
	if err != nil {
		httputil.Error(w, "failed to admit players", err)
		return
	}
	httputil.JSON(w, http.StatusOK, t)
}

type admitByNameRequest struct {
	Name      string      `json:"name" validate:"required"`
	PlayerIDs []uuid.UUID `json:"playerIds" validate:"required"`
	MatchTime *time.Time  `json:"matchTime"`
}

func (app *application) admitByName(w http.ResponseWriter, r *http.Request) {
	var req admitByNameRequest
	if !app.decode(w, r, &req) {
		return
	}
	t, err := app.tournaments.AdmitByName(r.Context(), caller(r), req.Name, service.AdmitInput{
		PlayerIDs: req.PlayerIDs,
		MatchTime: utils.OrZero(req.MatchTime),
	})
	if err != nil {
		httputil.Error(w, "failed to start tournament", err)
		return
	}
	httputil.JSON(w, http.StatusOK, t)
}

type createFromQueueRequest struct {
	Name      string      `json:"name" validate:"required,max=100"`
	PlayerIDs []uuid.UUID `json:"playerIds" validate:"required"`
	StartDate *time.Time  `json:"startDate"`
	MatchTime *time.Time  `json:"matchTime"`
}

func (app *application) createFromQueue(queue string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createFromQueueRequest
		if !app.decode(w, r, &req) {
			return
		}
		t, err := app.tournaments.CreateFromQueue(r.Context(), caller(r), queue, service.CreateFromQueueInput{
			Name:      req.Name,
			PlayerIDs: req.PlayerIDs,
			StartDate: utils.OrZero(req.StartDate),
			MatchTime: utils.OrZero(req.MatchTime),
		})
		if err != nil {
			httputil.Error(w, "failed to create tournament from queue", err)
			return
		}
		httputil.JSON(w, http.StatusCreated, t)
	}
}

type submitResultRequest struct {
	MatchID uuid.UUID `json:"matchId" validate:"required"`
	Result  string    `json:"result" validate:"required"`
	Score   string    `json:"score" validate:"max=50"`
}

func (app *application) submitResult(w http.ResponseWriter, r *http.Request) {
	id, ok := tournamentID(w, r)
	if !ok {
		return
	}
	var req submitResultRequest
	if !app.decode(w, r, &req) {
		return
	}
	res, err := app.matches.SubmitResult(r.Context(), caller(r), id, service.SubmitInput{
		MatchID: req.MatchID,
		Outcome: bracket.Outcome(req.Result),
		Score:   req.Score,
	})
	if err != nil {
		httputil.Error(w, "failed to submit result", err)
		return
	}
	msg := "Result submitted"
	if res.AutoApproved {
		msg = "Result submitted and approved"
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"message": msg, "autoApproved": res.AutoApproved, "match": res.Match})
}

type approveResultRequest struct {
	MatchID  uuid.UUID `json:"matchId" validate:"required"`
	WinnerID uuid.UUID `json:"winnerId" validate:"required"`
}

func (app *application) approveResult(w http.ResponseWriter, r *http.Request) {
	id, ok := tournamentID(w, r)
	if !ok {
		return
	}
	var req approveResultRequest
	if !app.decode(w, r, &req) {
		return
	}
	m, err := app.matches.ApproveResult(r.Context(), caller(r), id, req.MatchID, req.WinnerID)
	if err != nil {
		httputil.Error(w, "failed to approve result", err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"message": "Result approved", "match": m})
}

type advanceRoundRequest struct {
	SelectedWinners []uuid.UUID `json:"selectedWinners" validate:"required"`
	NextRoundTime   *time.Time  `json:"nextRoundTime"`
}

func (app *application) advanceRound(w http.ResponseWriter, r *http.Request) {
	id, ok := tournamentID(w, r)
	if !ok {
		return
	}
	var req advanceRoundRequest
	if !app.decode(w, r, &req) {
		return
	}
	t, err := app.tournaments.AdvanceRound(r.Context(), caller(r), id, service.AdvanceInput{
		Winners:       req.SelectedWinners,
		NextRoundTime: utils.OrZero(req.NextRoundTime),
	})
	if err != nil {
		httputil.Error(w, "failed to advance round", err)
		return
	}
	httputil.JSON(w, http.StatusOK, t)
}

func (app *application) endTournament(w http.ResponseWriter, r *http.Request) {
	id, ok := tournamentID(w, r)
	if !ok {
		return
	}
	t, err := app.tournaments.EndTournament(r.Context(), caller(r), id)
	if err != nil {
		httputil.Error(w, "failed to end tournament", err)
		return
	}
	httputil.JSON(w, http.StatusOK, t)
}

func (app *application) listConflicting(w http.ResponseWriter, r *http.Request) {
	var scope *uuid.UUID
	if chi.URLParam(r, "id") != "" {
		id, ok := tournamentID(w, r)
		if !ok {
			return
		}
		scope = &id
	}
	list, err := app.matches.ListConflicting(r.Context(), caller(r), scope)
	if err != nil {
		httputil.Error(w, "failed to list pending results", err)
		return
	}
	httputil.JSON(w, http.StatusOK, list)
}

func (app *application) listQueue(queue string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := app.roster.ListPending(r.Context(), caller(r), queue)
		if err != nil {
			httputil.Error(w, "failed to list join requests", err)
			return
		}
		httputil.JSON(w, http.StatusOK, entries)
	}
}

func (app *application) listTournamentQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := tournamentID(w, r)
	if !ok {
		return
	}
	app.listQueue(bracket.TournamentQueue(id))(w, r)
}
