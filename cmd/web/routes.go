package main

import (
	"net/http"

	"github.com/AdamBeresnev/op-tournament/internal/bracket"
	"github.com/AdamBeresnev/op-tournament/internal/httputil"
	"github.com/AdamBeresnev/op-tournament/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func newRouter(app *application) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(app.sessions.LoadAndSave)
	r.Use(app.auth.Authenticate)

	r.Get("/healthz", app.healthz)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/session", app.createSession)
		r.Post("/logout", app.logout)
	})

	r.Route("/api/tournaments", func(r chi.Router) {
		r.Get("/", app.listTournaments)
		r.Get("/previous/results", app.listPreviousResults)
		r.Get("/{id}", app.getTournament)
		r.Get("/{id}/round-status", app.roundStatus)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Use(app.syncUser)

			r.Get("/player/tournaments", app.listPlayerTournaments)
			r.Post("/join", app.join)
			r.Post("/{id}/join", app.join)
			r.Post("/waiting-list/join", app.joinWaitingList)
			r.Post("/{id}/submit-result", app.submitResult)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Post("/", app.createTournament)
			r.Post("/create", app.admitByName)
			r.Post("/create-from-pending", app.createFromQueue(bracket.QueuePendingRequests))
			r.Post("/create-from-waiting-list", app.createFromQueue(bracket.QueueWaitingList))
			r.Post("/{id}/admit", app.admitPlayers)
			r.Post("/{id}/approve-result", app.approveResult)
			r.Post("/{id}/continue", app.advanceRound)
			r.Post("/{id}/end", app.endTournament)

			r.Get("/pending-results", app.listConflicting)
			r.Get("/{id}/pending-results", app.listConflicting)
			r.Get("/requests", app.listQueue(bracket.QueuePendingRequests))
			r.Get("/waiting-list", app.listQueue(bracket.QueueWaitingList))
			r.Get("/{id}/requests", app.listTournamentQueue)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, "route not found", nil)
	})

	return r
}
