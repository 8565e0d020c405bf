package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/inventar/internal/model"
)

// NewRouter creates the API router with all endpoints registered.
func NewRouter(db *sql.DB, jwtSecret string) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: db, JWTSecret: jwtSecret}
	usersHandler := &UsersHandler{DB: db}
	officesHandler := &OfficesHandler{DB: db}
	identitiesHandler := &IdentitiesHandler{DB: db}
	unitsHandler := &UnitsHandler{DB: db}
	aggregatesHandler := &AggregatesHandler{DB: db}
	requestsHandler := &RequestsHandler{DB: db}
	returnsHandler := &ReturnsHandler{DB: db}
	binHandler := &RecycleBinHandler{DB: db}

	authMW := AuthMiddleware(jwtSecret, db)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireManager := RequireRole(model.RoleManager)

	authed := func(h http.HandlerFunc) http.Handler { return authMW(h) }
	manager := func(h http.HandlerFunc) http.Handler { return authMW(requireManager(h)) }
	admin := func(h http.HandlerFunc) http.Handler { return authMW(requireAdmin(h)) }

	// Public: login.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	mux.Handle("PUT /api/auth/password", authed(authHandler.ChangePassword))
	mux.Handle("POST /api/auth/logout", authed(authHandler.Logout))

	// Users (admin only).
	mux.Handle("GET /api/users", admin(usersHandler.List))
	mux.Handle("POST /api/users", admin(usersHandler.Create))
	mux.Handle("GET /api/users/{id}", admin(usersHandler.Get))
	mux.Handle("PUT /api/users/{id}", admin(usersHandler.Update))
	mux.Handle("PUT /api/users/{id}/profile", admin(usersHandler.UpdateProfile))
	mux.Handle("PUT /api/users/{id}/password", admin(usersHandler.ResetPassword))
	mux.Handle("DELETE /api/users/{id}", admin(usersHandler.Delete))
	mux.Handle("GET /api/users/{id}/units", manager(usersHandler.Units))

	// Offices: read (all roles), write (manager+).
	mux.Handle("GET /api/offices", authed(officesHandler.List))
	mux.Handle("POST /api/offices", manager(officesHandler.Create))
	mux.Handle("GET /api/offices/{id}", authed(officesHandler.Get))
	mux.Handle("DELETE /api/offices/{id}", manager(officesHandler.Delete))

	mux.Handle("GET /api/identities/{kind}/{id}", authed(identitiesHandler.Resolve))

	// Units: read (all roles), write (manager+).
	mux.Handle("GET /api/units", authed(unitsHandler.List))
	mux.Handle("GET /api/units/mine", authed(unitsHandler.Mine))
	mux.Handle("GET /api/units/{id}", authed(unitsHandler.Get))
	mux.Handle("POST /api/units", manager(unitsHandler.Intake))
	mux.Handle("PUT /api/units/{id}", manager(unitsHandler.Update))
	mux.Handle("POST /api/units/delete", manager(unitsHandler.Delete))

	// Aggregates and borrowability settings.
	mux.Handle("GET /api/aggregates", authed(aggregatesHandler.List))
	mux.Handle("GET /api/aggregates/{category}/{name}", authed(aggregatesHandler.Get))
	mux.Handle("POST /api/aggregates/recompute", manager(aggregatesHandler.Recompute))
	mux.Handle("POST /api/aggregates/rename", manager(aggregatesHandler.Rename))
	mux.Handle("GET /api/settings/borrowability", authed(aggregatesHandler.GetBorrowability))
	mux.Handle("PUT /api/settings/borrowability", admin(aggregatesHandler.SetBorrowability))

	// Requests: submit and view own (all roles), decide (manager+).
	mux.Handle("POST /api/requests", authed(requestsHandler.Submit))
	mux.Handle("GET /api/requests", authed(requestsHandler.List))
	mux.Handle("GET /api/requests/{id}", authed(requestsHandler.Get))
	mux.Handle("POST /api/requests/{id}/cancel", authed(requestsHandler.Cancel))
	mux.Handle("POST /api/requests/{id}/reject", manager(requestsHandler.Reject))
	mux.Handle("POST /api/requests/{id}/lines/{line}/approve", manager(requestsHandler.ApproveLine))

	// Returns.
	mux.Handle("POST /api/returns", authed(returnsHandler.Submit))
	mux.Handle("GET /api/returns", authed(returnsHandler.List))
	mux.Handle("GET /api/returns/{id}", authed(returnsHandler.Get))
	mux.Handle("POST /api/returns/{id}/lines/{line}/approve", manager(returnsHandler.ApproveLine))

	// Recycle bin: restore (manager+), permanent deletion (admin).
	mux.Handle("GET /api/recycle-bin", manager(binHandler.List))
	mux.Handle("GET /api/recycle-bin/{id}", manager(binHandler.Get))
	mux.Handle("POST /api/recycle-bin/{id}/restore", manager(binHandler.Restore))
	mux.Handle("DELETE /api/recycle-bin/{id}", admin(binHandler.Purge))
	mux.Handle("POST /api/recycle-bin/sweep", admin(binHandler.Sweep))
	mux.Handle("POST /api/recycle-bin/purge-restored", admin(binHandler.PurgeRestored))

	return mux
}
