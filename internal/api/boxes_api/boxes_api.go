package boxes_api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/services/boxclaim"
	"github.com/BearBump/LockerBox/internal/services/extractor"
	"github.com/BearBump/LockerBox/internal/services/packages"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

// UserHeader carries the authenticated caller id, set by the gateway in
// front of this service.
const UserHeader = "X-User-ID"

type BoxesAPI struct {
	claims   *boxclaim.Manager
	packages *packages.Service
	pipeline *extractor.Pipeline
}

func New(claims *boxclaim.Manager, pkgs *packages.Service, pipeline *extractor.Pipeline) *BoxesAPI {
	return &BoxesAPI{claims: claims, packages: pkgs, pipeline: pipeline}
}

func (a *BoxesAPI) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/boxes/{code}", func(r chi.Router) {
		r.Get("/validate", a.validate)
		r.Post("/claim", a.claim)
		r.Post("/release", a.release)
		r.Post("/deactivate", a.deactivate)

		r.Get("/packages", a.listPackages)
		r.Post("/packages", a.registerPackage)
		r.Post("/packages/confirm", a.confirmDetection)
		r.Get("/packages/{packageID}", a.getPackage)
		r.Post("/packages/{packageID}/received", a.markReceived)
		r.Delete("/packages/{packageID}", a.hidePackage)
	})
	r.Post("/notifications", a.ingestNotification)

	return r
}

func (a *BoxesAPI) validate(w http.ResponseWriter, r *http.Request) {
	res, err := a.claims.Validate(r.Context(), chi.URLParam(r, "code"), r.Header.Get(UserHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type claimRequest struct {
	Alias string `json:"alias"`
}

func (a *BoxesAPI) claim(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req claimRequest
	if r.ContentLength != 0 {
		if !decode(w, r, &req) {
			return
		}
	}
	if err := a.claims.Claim(r.Context(), chi.URLParam(r, "code"), req.Alias, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *BoxesAPI) release(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := a.claims.Release(r.Context(), chi.URLParam(r, "code"), userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *BoxesAPI) deactivate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := a.claims.Deactivate(r.Context(), chi.URLParam(r, "code"), userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *BoxesAPI) listPackages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	includeHidden, _ := strconv.ParseBool(r.URL.Query().Get("includeHidden"))
	out, err := a.packages.List(r.Context(), chi.URLParam(r, "code"), userID, includeHidden)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": out})
}

func (a *BoxesAPI) registerPackage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in packages.RegisterInput
	if !decode(w, r, &in) {
		return
	}
	p, err := a.packages.Register(r.Context(), chi.URLParam(r, "code"), userID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *BoxesAPI) confirmDetection(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in models.ExtractedPackageInfo
	if !decode(w, r, &in) {
		return
	}
	p, err := a.packages.ConfirmDetection(r.Context(), chi.URLParam(r, "code"), userID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *BoxesAPI) getPackage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	p, err := a.packages.Get(r.Context(), chi.URLParam(r, "code"), userID, chi.URLParam(r, "packageID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *BoxesAPI) markReceived(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	p, err := a.packages.MarkReceived(r.Context(), chi.URLParam(r, "code"), userID, chi.URLParam(r, "packageID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *BoxesAPI) hidePackage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := a.packages.Hide(r.Context(), chi.URLParam(r, "code"), userID, chi.URLParam(r, "packageID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type notificationResponse struct {
	Detected  bool                         `json:"detected"`
	Detection *models.ExtractedPackageInfo `json:"detection,omitempty"`
}

func (a *BoxesAPI) ingestNotification(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var ev models.NotificationEvent
	if !decode(w, r, &ev) {
		return
	}
	ev.UserID = userID

	info, detected, err := a.pipeline.Handle(r.Context(), ev)
	if err != nil {
		// Кандидат всё равно отдаём клиенту, событие просто не ушло в шину.
		slog.Warn("detection not published", "user_id", userID, "error", err.Error())
	}
	resp := notificationResponse{Detected: detected}
	if detected {
		resp.Detection = &info
	}
	writeJSON(w, http.StatusOK, resp)
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + UserHeader + " header"})
		return "", false
	}
	return userID, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json: " + err.Error()})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrDuplicatePackage):
		return http.StatusConflict
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		slog.Error("request failed", "error", err.Error())
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
