// Package router wires the HTTP surface: the public redirect, the
// interactive JSON API, the developer API and the admin endpoints. It maps
// the shared error taxonomy onto HTTP status codes in one place.
package router

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/quicklnk/quicklnk/internal/accounts"
	"github.com/quicklnk/quicklnk/internal/apikeys"
	"github.com/quicklnk/quicklnk/internal/auth"
	"github.com/quicklnk/quicklnk/internal/clock"
	"github.com/quicklnk/quicklnk/internal/gzippedhttp"
	"github.com/quicklnk/quicklnk/internal/ipchecker"
	"github.com/quicklnk/quicklnk/internal/logger"
	"github.com/quicklnk/quicklnk/internal/models"
	"github.com/quicklnk/quicklnk/internal/payments"
	"github.com/quicklnk/quicklnk/internal/resolver"
	"github.com/quicklnk/quicklnk/internal/service"
)

// Router owns the handlers and their dependencies.
type Router struct {
	service      *service.Service
	accounts     *accounts.Accounts
	keys         *apikeys.Issuer
	payments     *payments.Service
	auth         *auth.Auth
	ipChecker    *ipchecker.IPChecker
	validate     *validator.Validate
	clock        clock.Clock
	shortURLBase string
}

// New builds the chi mux with all middleware and routes registered.
func New(
	svc *service.Service,
	accountsSvc *accounts.Accounts,
	keys *apikeys.Issuer,
	paymentsSvc *payments.Service,
	authHandler *auth.Auth,
	ipChecker *ipchecker.IPChecker,
	clk clock.Clock,
	shortURLBase string,
) *chi.Mux {
	rt := &Router{
		service:      svc,
		accounts:     accountsSvc,
		keys:         keys,
		payments:     paymentsSvc,
		auth:         authHandler,
		ipChecker:    ipChecker,
		validate:     validator.New(),
		clock:        clk,
		shortURLBase: shortURLBase,
	}

	router := chi.NewRouter()
	router.Use(logger.WithLoggingHTTPMiddleware)
	router.Use(gzippedhttp.UngzipRequest)
	router.Use(gzippedhttp.GzipResponse)

	router.Get(`/ping`, rt.getPing)
	router.Get(`/{alias}`, rt.getRedirectToLongURL)
	router.Get(`/api/internal/stats`, rt.getInternalStats)

	// The developer API authenticates with a bearer API key, never with a
	// session.
	router.Post(`/api/v1/shorten`, rt.postAPIShorten)

	router.Group(func(sessionRoutes chi.Router) {
		sessionRoutes.Use(rt.auth.WithUser)

		sessionRoutes.Post(`/api/shorten`, rt.postShorten)
		sessionRoutes.Post(`/api/user/register`, rt.postRegister)
		sessionRoutes.Post(`/api/user/login`, rt.postLogin)
		sessionRoutes.Post(`/api/user/logout`, rt.postLogout)
		sessionRoutes.Post(`/api/qrcodes`, rt.postQrCode)
		sessionRoutes.Post(`/api/scans`, rt.postScan)

		sessionRoutes.Group(func(userRoutes chi.Router) {
			userRoutes.Use(rt.auth.RequireUser)

			userRoutes.Get(`/api/user/urls`, rt.getUserURLs)
			userRoutes.Delete(`/api/user/urls/{id}`, rt.deleteUserURL)
			userRoutes.Post(`/api/user/urls/extend`, rt.postExtendURLs)
			userRoutes.Post(`/api/user/apikey`, rt.postIssueAPIKey)
			userRoutes.Put(`/api/user/settings`, rt.putSettings)
			userRoutes.Get(`/api/user/payments`, rt.getPayments)
			userRoutes.Get(`/api/user/qrcodes`, rt.getQrCodes)
			userRoutes.Get(`/api/user/scans`, rt.getScans)
			userRoutes.Post(`/api/payments/order`, rt.postPaymentOrder)
			userRoutes.Post(`/api/payments/confirm`, rt.postPaymentConfirm)
		})

		sessionRoutes.Group(func(adminRoutes chi.Router) {
			adminRoutes.Use(rt.auth.RequireAdmin)

			adminRoutes.Get(`/api/admin/users`, rt.getAllUsers)
			adminRoutes.Put(`/api/admin/users/{id}/permissions`, rt.putPermissions)
			adminRoutes.Delete(`/api/admin/users/{id}/urls`, rt.deleteUserURLsCascade)
		})
	})

	return router
}

// origin derives the display origin of issued short URLs from the
// request's forwarded headers, so the service behaves correctly behind a
// reverse proxy. The configured base is the fallback.
func (rt *Router) origin(request *http.Request) string {
	host := request.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = request.Host
	}
	if host == "" {
		return rt.shortURLBase
	}

	proto := request.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = "http"
		if request.TLS != nil {
			proto = "https"
		}
	}

	return proto + "://" + host
}

func (rt *Router) getPing(response http.ResponseWriter, request *http.Request) {
	if err := rt.service.Ping(request.Context()); err != nil {
		rt.writeError(response, err)

		return
	}
	response.WriteHeader(http.StatusOK)
}

func (rt *Router) getRedirectToLongURL(response http.ResponseWriter, request *http.Request) {
	record, status, err := rt.service.ResolveAlias(request.Context(), chi.URLParam(request, "alias"))
	if err != nil {
		rt.writeError(response, err)

		return
	}

	// Expired and NotFound render identically to the end user.
	if status != resolver.Active {
		response.WriteHeader(http.StatusNotFound)

		return
	}

	http.Redirect(response, request, record.LongURL, http.StatusTemporaryRedirect)
}

func (rt *Router) postShorten(response http.ResponseWriter, request *http.Request) {
	var req models.ShortenRequest
	if !rt.decodeAndValidate(response, request, &req) {
		return
	}

	record, err := rt.service.Shorten(
		request.Context(),
		auth.UserFromContext(request.Context()),
		req,
		rt.origin(request),
	)
	if err != nil {
		rt.writeError(response, err)

		return
	}

	rt.writeJSON(response, http.StatusCreated, record)
}

func (rt *Router) postAPIShorten(response http.ResponseWriter, request *http.Request) {
	apiKey, ok := bearerToken(request)
	if !ok {
		rt.writeJSON(
			response,
			http.StatusUnauthorized,
			models.APIError{Error: "Authorization header with Bearer token is required."},
		)

		return
	}

	var req models.ShortenRequest
	if !rt.decodeAndValidate(response, request, &req) {
		return
	}

	record, err := rt.service.ShortenWithAPIKey(request.Context(), apiKey, req, rt.origin(request))
	if err != nil {
		rt.writeError(response, err)

		return
	}

	rt.writeJSON(response, http.StatusOK, record)
}

func (rt *Router) postRegister(response http.ResponseWriter, request *http.Request) {
	var req models.RegisterRequest
	if !rt.decodeAndValidate(response, request, &req) {
		return
	}

	usr, err := rt.accounts.Register(request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		rt.writeError(response, err)

		return
	}

	if err := rt.auth.SetSessionCookie(response, usr.ID, rt.clock.Now()); err != nil {
		rt.writeError(response, err)

		return
	}

	rt.writeJSON(response, http.StatusCreated, usr.Sanitized())
}

func (rt *Router) postLogin(response http.ResponseWriter, request *http.Request) {
	var req models.LoginRequest
	if !rt.decodeAndValidate(response, request, &req) {
		return
	}

	usr, err := rt.accounts.Login(request.Context(), req.Email, req.Password)
	if err != nil {
		rt.writeError(response, err)

		return
	}

	if err := rt.auth.SetSessionCookie(response, usr.ID, rt.clock.Now()); err != nil {
		rt.writeError(response, err)

		return
	}

	rt.writeJSON(response, http.StatusOK, usr.Sanitized())
}

func (rt *Router) postLogout(response http.ResponseWriter, request *http.Request) {
	rt.auth.ClearSessionCookie(response)
	response.WriteHeader(http.StatusNoContent)
}

func (rt *Router) getUserURLs(response http.ResponseWriter, request *http.Request) {
	result, err := rt.service.GetUserLinks(request.Context(), auth.UserFromContext(request.Context()))
	if err != nil {
		rt.writeError(response, err)

		return
	}

	rt.writeJSON(response, http.StatusOK, result)
}

func (rt *Router) deleteUserURL(response http.ResponseWriter, request *http.Request) {
	err := rt.service.DeleteLink(
		request.Context(),
		auth.UserFromContext(request.Context()),
		chi.URLParam(request, "id"),
	)
	if err != nil {
		rt.writeError(response, err)

		return
	}

	response.WriteHeader(http.StatusNoContent)
}

func (rt *Router) postExtendURLs(response http.ResponseWriter, request *http.Request) {
	var req models.ExtendRequest
	if !rt.decodeAndValidate(response, request, &req) {
		return
	}

	err := rt.service.ExtendLinks(request.Context(), auth.UserFromContext(request.Context()), req)
	if err != nil {
		rt.writeError(response, err)

		return
	}

	response.WriteHeader(http.StatusNoContent)
}

func (rt *Router) postIssueAPIKey(response http.ResponseWriter, request *http.Request) {
	access, err := rt.keys.IssueTrialKey(request.Context(), auth.UserFromContext(request.Context()).ID)
	if errors.Is(err, models.ErrAlreadyIssued) {
		// Not a failure worth recovering from: hand back the existing key.
		rt.writeJSON(response, http.StatusConflict, access)

		return
	}
	if err != nil {
		rt.writeError(response, err)

		return
	}

	rt.writeJSON(response, http.StatusCreated, access)
}

func (rt *Router) putSettings(response http.ResponseWriter, request *http.Request) {
	var req models.SettingsRequest
	if !rt.decodeAndValidate(response, request, &req) {
		return
	}

	usr, err := rt.accounts.UpdateSettings(
		request.Context(),
		auth.UserFromContext(request.Context()).ID,
		req.WarningThresholdHours,
	)
	if err != nil {
		rt.writeError(response, err)

		return
	}

	rt.writeJSON(response, http.StatusOK, usr.Sanitized())
}

func (rt *Router) getPayments(response http.ResponseWriter, request *http.Request) {
	records, err := rt.service.GetPayments(request.Context(), auth.UserFromContext(request.Context()))
	if err != nil {
		rt.writeError(response, err)

		return
	}

	rt.writeJSON(response, http.StatusOK, records)
}

func (rt *Router) postPaymentOrder(response http.ResponseWriter, request *http.Request) {
	var req models.OrderRequest
	if !rt.decodeAndValidate(response, request, &req) {
		return
	}

	order, err := rt.payments.CreateOrder(request.Context(), req)
	if err != nil {
		rt.writeError(response, err)

		return
	}

	rt.writeJSON(response, http.StatusOK, order)
}

func (rt *Router) postPaymentConfirm(response http.ResponseWriter, request *http.Request) {
	var req models.ConfirmPaymentRequest
	if !rt.decodeAndValidate(response, request, &req) {
		return
	}

	record, err := rt.payments.Confirm(
		request.Context(),
		auth.UserFromContext(request.Context()),
		req,
	)
	if err != nil {
		rt.writeError(response, err)

		return
	}

	rt.writeJSON(response, http.StatusOK, record)
}

func (rt *Router) postQrCode(response http.ResponseWriter, request *http.Request) {
	var req models.QrCodeRequest
	if !rt.decodeAndValidate(response, request, &req) {
		return
	}

	record, err := rt.service.RecordQrCode(
		request.Context(),
		auth.UserFromContext(request.Context()),
		req,
	)
	if err != nil {
		rt.writeError(response, err)

		return
	}

	rt.writeJSON(response, http.StatusCreated, record)
}

func (rt *Router) getQrCodes(response http.ResponseWriter, request *http.Request) {
	records, err := rt.service.GetQrCodes(request.Context(), auth.UserFromContext(request.Context()))
	if err != nil {
		rt.writeError(response, err)

		return
	}

	rt.writeJSON(response, http.StatusOK, records)
}

func (rt *Router) postScan(response http.ResponseWriter, request *http.Request) {
	var req models.ScanRequest
	if !rt.decodeAndValidate(response, request, &req) {
		return
	}

	record, err := rt.service.RecordScan(
		request.Context(),
		auth.UserFromContext(request.Context()),
		req,
	)
	if err != nil {
		rt.writeError(response, err)

		return
	}

	rt.writeJSON(response, http.StatusCreated, record)
}

func (rt *Router) getScans(response http.ResponseWriter, request *http.Request) {
	records, err := rt.service.GetScans(request.Context(), auth.UserFromContext(request.Context()))
	if err != nil {
		rt.writeError(response, err)

		return
	}

	rt.writeJSON(response, http.StatusOK, records)
}

func (rt *Router) getAllUsers(response http.ResponseWriter, request *http.Request) {
	users, err := rt.accounts.GetAllUsers(request.Context())
	if err != nil {
		rt.writeError(response, err)

		return
	}

	sanitized := make([]any, 0, len(users))
	for _, usr := range users {
		sanitized = append(sanitized, usr.Sanitized())
	}

	rt.writeJSON(response, http.StatusOK, sanitized)
}

func (rt *Router) putPermissions(response http.ResponseWriter, request *http.Request) {
	var req models.PermissionsRequest
	if !rt.decodeAndValidate(response, request, &req) {
		return
	}

	usr, err := rt.accounts.SetPermissions(request.Context(), chi.URLParam(request, "id"), req)
	if err != nil {
		rt.writeError(response, err)

		return
	}

	rt.writeJSON(response, http.StatusOK, usr.Sanitized())
}

func (rt *Router) deleteUserURLsCascade(response http.ResponseWriter, request *http.Request) {
	rt.service.DeleteLinksByOwnerAsync(chi.URLParam(request, "id"))
	response.WriteHeader(http.StatusAccepted)
}

func (rt *Router) getInternalStats(response http.ResponseWriter, request *http.Request) {
	if rt.ipChecker.IsTrustedSubnetEmpty() {
		response.WriteHeader(http.StatusForbidden)

		return
	}

	clientIP, err := rt.ipChecker.GetClientIP(request)
	if err != nil || !rt.ipChecker.Check(clientIP) {
		response.WriteHeader(http.StatusForbidden)

		return
	}

	stats, err := rt.service.GetInternalStats(request.Context())
	if err != nil {
		rt.writeError(response, err)

		return
	}

	rt.writeJSON(response, http.StatusOK, stats)
}

func bearerToken(request *http.Request) (string, bool) {
	header := request.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}

	return parts[1], true
}

func (rt *Router) decodeAndValidate(
	response http.ResponseWriter,
	request *http.Request,
	target any,
) bool {
	if err := json.NewDecoder(request.Body).Decode(target); err != nil {
		rt.writeJSON(
			response,
			http.StatusBadRequest,
			models.APIError{Error: "malformed JSON request body"},
		)

		return false
	}

	if err := rt.validate.Struct(target); err != nil {
		rt.writeJSON(response, http.StatusBadRequest, models.APIError{Error: err.Error()})

		return false
	}

	return true
}

func (rt *Router) writeJSON(response http.ResponseWriter, status int, body any) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(status)
	if err := json.NewEncoder(response).Encode(body); err != nil {
		logger.Log.Debugln("Error encoding the response body: ", zap.Error(err))
	}
}

// writeError maps the shared error taxonomy onto HTTP codes. Unclassified
// errors are storage or transport failures: they are logged and surfaced
// as a generic internal error so storage details never leak, while staying
// distinguishable from any empty success.
func (rt *Router) writeError(response http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		rt.writeJSON(response, http.StatusBadRequest, models.APIError{Error: err.Error()})
	case errors.Is(err, models.ErrUnauthorized):
		rt.writeJSON(response, http.StatusUnauthorized, models.APIError{Error: err.Error()})
	case errors.Is(err, models.ErrForbidden):
		rt.writeJSON(response, http.StatusForbidden, models.APIError{Error: err.Error()})
	case errors.Is(err, models.ErrNotFound):
		rt.writeJSON(response, http.StatusNotFound, models.APIError{Error: err.Error()})
	case errors.Is(err, models.ErrAliasTaken),
		errors.Is(err, models.ErrAlreadyIssued),
		errors.Is(err, models.ErrEmailTaken):
		rt.writeJSON(response, http.StatusConflict, models.APIError{Error: err.Error()})
	default:
		logger.Log.Errorln("internal error: ", zap.Error(err))
		rt.writeJSON(
			response,
			http.StatusInternalServerError,
			models.APIError{Error: "An internal server error occurred."},
		)
	}
}
