package controllers

import (
	"log/slog"
	"net/http"
	"strings"

	"eventregistration/internal/delivery/http/helpers"
	"eventregistration/internal/delivery/http/middleware"
	"eventregistration/internal/domain"
)

// RegisterRequest is the request body for POST /events/{eventID}/registrations.
type RegisterRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Validate implements Validator. Format rules are enforced by the registration service.
func (req RegisterRequest) Validate() []string {
	var errs []string
	if strings.TrimSpace(req.Name) == "" {
		errs = append(errs, "name is required")
	}
	if strings.TrimSpace(req.Email) == "" {
		errs = append(errs, "email is required")
	}
	if strings.TrimSpace(req.Phone) == "" {
		errs = append(errs, "phone is required")
	}
	return errs
}

// VerifyRequest is the request body for POST /events/{eventID}/registrations/{participantID}/verify.
type VerifyRequest struct {
	Code string `json:"code"`
}

// Validate implements Validator.
func (req VerifyRequest) Validate() []string {
	if strings.TrimSpace(req.Code) == "" {
		return []string{"code is required"}
	}
	return nil
}

// ParticipantSuccessResponse is the success envelope for endpoints returning one registration.
type ParticipantSuccessResponse struct {
	Data  *domain.Participant `json:"data"`
	Error *helpers.APIError   `json:"error"`
}

// ListParticipantsSuccessResponse is the success envelope for GET /events/{eventID}/participants (200).
type ListParticipantsSuccessResponse struct {
	Data  []*domain.Participant `json:"data"`
	Error *helpers.APIError     `json:"error"`
}

type RegistrationController struct {
	Logger  *slog.Logger
	Service domain.RegistrationService
}

func NewRegistrationController(logger *slog.Logger, svc domain.RegistrationService) *RegistrationController {
	return &RegistrationController{
		Logger:  logger,
		Service: svc,
	}
}

// Register godoc
// @Summary Register for an event
// @Description Anonymous callers get a pending registration and a 6-digit verification code by message; the slot is only taken on verify. An authenticated organizer registers someone directly as confirmed.
// @Tags registrations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param eventID path string true "Event ID (UUID)"
// @Param body body RegisterRequest true "Participant data"
// @Success 201 {object} controllers.ParticipantSuccessResponse "data contains the registration"
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request, conflict, no_available_slots or concurrent_update"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized (token present but invalid)"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Failure 500 {object} helpers.APIResponse "error.code: internal_error"
// @Router /events/{eventID}/registrations [post]
func (c *RegistrationController) Register(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("eventID")
	if eventID == "" {
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeBadRequest, "missing eventID")
		return
	}
	var req RegisterRequest
	if !helpers.DecodeAndValidate(w, r, &req) {
		return
	}
	var caller domain.Caller
	if userID, ok := middleware.UserIDFromContext(r.Context()); ok {
		caller = domain.Caller{Authenticated: true, UserID: userID}
	}
	p, err := c.Service.Register(r.Context(), domain.RegisterRequest{
		EventID: eventID,
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
	}, caller)
	if err != nil {
		helpers.WriteServiceError(w, r, c.Logger, err)
		return
	}
	helpers.WriteJSONSuccess(w, http.StatusCreated, p)
}

// Verify godoc
// @Summary Verify a pending registration
// @Description Confirms a pending registration with its 6-digit code and takes a slot if one is still free.
// @Tags registrations
// @Accept json
// @Produce json
// @Param eventID path string true "Event ID (UUID)"
// @Param participantID path string true "Participant ID (UUID)"
// @Param body body VerifyRequest true "Verification code"
// @Success 200 {object} controllers.ParticipantSuccessResponse "data contains the confirmed registration"
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request, invalid_code, expired_code, no_available_slots or concurrent_update"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Failure 429 {object} helpers.APIResponse "error.code: too_many_requests"
// @Failure 500 {object} helpers.APIResponse "error.code: internal_error"
// @Router /events/{eventID}/registrations/{participantID}/verify [post]
func (c *RegistrationController) Verify(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("eventID")
	participantID := r.PathValue("participantID")
	if eventID == "" || participantID == "" {
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeBadRequest, "missing eventID or participantID")
		return
	}
	var req VerifyRequest
	if !helpers.DecodeAndValidate(w, r, &req) {
		return
	}
	p, err := c.Service.Verify(r.Context(), eventID, participantID, strings.TrimSpace(req.Code))
	if err != nil {
		helpers.WriteServiceError(w, r, c.Logger, err)
		return
	}
	helpers.WriteJSONSuccess(w, http.StatusOK, p)
}

// Cancel godoc
// @Summary Cancel a registration
// @Description Cancels a pending or confirmed registration. A confirmed registration gives its slot back.
// @Tags registrations
// @Produce json
// @Param eventID path string true "Event ID (UUID)"
// @Param participantID path string true "Participant ID (UUID)"
// @Success 200 {object} controllers.ParticipantSuccessResponse "data contains the cancelled registration"
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request or concurrent_update"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Failure 500 {object} helpers.APIResponse "error.code: internal_error"
// @Router /events/{eventID}/registrations/{participantID} [delete]
func (c *RegistrationController) Cancel(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("eventID")
	participantID := r.PathValue("participantID")
	if eventID == "" || participantID == "" {
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeBadRequest, "missing eventID or participantID")
		return
	}
	p, err := c.Service.Cancel(r.Context(), eventID, participantID)
	if err != nil {
		helpers.WriteServiceError(w, r, c.Logger, err)
		return
	}
	helpers.WriteJSONSuccess(w, http.StatusOK, p)
}

// ListParticipants godoc
// @Summary List participants
// @Description Every registration of the event in registration order. Owner only.
// @Tags registrations
// @Produce json
// @Security BearerAuth
// @Param eventID path string true "Event ID (UUID)"
// @Success 200 {object} controllers.ListParticipantsSuccessResponse "data contains the registrations"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized"
// @Failure 403 {object} helpers.APIResponse "error.code: forbidden (not owner)"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Failure 500 {object} helpers.APIResponse "error.code: internal_error"
// @Router /events/{eventID}/participants [get]
func (c *RegistrationController) ListParticipants(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("eventID")
	if eventID == "" {
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeBadRequest, "missing eventID")
		return
	}
	ownerID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		helpers.WriteJSONError(w, http.StatusUnauthorized, helpers.ErrCodeUnauthorized, "unauthorized")
		return
	}
	participants, err := c.Service.ListParticipants(r.Context(), eventID, ownerID)
	if err != nil {
		helpers.WriteServiceError(w, r, c.Logger, err)
		return
	}
	if participants == nil {
		participants = []*domain.Participant{}
	}
	helpers.WriteJSONSuccess(w, http.StatusOK, participants)
}
