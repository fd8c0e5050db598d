package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/storefront/accounts-api/internal/api/metrics"
	"github.com/storefront/accounts-api/internal/core/domain"
	"github.com/storefront/accounts-api/internal/core/ports"
)

// AccountHandler serves the account resource.
type AccountHandler struct {
	service ports.IdentityService
}

func NewAccountHandler(service ports.IdentityService) *AccountHandler {
	return &AccountHandler{service: service}
}

// errorBody documents the error envelope rendered by the HTTP error handler.
type errorBody struct {
	Error string `json:"error"`
}

type updateAccountRequest struct {
	Name      *string `json:"name"      validate:"omitempty,min=1,max=100"`
	LastName  *string `json:"lastName"  validate:"omitempty,min=1,max=100"`
	Email     *string `json:"email"     validate:"omitempty,email,max=254"`
	BirthDate *string `json:"birthDate" validate:"omitempty"`
}

type accountResponse struct {
	Status string               `json:"status"`
	Result domain.PublicAccount `json:"result"`
}

type messageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// List returns every account.
//
// @Summary      List accounts
// @Tags         accounts
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   domain.PublicAccount
// @Failure      401  {object}  errorBody
// @Failure      403  {object}  errorBody
// @Router       /v1/accounts [get]
func (h *AccountHandler) List(c echo.Context) error {
	accounts, err := h.service.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, accounts)
}

// Get returns one account.
//
// @Summary      Get an account
// @Tags         accounts
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Account id"
// @Success      200  {object}  accountResponse
// @Failure      401  {object}  errorBody
// @Failure      403  {object}  errorBody
// @Failure      404  {object}  errorBody
// @Router       /v1/accounts/{id} [get]
func (h *AccountHandler) Get(c echo.Context) error {
	id, err := authorizeAccount(c)
	if err != nil {
		return err
	}

	account, err := h.service.FindByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, accountResponse{Status: "ok", Result: *account})
}

// Update merges profile changes into an account.
//
// @Summary      Update an account profile
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      int                   true  "Account id"
// @Param        body  body      updateAccountRequest  true  "Fields to change"
// @Success      200   {object}  accountResponse
// @Failure      400   {object}  errorBody
// @Failure      401   {object}  errorBody
// @Failure      403   {object}  errorBody
// @Failure      404   {object}  errorBody
// @Failure      409   {object}  errorBody
// @Router       /v1/accounts/{id} [patch]
func (h *AccountHandler) Update(c echo.Context) error {
	id, err := authorizeAccount(c)
	if err != nil {
		return err
	}

	var req updateAccountRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	account, err := h.service.UpdateProfile(c.Request().Context(), id, ports.ProfileChanges{
		Name:      req.Name,
		LastName:  req.LastName,
		Email:     req.Email,
		BirthDate: req.BirthDate,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, accountResponse{Status: "ok", Result: *account})
}

// Inactivate soft-deletes an account.
//
// @Summary      Inactivate an account
// @Tags         accounts
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Account id"
// @Success      200  {object}  messageResponse
// @Failure      401  {object}  errorBody
// @Failure      403  {object}  errorBody
// @Failure      404  {object}  errorBody
// @Router       /v1/accounts/{id} [delete]
func (h *AccountHandler) Inactivate(c echo.Context) error {
	id, err := authorizeAccount(c)
	if err != nil {
		return err
	}

	msg, err := h.service.Inactivate(c.Request().Context(), id)
	if err != nil {
		return err
	}
	metrics.AccountsInactivatedTotal.Inc()
	return c.JSON(http.StatusOK, messageResponse{Status: "ok", Message: msg})
}
