package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/storefront/accounts-api/internal/core/domain"
)

// ctxClaims extracts the claims injected by the Auth middleware. A zero
// account id means the middleware did not run.
func ctxClaims(c echo.Context) (domain.Claims, error) {
	id, _ := c.Get("account_id").(int64)
	role, _ := c.Get("role").(string)
	if id == 0 || role == "" {
		return domain.Claims{}, echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
	}
	return domain.Claims{AccountID: id, Role: role}, nil
}

// pathAccountID parses the :id route parameter.
func pathAccountID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid account id")
	}
	return id, nil
}

// authorizeAccount resolves the target account id and checks that the caller
// is that account or an admin.
func authorizeAccount(c echo.Context) (int64, error) {
	claims, err := ctxClaims(c)
	if err != nil {
		return 0, err
	}
	id, err := pathAccountID(c)
	if err != nil {
		return 0, err
	}
	if claims.Role != domain.RoleAdmin && claims.AccountID != id {
		return 0, domain.ErrForbidden
	}
	return id, nil
}
