package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"
	app "github.com/mohammadpnp/roster-import/internal/application/user"
)

// UserHandler serves committed users, including the permissions granted by
// the assignment stage.
type UserHandler struct {
	useCase app.GetUserByID
}

func NewUserHandler(useCase app.GetUserByID) *UserHandler {
	return &UserHandler{useCase: useCase}
}

func (h *UserHandler) GetUserByID(c echo.Context) error {
	out, err := h.useCase.Execute(c.Request().Context(), app.GetUserByIDInput{ID: c.Param("id")})
	if err != nil {
		return respondError(c, err, "failed to get user")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: out})
}
