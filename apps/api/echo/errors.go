package echoapi

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/studyboard/studyboard/core"
	"github.com/studyboard/studyboard/core/curriculum"
)

var (
	errUnauthorized  = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errHttpForbidden = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound  = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// errorResponse is the JSON body of every non validation error.
type errorResponse struct {
	Error      string                        `json:"error"`
	Duplicates []curriculum.DuplicateGroup   `json:"duplicates,omitempty"`
	Blocked    *curriculum.BlockedTopicError `json:"blocked,omitempty"`
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
func newAppHTTPErrorHandler(logger core.Logger) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code, message := classify(err)

		if code == http.StatusInternalServerError {
			fields := map[string]interface{}{
				"method": ctx.Request().Method,
				"path":   ctx.Path(),
			}
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				fields["operator"] = claims.Email
			}
			logger.Error(http.StatusText(code), errors.Wrap(err, http.StatusText(code)), fields)
			if ctx.Echo().Debug {
				message = errorResponse{Error: err.Error()}
			}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

// classify maps err to a status code and response body.
func classify(err error) (int, interface{}) {
	var (
		httpErr *echo.HTTPError
		vErrs   validator.ValidationErrors
		vErr    *core.ValidationError
		dupErr  *curriculum.DuplicateDataError
		nfErr   *curriculum.NotFoundError
		bErr    *curriculum.BlockedTopicError
	)

	switch {
	case errors.As(err, &httpErr):
		if httpErr == middleware.ErrJWTMissing {
			return http.StatusUnauthorized, errorResponse{Error: fmt.Sprint(httpErr.Message)}
		}
		if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
			httpErr = herr
		}
		if msg, ok := httpErr.Message.(string); ok {
			return httpErr.Code, errorResponse{Error: msg}
		}
		return httpErr.Code, httpErr.Message
	case errors.As(err, &vErrs):
		return http.StatusBadRequest, core.TranslateValidationErrors(vErrs)
	case errors.As(err, &vErr):
		if len(vErr.Fields) > 0 {
			fldErrs := make(map[string]string, len(vErr.Fields))
			for _, fErr := range vErr.Fields {
				fldErrs[fErr.Field] = fErr.Error
			}
			return http.StatusBadRequest, fldErrs
		}
		return http.StatusBadRequest, errorResponse{Error: vErr.Error()}
	case errors.As(err, &dupErr):
		return http.StatusUnprocessableEntity, errorResponse{Error: dupErr.Error(), Duplicates: dupErr.Groups}
	case errors.As(err, &bErr):
		return http.StatusConflict, errorResponse{Error: bErr.Error(), Blocked: bErr}
	case errors.As(err, &nfErr):
		return http.StatusNotFound, errorResponse{Error: nfErr.Error()}
	case errors.Is(err, curriculum.ErrRunNotFound):
		return http.StatusNotFound, errorResponse{Error: curriculum.ErrRunNotFound.Error()}
	case errors.Is(err, curriculum.ErrPromotionInProgress):
		return http.StatusConflict, errorResponse{Error: curriculum.ErrPromotionInProgress.Error()}
	default: // any other error is a server error
		return http.StatusInternalServerError, errorResponse{Error: http.StatusText(http.StatusInternalServerError)}
	}
}
