package echoapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/studyboard/studyboard/core/curriculum"
)

type curriculumApi struct {
	svc CurriculumService
}

func registerCurriculumAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc CurriculumService) {
	api := curriculumApi{svc: svc}

	pg := g.Group("/curriculum/promotions", jwt, adminMiddleware())
	pg.POST("", api.promote)
	pg.GET("", api.queryRuns)
	pg.GET("/:id", api.retrieveRun)
}

// Handlers

func (api *curriculumApi) promote(ctx echo.Context) error {
	var data curriculum.PromoteRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PromoteRequest")
	}
	if data.RequestedBy == "" {
		if claims, err := getContextClaims(ctx); err == nil {
			data.RequestedBy = claims.Email
		}
	}

	// a promotion runs to completion even if the client goes away
	res, err := api.svc.Promote(context.WithoutCancel(ctx.Request().Context()), data)
	if err != nil {
		return errors.Wrap(err, "promoting subject")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *curriculumApi) queryRuns(ctx echo.Context) error {
	var limit int
	if raw := ctx.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
		}
		limit = n
	}

	runs, err := api.svc.ListRuns(ctx.Request().Context(), limit)
	if err != nil {
		return errors.Wrap(err, "querying promotion runs")
	}
	if runs == nil {
		runs = []curriculum.PromotionRun{}
	}
	return ctx.JSON(http.StatusOK, runs)
}

func (api *curriculumApi) retrieveRun(ctx echo.Context) error {
	run, err := api.svc.GetRun(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Is(err, curriculum.ErrRunNotFound) {
			return errHttpNotFound
		}
		return errors.Wrap(err, "retrieving promotion run")
	}
	return ctx.JSON(http.StatusOK, run)
}
