package web

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/orgflow/pkg/log"
	"github.com/dukex/orgflow/pkg/persistence"
	"github.com/dukex/orgflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, problemType, detail string) error {
	body := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(body)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

// handleServiceError maps service and persistence errors to problem responses.
func handleServiceError(ctx context.Context, c fiber.Ctx, fallback *slog.Logger, err error) error {
	switch {
	case services.IsValidationError(err):
		return badRequest(c, err.Error())
	case services.IsConflictError(err):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())
	case persistence.IsRuleNotFound(err):
		return problem(c, fiber.StatusNotFound, "rule_not_found", "rule not found")
	case persistence.IsWorkflowNotFound(err):
		return problem(c, fiber.StatusNotFound, "workflow_not_found", "workflow not found")
	case persistence.IsExecutionNotFound(err):
		return problem(c, fiber.StatusNotFound, "execution_not_found", "execution not found")
	case errors.Is(err, persistence.ErrInvalidID):
		return badRequest(c, err.Error())
	default:
		log.FromContext(ctx, fallback).ErrorContext(ctx, "Request failed", "path", c.Path(), "error", err)

		body := problems.NewStatusProblem(fiber.StatusInternalServerError).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(body)
	}
}
