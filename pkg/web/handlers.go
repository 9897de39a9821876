// Package web provides HTTP handlers and REST API endpoints for rules, workflows and executions.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/orgflow/pkg/log"
	"github.com/dukex/orgflow/pkg/schema"
	"github.com/dukex/orgflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	ruleService       *services.Rule
	workflowService   *services.Workflow
	executionService  *services.Execution
	automationService *services.Automation
	schemas           *schema.Validator
	validator         *validator.Validate
	logger            *slog.Logger
}

func NewAPIHandlers(
	ruleService *services.Rule,
	workflowService *services.Workflow,
	executionService *services.Execution,
	automationService *services.Automation,
	schemas *schema.Validator,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		ruleService:       ruleService,
		workflowService:   workflowService,
		executionService:  executionService,
		automationService: automationService,
		schemas:           schemas,
		validator:         validator.New(validator.WithRequiredStructEnabled()),
		logger:            logger.With("module", "api"),
	}
}

// context returns the request context carrying the request-scoped logger.
func (h *APIHandlers) context(c fiber.Ctx) context.Context {
	return log.WithLogger(c.Context(), requestLogger(c, h.logger))
}

func (h *APIHandlers) fail(c fiber.Ctx, ctx context.Context, err error) error {
	return handleServiceError(ctx, c, h.logger, err)
}

var errInvalidJSON = errors.New("invalid JSON format")

// bind decodes an optional JSON body into req and validates it.
func (h *APIHandlers) bind(c fiber.Ctx, req any) error {
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(req); err != nil {
			return errInvalidJSON
		}
	}

	return h.validator.Struct(req)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.workflowService.HealthCheck(h.context(c))

	status := "unhealthy"
	message := "orgflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "orgflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) ListRules(c fiber.Ctx) error {
	ctx := h.context(c)

	rules, err := h.ruleService.List(ctx)
	if err != nil {
		return h.fail(c, ctx, err)
	}

	return c.JSON(newListResponse(rules))
}

func (h *APIHandlers) GetRule(c fiber.Ctx) error {
	ctx := h.context(c)

	rule, err := h.ruleService.FetchByID(ctx, c.Params("id"))
	if err != nil {
		return h.fail(c, ctx, err)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) CreateRule(c fiber.Ctx) error {
	ctx := h.context(c)

	rule, err := services.DecodeRule(c.Body())
	if err != nil {
		return h.fail(c, ctx, err)
	}

	created, err := h.ruleService.Create(ctx, rule)
	if err != nil {
		return h.fail(c, ctx, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateRule(c fiber.Ctx) error {
	ctx := h.context(c)

	rule, err := services.DecodeRule(c.Body())
	if err != nil {
		return h.fail(c, ctx, err)
	}

	updated, err := h.ruleService.Update(ctx, c.Params("id"), rule)
	if err != nil {
		return h.fail(c, ctx, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) SetRuleEnabled(c fiber.Ctx) error {
	var req SetRuleEnabledRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	ctx := h.context(c)

	rule, err := h.ruleService.SetEnabled(ctx, c.Params("id"), *req.Enabled)
	if err != nil {
		return h.fail(c, ctx, err)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) DeleteRule(c fiber.Ctx) error {
	ctx := h.context(c)

	err := h.ruleService.Delete(ctx, c.Params("id"))
	if err != nil {
		return h.fail(c, ctx, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ListWorkflows(c fiber.Ctx) error {
	ctx := h.context(c)

	workflows, err := h.workflowService.List(ctx)
	if err != nil {
		return h.fail(c, ctx, err)
	}

	return c.JSON(newListResponse(workflows))
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	ctx := h.context(c)

	workflow, err := h.workflowService.FetchByID(ctx, c.Params("id"))
	if err != nil {
		return h.fail(c, ctx, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	ctx := h.context(c)

	workflow, err := services.DecodeWorkflow(h.schemas, c.Body())
	if err != nil {
		return h.fail(c, ctx, err)
	}

	created, err := h.workflowService.Create(ctx, workflow)
	if err != nil {
		return h.fail(c, ctx, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	ctx := h.context(c)

	workflow, err := services.DecodeWorkflow(h.schemas, c.Body())
	if err != nil {
		return h.fail(c, ctx, err)
	}

	updated, err := h.workflowService.Update(ctx, c.Params("id"), workflow)
	if err != nil {
		return h.fail(c, ctx, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	ctx := h.context(c)

	err := h.workflowService.Delete(ctx, c.Params("id"))
	if err != nil {
		return h.fail(c, ctx, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	ctx := h.context(c)

	execution, err := h.executionService.Start(ctx, c.Params("id"), req.Data)
	if err != nil {
		return h.fail(c, ctx, err)
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	ctx := h.context(c)

	_, err := h.workflowService.FetchByID(ctx, c.Params("id"))
	if err != nil {
		return h.fail(c, ctx, err)
	}

	executions, err := h.executionService.ListByWorkflow(ctx, c.Params("id"))
	if err != nil {
		return h.fail(c, ctx, err)
	}

	return c.JSON(newListResponse(executions))
}

func (h *APIHandlers) DryRunWorkflow(c fiber.Ctx) error {
	var req DryRunRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	ctx := h.context(c)

	workflow, err := h.workflowService.FetchByID(ctx, c.Params("id"))
	if err != nil {
		return h.fail(c, ctx, err)
	}

	execution, err := h.executionService.DryRun(ctx, workflow, req.Data, req.Options()...)
	if err != nil {
		return h.fail(c, ctx, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	ctx := h.context(c)

	execution, err := h.executionService.FetchByID(ctx, c.Params("id"))
	if err != nil {
		return h.fail(c, ctx, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	ctx := h.context(c)

	execution, err := h.executionService.Cancel(ctx, c.Params("id"))
	if err != nil {
		return h.fail(c, ctx, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) DecideApproval(c fiber.Ctx) error {
	var req DecisionRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	ctx := h.context(c)

	execution, err := h.executionService.Decide(ctx, c.Params("id"), *req.Approved)
	if err != nil {
		return h.fail(c, ctx, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) SubmitEvent(c fiber.Ctx) error {
	var req EventRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	ctx := h.context(c)

	result, err := h.automationService.HandleEvent(ctx, req.Name, req.Data)
	if err != nil && result == nil {
		return h.fail(c, ctx, err)
	}

	if err != nil {
		log.FromContext(ctx, h.logger).WarnContext(ctx, "Event handled with errors", "event", req.Name, "error", err)
	}

	return c.Status(fiber.StatusAccepted).JSON(result)
}
