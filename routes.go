package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"bitbucket.org/mmdatafocus/governance_backend/models"
	"bitbucket.org/mmdatafocus/governance_backend/utils"
	"bitbucket.org/mmdatafocus/governance_backend/workflow"
	"github.com/gin-gonic/gin"
)

// api adapts HTTP requests to engine operations. The engine is set once the
// database is connected.
type api struct {
	eng atomic.Pointer[workflow.Engine]
}

func (a *api) engine() *workflow.Engine {
	return a.eng.Load()
}

func (a *api) setEngine(engine *workflow.Engine) {
	a.eng.Store(engine)
}

func (a *api) register(r gin.IRouter) {
	r.POST("/data-points", a.createDataPoint)
	r.GET("/data-points/:id", a.getDataPoint)
	r.PUT("/data-points/:id", a.updateDataPointDetails)
	r.POST("/data-points/:id/status", a.updateDataPointStatus)
	r.GET("/sections/:sectionId/data-points", a.listDataPoints)

	r.POST("/exceptions", a.createException)
	r.GET("/exceptions/:id", a.getException)
	r.GET("/sections/:sectionId/exceptions", a.listExceptions)

	r.POST("/plans", a.createPlan)
	r.GET("/plans/:id", a.getPlan)
	r.PUT("/plans/:id", a.updatePlan)
	r.DELETE("/plans/:id", a.deletePlan)
	r.POST("/plans/:id/complete", a.completePlan)
	r.POST("/plans/:id/actions", a.createAction)
	r.GET("/plans/:id/actions", a.listActions)
	r.PUT("/actions/:id/status", a.updateActionStatus)
	r.GET("/sections/:sectionId/plans", a.listPlans)

	r.POST("/periods", a.createPeriod)
	r.GET("/periods/:periodId", a.getPeriod)
	r.POST("/periods/:periodId/generations", a.createGeneration)
	r.GET("/periods/:periodId/generations", a.listHistory)
	r.GET("/periods/:periodId/canonical", a.canonicalGeneration)
	r.GET("/periods/:periodId/verify", a.verifyPeriod)
	r.GET("/generations/compare", a.compareGenerations)
	r.GET("/generations/:id", a.getGeneration)
	r.POST("/generations/:id/final", a.markFinal)
	r.GET("/generations/:id/verify", a.verifyGeneration)

	r.POST("/access-requests", a.createAccessRequest)
	r.GET("/access-requests", a.listAccessRequests)
	r.GET("/access-requests/:id", a.getAccessRequest)
	r.POST("/access-requests/:id/resolve", a.resolveAccessRequest)

	r.POST("/audit-logs", a.recordAudit)
	r.GET("/audit-logs", a.listAuditLogs)
}

// respondError writes a GovernanceError as JSON with its HTTP status.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch utils.KindOf(err) {
	case utils.ErrorKindNotFound:
		status = http.StatusNotFound
	case utils.ErrorKindInvalidInput:
		status = http.StatusBadRequest
	case utils.ErrorKindValidationFailed:
		status = http.StatusUnprocessableEntity
	case utils.ErrorKindInvalidTransition, utils.ErrorKindConflict:
		status = http.StatusConflict
	case utils.ErrorKindForbidden:
		status = http.StatusForbidden
	case utils.ErrorKindStorageUnavailable:
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}

	var ge *utils.GovernanceError
	if errors.As(err, &ge) {
		c.AbortWithStatusJSON(status, gin.H{"error": ge})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"kind": "Internal", "message": "internal error"}})
}

// actorOf returns the caller identity set by AuthMiddleware.
func actorOf(c *gin.Context) (workflow.Actor, bool) {
	actor, err := workflow.ActorFromContext(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return workflow.Actor{}, false
	}
	return actor, true
}

func bindBody[T any](c *gin.Context, input *T) bool {
	if err := c.ShouldBindJSON(input); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			reason := "has the wrong type"
			if utils.IsDateType(typeErr.Type) {
				reason = "must be a date (YYYY-MM-DD)"
			}
			respondError(c, utils.NewInvalidInput(typeErr.Field, reason))
			return false
		}
		respondError(c, utils.NewInvalidInput("body", "is not valid JSON: "+err.Error()))
		return false
	}
	return true
}

// bindOptionalBody accepts an empty body as the zero value.
func bindOptionalBody[T any](c *gin.Context, input *T) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bindBody(c, input)
}

func optionalQuery(c *gin.Context, key string) *string {
	v, ok := c.GetQuery(key)
	if !ok || v == "" {
		return nil
	}
	return &v
}

type noteRequest struct {
	Note *string `json:"note"`
}

type recordAuditRequest struct {
	Action     string               `json:"action"`
	EntityType string               `json:"entity_type"`
	EntityId   string               `json:"entity_id"`
	Changes    []models.FieldChange `json:"changes"`
}

// data points

func (a *api) createDataPoint(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	var input models.NewDataPoint
	if !bindBody(c, &input) {
		return
	}
	result, err := a.engine().CreateDataPoint(c.Request.Context(), actor, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (a *api) getDataPoint(c *gin.Context) {
	result, err := a.engine().GetDataPoint(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) listDataPoints(c *gin.Context) {
	results, err := a.engine().ListDataPoints(c.Request.Context(), c.Param("sectionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (a *api) updateDataPointDetails(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	var input models.DataPointDetails
	if !bindBody(c, &input) {
		return
	}
	result, err := a.engine().UpdateDataPointDetails(c.Request.Context(), actor, c.Param("id"), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) updateDataPointStatus(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	var input models.UpdateDataPointStatus
	if !bindBody(c, &input) {
		return
	}
	result, err := a.engine().UpdateStatus(c.Request.Context(), actor, c.Param("id"), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// exceptions

func (a *api) createException(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	var input models.NewCompletionException
	if !bindBody(c, &input) {
		return
	}
	result, err := a.engine().CreateException(c.Request.Context(), actor, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (a *api) getException(c *gin.Context) {
	result, err := a.engine().GetException(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) listExceptions(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	results, err := a.engine().ListExceptions(c.Request.Context(), c.Param("sectionId"), activeOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// remediation

func (a *api) createPlan(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	var input models.NewRemediationPlan
	if !bindBody(c, &input) {
		return
	}
	result, err := a.engine().CreatePlan(c.Request.Context(), actor, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (a *api) getPlan(c *gin.Context) {
	result, err := a.engine().GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) listPlans(c *gin.Context) {
	filter := models.RemediationPlanFilter{
		SectionId: c.Param("sectionId"),
		LinkId:    optionalQuery(c, "link_id"),
	}
	if v := optionalQuery(c, "link_type"); v != nil {
		linkType := models.ParseRemediationLinkType(*v)
		filter.LinkType = &linkType
	}
	results, err := a.engine().ListPlans(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (a *api) updatePlan(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	var input models.UpdateRemediationPlan
	if !bindBody(c, &input) {
		return
	}
	result, err := a.engine().UpdatePlan(c.Request.Context(), actor, c.Param("id"), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) completePlan(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	var input noteRequest
	if !bindOptionalBody(c, &input) {
		return
	}
	result, err := a.engine().CompletePlan(c.Request.Context(), actor, c.Param("id"), input.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) deletePlan(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	if err := a.engine().DeletePlan(c.Request.Context(), actor, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) createAction(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	var input models.NewRemediationAction
	if !bindBody(c, &input) {
		return
	}
	result, err := a.engine().CreateAction(c.Request.Context(), actor, c.Param("id"), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (a *api) listActions(c *gin.Context) {
	results, err := a.engine().ListActions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (a *api) updateActionStatus(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	var input models.UpdateRemediationActionStatus
	if !bindBody(c, &input) {
		return
	}
	result, err := a.engine().UpdateActionStatus(c.Request.Context(), actor, c.Param("id"), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// periods and generations

func (a *api) createPeriod(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	var input models.NewReportingPeriod
	if !bindBody(c, &input) {
		return
	}
	result, err := a.engine().CreatePeriod(c.Request.Context(), actor, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (a *api) getPeriod(c *gin.Context) {
	result, err := a.engine().GetPeriod(c.Request.Context(), c.Param("periodId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) createGeneration(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	var input models.NewGeneration
	if !bindBody(c, &input) {
		return
	}
	result, err := a.engine().CreateGeneration(c.Request.Context(), actor, c.Param("periodId"), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (a *api) listHistory(c *gin.Context) {
	results, err := a.engine().ListHistory(c.Request.Context(), c.Param("periodId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (a *api) canonicalGeneration(c *gin.Context) {
	result, err := a.engine().CanonicalGeneration(c.Request.Context(), c.Param("periodId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) verifyPeriod(c *gin.Context) {
	results, err := a.engine().VerifyPeriod(c.Request.Context(), c.Param("periodId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (a *api) getGeneration(c *gin.Context) {
	result, err := a.engine().GetGeneration(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) markFinal(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	var input noteRequest
	if !bindOptionalBody(c, &input) {
		return
	}
	result, err := a.engine().MarkFinal(c.Request.Context(), actor, c.Param("id"), input.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) verifyGeneration(c *gin.Context) {
	result, err := a.engine().VerifyGeneration(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) compareGenerations(c *gin.Context) {
	result, err := a.engine().CompareGenerations(c.Request.Context(), c.Query("from"), c.Query("to"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// access requests

func (a *api) createAccessRequest(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	var input models.NewAccessRequest
	if !bindBody(c, &input) {
		return
	}
	result, err := a.engine().CreateAccessRequest(c.Request.Context(), actor, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (a *api) getAccessRequest(c *gin.Context) {
	result, err := a.engine().GetAccessRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) listAccessRequests(c *gin.Context) {
	var status *models.AccessRequestStatus
	if v := optionalQuery(c, "status"); v != nil {
		s := models.AccessRequestStatus(*v)
		status = &s
	}
	results, err := a.engine().ListAccessRequests(c.Request.Context(), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (a *api) resolveAccessRequest(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	var input models.ResolveAccessRequest
	if !bindBody(c, &input) {
		return
	}
	result, err := a.engine().ResolveAccessRequest(c.Request.Context(), actor, c.Param("id"), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// audit

func (a *api) recordAudit(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	var input recordAuditRequest
	if !bindBody(c, &input) {
		return
	}
	result, err := a.engine().RecordAudit(c.Request.Context(), actor, input.Action, input.EntityType, input.EntityId, input.Changes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (a *api) listAuditLogs(c *gin.Context) {
	filter := models.AuditLogFilter{
		EntityType: c.Query("entity_type"),
		EntityId:   c.Query("entity_id"),
		ActorId:    c.Query("actor_id"),
		Action:     c.Query("action"),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(c, utils.NewInvalidInput("limit", "must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}
	results, err := a.engine().ListAuditLogs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}
