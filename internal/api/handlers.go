package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clinical-pipeline-server/internal/domain"
	"github.com/clinical-pipeline-server/internal/service"
)

// handleRunPipeline executes a full diagnostic pipeline run for an encounter
func (s *Server) handleRunPipeline(c *gin.Context) {
	var params service.RunParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	result, err := s.pipeline.Run(c.Request.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case domain.IsMissingInput(err):
			status = http.StatusBadRequest
		case errors.Is(err, domain.ErrNotFound):
			status = http.StatusNotFound
		}
		s.logger.WithError(err).WithFields(logrus.Fields{
			"patient_id":   params.PatientID,
			"encounter_id": params.EncounterID,
		}).Error("Pipeline run request failed")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// handlePriorAuthorization generates an insurance prior authorization request
// for a treatment of a finalized diagnosis
func (s *Server) handlePriorAuthorization(c *gin.Context) {
	var params service.PriorAuthParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	auth, err := s.documents.PriorAuthorization(c.Request.Context(), params)
	if err != nil {
		s.writeDocumentError(c, err, "Prior authorization request failed")
		return
	}
	c.JSON(http.StatusOK, auth)
}

// handleSpecialistReferral generates a specialist referral letter for a
// finalized diagnosis
func (s *Server) handleSpecialistReferral(c *gin.Context) {
	var params service.ReferralParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	referral, err := s.documents.SpecialistReferral(c.Request.Context(), params)
	if err != nil {
		s.writeDocumentError(c, err, "Specialist referral request failed")
		return
	}
	c.JSON(http.StatusOK, referral)
}

func (s *Server) writeDocumentError(c *gin.Context, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsMissingInput(err):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	}
	s.logger.WithError(err).Error(message)
	c.JSON(status, gin.H{"error": err.Error()})
}

// handleGetRun returns a recently completed run by request id. Served from
// the run result cache; entries expire with the cache TTL.
func (s *Server) handleGetRun(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run result cache is disabled"})
		return
	}

	requestID := c.Param("id")
	result, err := s.runs.GetRun(c.Request.Context(), requestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found or expired"})
			return
		}
		s.logger.WithError(err).Error("Failed to read cached run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read run"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleListDegraded returns recent degraded or failed runs from the audit log
func (s *Server) handleListDegraded(c *gin.Context) {
	if s.auditLog == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run audit log is disabled"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	records, err := s.auditLog.ListDegraded(c.Request.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list degraded runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list degraded runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": records, "count": len(records)})
}
