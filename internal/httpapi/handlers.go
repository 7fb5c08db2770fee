package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ghostmem/ghostmem/core"
	"github.com/ghostmem/ghostmem/ghost"
	"github.com/ghostmem/ghostmem/search"
	"github.com/ghostmem/ghostmem/trust"
)

type createRecordRequest struct {
	Title        string   `json:"title" binding:"required"`
	Body         string   `json:"body" binding:"required"`
	ContentType  string   `json:"content_type"`
	TrustScore   float64  `json:"trust_score"`
	Tags         []string `json:"tags"`
	City         string   `json:"city"`
	Precise      string   `json:"precise"`
	Participants []string `json:"participants"`
}

func (s *Server) handleCreateRecord(c *gin.Context) {
	var req createRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := trust.ValidateLevel(req.TrustScore); err != nil {
		s.fail(c, err)
		return
	}
	vec, err := s.emb.Embed(c.Request.Context(), req.Title+" "+req.Body)
	if err != nil {
		s.fail(c, err)
		return
	}
	rec := &core.Record{
		ID:           uuid.New().String(),
		OwnerID:      actor(c),
		Title:        req.Title,
		Body:         req.Body,
		ContentType:  req.ContentType,
		TrustScore:   req.TrustScore,
		Tags:         req.Tags,
		Location:     &core.Location{City: req.City, Precise: req.Precise},
		Participants: req.Participants,
		CreatedAt:    time.Now(),
		Embedding:    vec,
	}
	if req.ContentType == "" {
		rec.ContentType = "note"
	}
	if err := s.records.Put(c.Request.Context(), rec); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// handleDeleteRecord soft-deletes a record in the caller's own partition.
// The record stays resolvable so access checks can answer Deleted rather
// than NotFound.
func (s *Server) handleDeleteRecord(c *gin.Context) {
	rec, err := s.records.Get(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	now := time.Now()
	rec.DeletedAt = &now
	if err := s.records.Put(c.Request.Context(), rec); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCheckAccess(c *gin.Context) {
	res, err := s.resolver.CheckAccess(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, accessResponse(res))
}

// accessResponse flattens the result union for transport. Denials are still
// 200s: the access check succeeded, the answer just happens to be no.
func accessResponse(res core.AccessResult) gin.H {
	out := gin.H{"message": ghost.FormatAccessResult(res)}
	switch v := res.(type) {
	case core.Granted:
		out["result"] = "granted"
		out["level"] = string(v.Level)
		out["record"] = v.Record
	case core.InsufficientTrust:
		out["result"] = "insufficient-trust"
		out["required_trust"] = v.RequiredTrust
		out["actual_trust"] = v.ActualTrust
		out["attempts_remaining"] = v.AttemptsRemaining
	case core.Blocked:
		out["result"] = "blocked"
		out["reason"] = v.Reason
	case core.NoPermission:
		out["result"] = "no-permission"
	case core.NotFound:
		out["result"] = "not-found"
	case core.Deleted:
		out["result"] = "deleted"
		out["deleted_at"] = v.DeletedAt
	}
	return out
}

func (s *Server) handleGetConfig(c *gin.Context) {
	cfg, err := s.configs.GetConfig(c.Request.Context(), actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleUpdateConfig(c *gin.Context) {
	var patch core.GhostConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := s.configs.UpdateConfig(c.Request.Context(), actor(c), actor(c), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleResetConfig(c *gin.Context) {
	if err := s.configs.ResetConfig(c.Request.Context(), actor(c), actor(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type trustRequest struct {
	AccessorID string  `json:"accessor_id" binding:"required"`
	Level      float64 `json:"level"`
}

func (s *Server) handleSetTrust(c *gin.Context) {
	var req trustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.configs.SetTrust(c.Request.Context(), actor(c), actor(c), req.AccessorID, req.Level); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRemoveTrust(c *gin.Context) {
	if err := s.configs.RemoveTrust(c.Request.Context(), actor(c), actor(c), c.Param("accessor")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type accessorRequest struct {
	AccessorID string `json:"accessor_id" binding:"required"`
}

func (s *Server) handleBlock(c *gin.Context) {
	var req accessorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.configs.Block(c.Request.Context(), actor(c), actor(c), req.AccessorID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUnblock(c *gin.Context) {
	var req accessorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.configs.Unblock(c.Request.Context(), actor(c), actor(c), req.AccessorID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type resetEscalationRequest struct {
	AccessorID string `json:"accessor_id" binding:"required"`
	RecordID   string `json:"record_id" binding:"required"`
	Reason     string `json:"reason" binding:"required"`
}

func (s *Server) handleResetEscalation(c *gin.Context) {
	var req resetEscalationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.escalations.ResetBlock(c.Request.Context(), actor(c), actor(c), req.AccessorID, req.RecordID, req.Reason); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type publishRequest struct {
	RecordID  string `json:"record_id" binding:"required"`
	Scope     string `json:"scope" binding:"required"`
	TargetID  string `json:"target_id" binding:"required"`
	WriteMode string `json:"write_mode"`
}

func (s *Server) handlePublish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := s.coordinator.CreatePublishRequest(c.Request.Context(), actor(c), req.RecordID,
		core.MembershipScope(req.Scope), req.TargetID, core.WriteMode(req.WriteMode))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, tok)
}

type retractRequest struct {
	RecordID string `json:"record_id" binding:"required"`
	Scope    string `json:"scope" binding:"required"`
	TargetID string `json:"target_id" binding:"required"`
}

func (s *Server) handleRetract(c *gin.Context) {
	var req retractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := s.coordinator.CreateRetractRequest(c.Request.Context(), actor(c), req.RecordID,
		core.MembershipScope(req.Scope), req.TargetID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, tok)
}

type reviseRequest struct {
	OwnerID  string `json:"owner_id" binding:"required"`
	RecordID string `json:"record_id" binding:"required"`
}

func (s *Server) handleRevise(c *gin.Context) {
	var req reviseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := s.coordinator.CreateReviseRequest(c.Request.Context(), actor(c), req.OwnerID, req.RecordID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, tok)
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (s *Server) handleConfirm(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := s.coordinator.ConfirmRequest(c.Request.Context(), req.Token)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}

func (s *Server) handleDeny(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.coordinator.DenyRequest(c.Request.Context(), req.Token); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type moderateRequest struct {
	OwnerID  string `json:"owner_id" binding:"required"`
	RecordID string `json:"record_id" binding:"required"`
	Status   string `json:"status" binding:"required"`
}

func (s *Server) handleModerate(c *gin.Context) {
	var req moderateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.coordinator.Moderate(c.Request.Context(), actor(c), req.OwnerID, req.RecordID, req.Status); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type searchRequest struct {
	Query          string   `json:"query" binding:"required"`
	Limit          int      `json:"limit"`
	ContentType    string   `json:"content_type"`
	Tags           []string `json:"tags"`
	IncludeResidue bool     `json:"include_residue"`

	// Scope selects the partition: "shared" (default) or "own".
	Scope string `json:"scope"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sReq := search.Request{
		Query:          req.Query,
		Limit:          req.Limit,
		ContentType:    req.ContentType,
		Tags:           req.Tags,
		IncludeResidue: req.IncludeResidue,
	}
	if req.Scope == "own" {
		recs, err := s.searcher.SearchOwn(c.Request.Context(), actor(c), sReq)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": recs})
		return
	}
	results, err := s.searcher.SearchShared(c.Request.Context(), actor(c), sReq)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
