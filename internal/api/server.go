package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/urlsentry/urlsentry/internal/history"
	"github.com/urlsentry/urlsentry/internal/logger"
	"github.com/urlsentry/urlsentry/internal/rules"
	"github.com/urlsentry/urlsentry/internal/scan"
	"github.com/urlsentry/urlsentry/internal/signals"
)

var log = logger.New("api")

// Server is the HTTP surface over the scan engine, the rule store and the
// history database.
type Server struct {
	engine   *scan.Engine
	store    *rules.Store
	learner  *rules.Learner
	storage  *history.Storage // nil when history is disabled
	router   *gin.Engine
	validate *validator.Validate
}

// NewServer wires the routes. learner and storage may be nil; the feedback
// and history endpoints then answer 503.
func NewServer(engine *scan.Engine, store *rules.Store, learner *rules.Learner, storage *history.Storage) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(SecurityHeadersMiddleware())
	router.Use(BodySizeLimitMiddleware(MaxBodySize))

	s := &Server{
		engine:   engine,
		store:    store,
		learner:  learner,
		storage:  storage,
		router:   router,
		validate: validator.New(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	apiGroup := s.router.Group("/api")
	{
		apiGroup.POST("/scan", s.handleScanSubmit)
		apiGroup.GET("/scan/:fingerprint", s.handleScanGet)
		apiGroup.DELETE("/scan/:fingerprint", s.handleScanDelete)

		rulesGroup := apiGroup.Group("/rules")
		{
			rulesGroup.GET("", s.handleRulesList)
			rulesGroup.GET("/report", s.handleRulesReport)
			rulesGroup.POST("", s.handleRuleAdd)
			rulesGroup.POST("/reload", s.handleRulesReload)
		}

		feedback := apiGroup.Group("/feedback")
		{
			feedback.POST("/malicious", s.handleFeedbackMalicious)
			feedback.POST("/false-positive", s.handleFeedbackFalsePositive)
		}

		historyGroup := apiGroup.Group("/history")
		{
			historyGroup.GET("/recent", s.handleHistoryRecent)
			historyGroup.GET("/stats", s.handleHistoryStats)
			historyGroup.GET("/export", s.handleHistoryExport)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	Success(c, gin.H{
		"status": "ok",
		"rules":  s.store.Len(),
	})
}

// ScanRequest is the POST /api/scan body.
type ScanRequest struct {
	URL     string          `json:"url" binding:"required"`
	Context signals.Context `json:"context"`
}

func (s *Server) handleScanSubmit(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}

	ticket := s.engine.Submit(req.URL, req.Context)
	if ticket.Cached {
		Success(c, ticket.Decision)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"scan_id":     ticket.ScanID,
		"fingerprint": ticket.Fingerprint,
		"status":      "pending",
	})
}

func (s *Server) handleScanGet(c *gin.Context) {
	fingerprint := c.Param("fingerprint")

	if decision, ok := s.engine.Poll(fingerprint); ok {
		Success(c, decision)
		return
	}
	if s.engine.Pending(fingerprint) {
		c.JSON(http.StatusAccepted, gin.H{
			"fingerprint": fingerprint,
			"status":      "pending",
		})
		return
	}
	Error(c, http.StatusNotFound, "no scan known for this fingerprint")
}

func (s *Server) handleScanDelete(c *gin.Context) {
	removed := s.engine.InvalidateCached(c.Param("fingerprint"))
	Success(c, gin.H{"removed": removed})
}

// ruleView is a rule plus its decayed confidence at listing time.
type ruleView struct {
	rules.Rule
	EffectiveConfidence float64 `json:"effective_confidence"`
}

func (s *Server) handleRulesList(c *gin.Context) {
	now := time.Now().UTC()
	all := s.store.All()
	views := make([]ruleView, 0, len(all))
	for _, r := range all {
		views = append(views, ruleView{
			Rule:                r,
			EffectiveConfidence: rules.EffectiveConfidence(r, now),
		})
	}
	Success(c, gin.H{"rules": views, "total": len(views)})
}

func (s *Server) handleRulesReport(c *gin.Context) {
	problems := s.store.Validate()
	Success(c, gin.H{
		"problems": problems,
		"count":    len(problems),
		"clean":    len(problems) == 0,
	})
}

// AddRuleRequest is the POST /api/rules body. The id is derived from the
// conditions, never supplied.
type AddRuleRequest struct {
	Description string                                      `json:"description" validate:"max=200"`
	Conditions  map[rules.ConditionKey]rules.ConditionValue `json:"conditions" validate:"required,min=1"`
	ScoreImpact int                                         `json:"score_impact" validate:"required,gt=0,lte=100"`
	Confidence  float64                                     `json:"confidence" validate:"gte=0,lte=1"`
}

func (s *Server) handleRuleAdd(c *gin.Context) {
	var req AddRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}
	for key := range req.Conditions {
		if !rules.KnownConditionKeys[key] {
			Error(c, http.StatusBadRequest, "unknown condition key: "+string(key))
			return
		}
	}

	now := time.Now().UTC()
	rule := rules.Rule{
		ID:            rules.RuleID(req.Conditions),
		Description:   req.Description,
		Conditions:    req.Conditions,
		ScoreImpact:   req.ScoreImpact,
		Confidence:    req.Confidence,
		MinConfidence: rules.DefaultMinConfidence,
		Active:        true,
		Source:        rules.SourceManual,
		CreatedAt:     now,
		LastSeenAt:    now,
	}
	if rule.Confidence == 0 {
		rule.Confidence = 1.0
	}

	if err := s.store.Add(rule); err != nil {
		if errors.Is(err, rules.ErrRuleExists) {
			Error(c, http.StatusConflict, err.Error())
			return
		}
		Error(c, http.StatusBadRequest, err.Error())
		return
	}
	s.saveStore()
	c.JSON(http.StatusCreated, gin.H{"id": rule.ID})
}

func (s *Server) handleRulesReload(c *gin.Context) {
	if err := s.store.Reload(); err != nil {
		Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	Success(c, gin.H{"rules": s.store.Len()})
}

// MaliciousFeedback is the POST /api/feedback/malicious body: an operator
// or provider confirming a URL as malicious.
type MaliciousFeedback struct {
	URL     string          `json:"url" binding:"required"`
	Context signals.Context `json:"context"`
}

func (s *Server) handleFeedbackMalicious(c *gin.Context) {
	if s.learner == nil {
		Error(c, http.StatusServiceUnavailable, "learner is disabled")
		return
	}
	var req MaliciousFeedback
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}

	sig := signals.Extract(req.URL, &req.Context)
	result := s.learner.LearnFromConfirmedMalicious(req.URL, sig)

	// A stale ALLOW for this URL must not outlive the confirmation.
	s.engine.InvalidateCached(scan.Fingerprint(req.URL))

	if result.Created {
		s.saveStore()
	}
	s.recordRuleEvent(eventName(result), result.RuleID, req.URL, result.Reason)

	Success(c, gin.H{
		"learned": result.Created,
		"rule_id": result.RuleID,
		"reason":  result.Reason,
	})
}

// FalsePositiveFeedback is the POST /api/feedback/false-positive body.
type FalsePositiveFeedback struct {
	URL     string   `json:"url" binding:"required"`
	RuleIDs []string `json:"rule_ids" binding:"required,min=1"`
}

func (s *Server) handleFeedbackFalsePositive(c *gin.Context) {
	if s.learner == nil {
		Error(c, http.StatusServiceUnavailable, "learner is disabled")
		return
	}
	var req FalsePositiveFeedback
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}

	adjustments := s.learner.LearnFromFalsePositive(req.RuleIDs)
	s.engine.InvalidateCached(scan.Fingerprint(req.URL))
	s.saveStore()

	adjusted := 0
	for _, adj := range adjustments {
		if adj.Err == "" {
			adjusted++
			event := "confidence_lowered"
			if adj.Deactivated {
				event = "rule_deactivated"
			}
			s.recordRuleEvent(event, adj.RuleID, req.URL, "false-positive feedback")
		}
	}

	Success(c, gin.H{
		"adjusted":       adjusted,
		"adjusted_rules": adjustments,
	})
}

// HistoryQuery bounds the recent-scans endpoints.
type HistoryQuery struct {
	Minutes int `form:"minutes" binding:"omitempty,min=1,max=10080"` // max 7 days
	Limit   int `form:"limit" binding:"omitempty,min=1,max=1000"`
}

func (s *Server) handleHistoryRecent(c *gin.Context) {
	if s.storage == nil {
		Error(c, http.StatusServiceUnavailable, "history is disabled")
		return
	}
	var query HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}

	scans, err := s.storage.GetRecentScans(query.Minutes, query.Limit)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	Success(c, gin.H{"scans": scans, "count": len(scans)})
}

func (s *Server) handleHistoryStats(c *gin.Context) {
	if s.storage == nil {
		Error(c, http.StatusServiceUnavailable, "history is disabled")
		return
	}
	stats, err := s.storage.GetStats()
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	Success(c, stats)
}

func (s *Server) handleHistoryExport(c *gin.Context) {
	if s.storage == nil {
		Error(c, http.StatusServiceUnavailable, "history is disabled")
		return
	}
	var query HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}

	c.Header("Content-Type", "application/zstd")
	c.Header("Content-Disposition", `attachment; filename="urlsentry-history.json.zst"`)
	if err := s.storage.Export(c.Writer, query.Minutes, query.Limit); err != nil {
		log.Error("exporting history: %v", err)
	}
}

func (s *Server) saveStore() {
	if err := s.store.Save(); err != nil {
		log.Error("persisting rule store: %v", err)
	}
}

func (s *Server) recordRuleEvent(event, ruleID, rawURL, reason string) {
	if s.storage == nil {
		return
	}
	if err := s.storage.RecordRuleEvent(event, ruleID, rawURL, reason); err != nil {
		log.Warn("recording rule event: %v", err)
	}
}

func eventName(res rules.LearnResult) string {
	if res.Created {
		return "rule_learned"
	}
	return "learn_skipped"
}
