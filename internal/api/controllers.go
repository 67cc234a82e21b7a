package api

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"signal-core/internal/signal"
	"signal-core/pkg/db"
	"signal-core/pkg/vault"
)

// --- Signals ---

func (s *Server) submitSignal(c *gin.Context) {
	var sig signal.Signal
	if err := c.BindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	// The authenticated session owns the signal regardless of the payload.
	sig.Owner = CurrentUserID(c)
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}

	err := s.Pipeline.Submit(c.Request.Context(), sig)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"id": sig.ID, "status": "pending"})
	case errors.Is(err, signal.ErrDuplicateSignal):
		c.JSON(http.StatusConflict, gin.H{
			"code":  "DUPLICATE_SIGNAL",
			"error": "signal id already seen",
		})
	case errors.Is(err, signal.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "QUEUE_FULL",
			"error": "signal queue saturated, try again later",
		})
	default:
		var verr *signal.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "VALIDATION_ERROR",
				"error": verr.Error(),
				"field": verr.Field,
			})
			return
		}
		log.Printf("api: submit signal: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submission failed"})
	}
}

func (s *Server) getSignal(c *gin.Context) {
	rec, err := s.Queries.GetSignal(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if rec == nil || rec.OwnerID != CurrentUserID(c) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "SIGNAL_NOT_FOUND",
			"error": "signal not found",
		})
		return
	}
	c.JSON(http.StatusOK, signalView(rec))
}

func (s *Server) cancelSignal(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.Queries.GetSignal(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if rec == nil || rec.OwnerID != CurrentUserID(c) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "SIGNAL_NOT_FOUND",
			"error": "signal not found",
		})
		return
	}

	switch err := s.Pipeline.Cancel(c.Request.Context(), id); {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"id": id, "status": "rejected"})
	case errors.Is(err, signal.ErrNotCancellable):
		c.JSON(http.StatusConflict, gin.H{
			"code":  "NOT_CANCELLABLE",
			"error": "signal already executing or terminal",
		})
	default:
		log.Printf("api: cancel signal %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel failed"})
	}
}

func signalView(rec *db.SignalRecord) gin.H {
	view := gin.H{
		"id":           rec.ID,
		"kind":         rec.Kind,
		"instrument":   rec.Instrument,
		"volume":       rec.Volume,
		"status":       rec.Status,
		"submitted_at": rec.SubmittedAt,
		"updated_at":   rec.UpdatedAt,
	}
	if rec.ErrorKind != "" {
		view["error_kind"] = rec.ErrorKind
	}
	if rec.Ticket != 0 {
		view["ticket"] = rec.Ticket
	}
	return view
}

// --- Accounts ---

func (s *Server) listAccounts(c *gin.Context) {
	accounts, err := s.Queries.ListAccountsByOwner(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}

	out := make([]gin.H, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, gin.H{
			"id":         a.ID,
			"name":       a.Name,
			"server":     a.Server,
			"is_default": a.IsDefault,
			"is_active":  a.IsActive,
			"created_at": a.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

func (s *Server) createAccount(c *gin.Context) {
	var req struct {
		Name          string `json:"name"`
		Server        string `json:"server"`
		AccountNumber string `json:"account_number"`
		Password      string `json:"password"`
		IsDefault     bool   `json:"is_default"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	if req.Server == "" || req.AccountNumber == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MISSING_FIELDS",
			"error": "server, account_number and password are required",
		})
		return
	}

	blob, err := s.Vault.Seal(vault.Credentials{
		AccountNumber: req.AccountNumber,
		Password:      req.Password,
		Server:        req.Server,
	})
	if err != nil {
		log.Printf("api: seal credentials: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "account creation failed"})
		return
	}

	account := db.Account{
		ID:                   uuid.NewString(),
		OwnerID:              CurrentUserID(c),
		Name:                 req.Name,
		Server:               req.Server,
		CredentialsEncrypted: blob,
		IsDefault:            req.IsDefault,
		CreatedAt:            time.Now(),
	}
	if account.Name == "" {
		account.Name = req.Server + " " + req.AccountNumber
	}
	if err := s.Queries.CreateAccount(c.Request.Context(), account); err != nil {
		log.Printf("api: create account: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "account creation failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": account.ID, "name": account.Name})
}

func (s *Server) deactivateAccount(c *gin.Context) {
	err := s.Queries.DeactivateAccount(c.Request.Context(), CurrentUserID(c), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "ACCOUNT_NOT_FOUND",
			"error": "account not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "deactivation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

func (s *Server) setDefaultAccount(c *gin.Context) {
	err := s.Queries.SetDefaultAccount(c.Request.Context(), CurrentUserID(c), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "ACCOUNT_NOT_FOUND",
			"error": "account not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "default updated"})
}

func (s *Server) accountResults(c *gin.Context) {
	owner := CurrentUserID(c)
	accountID := c.Param("id")

	// Results are scoped through account ownership.
	account, err := s.Queries.GetAccountByID(c.Request.Context(), owner, accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if account == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "ACCOUNT_NOT_FOUND",
			"error": "account not found",
		})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	results, err := s.Queries.ResultsByAccount(c.Request.Context(), accountID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}

	out := make([]gin.H, 0, len(results))
	for _, r := range results {
		entry := gin.H{
			"signal_id":  r.SignalID,
			"success":    r.Success,
			"latency_ms": r.LatencyMs,
			"created_at": r.CreatedAt,
		}
		if r.Ticket != 0 {
			entry["ticket"] = r.Ticket
		}
		if r.ErrorKind != "" {
			entry["error_kind"] = r.ErrorKind
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"results": out, "stats": s.Pipeline.Stats()})
}
