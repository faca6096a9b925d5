// Package httpapi exposes the thin JSON admin/ingest surface (§6) over
// gin-gonic/gin.
//
// Grounded on the teacher's cmd/api-server/main.go setupRoutes/middleware
// stack (requestIDMiddleware, loggingMiddleware, corsMiddleware,
// gin.Recovery routed through a gin.New() engine); trimmed to the handful
// of routes §6 actually names. The teacher's JWT auth, rate limiting,
// analytics, backtest, and A/B-testing route groups have no counterpart
// in this system and are not reproduced here — see DESIGN.md.
package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/riskshield/txscore/internal/ingest"
	"github.com/riskshield/txscore/internal/models"
	"github.com/riskshield/txscore/internal/repositories"
)

// NewRouter builds the gin engine exposing the ingest and admin surface.
func NewRouter(environment string, gate *ingest.Gate, txRepo *repositories.TransactionRepository, ruleRepo *repositories.RuleRepository) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC().Format(time.RFC3339)})
	})

	router.POST("/transactions", submitTransactionHandler(gate))

	router.POST("/rules/add", addRuleHandler(ruleRepo))
	router.POST("/rules/edit/:rule_id", editRuleHandler(ruleRepo))
	router.POST("/rules/delete/:rule_id", deleteRuleHandler(ruleRepo))

	admin := router.Group("/admin")
	{
		admin.GET("/transactions", listTransactionsHandler(txRepo))
		admin.GET("/transaction/:id", getTransactionHandler(txRepo))
		admin.GET("/stats", statsHandler(txRepo))
	}

	return router
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = fmt.Sprintf("%d", time.Now().UnixNano())
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("request_id", c.GetString("request_id")).
			Msg("request completed")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type transactionRequest struct {
	SenderAccount   string  `json:"sender_account" binding:"required"`
	ReceiverAccount string  `json:"receiver_account" binding:"required"`
	Amount          float64 `json:"amount" binding:"required"`
	TransactionType string  `json:"transaction_type" binding:"required"`
}

func submitTransactionHandler(gate *ingest.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
			return
		}

		tx, err := gate.Submit(c.Request.Context(), ingest.Submission{
			SenderAccount:   req.SenderAccount,
			ReceiverAccount: req.ReceiverAccount,
			Amount:          req.Amount,
			TransactionType: req.TransactionType,
		})
		if err != nil {
			switch {
			case errors.Is(err, ingest.ErrInvalidSubmission):
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
			case errors.Is(err, ingest.ErrDuplicateInStore):
				c.JSON(http.StatusConflict, gin.H{"error": "duplicate_in_store"})
			case errors.Is(err, ingest.ErrDuplicateInQueue):
				c.JSON(http.StatusConflict, gin.H{"error": "duplicate_in_queue"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "queued", "correlation_id": tx.CorrelationID})
	}
}

type ruleRequest struct {
	Name     string  `json:"name" binding:"required"`
	RuleType string  `json:"rule_type" binding:"required"`
	Value    float64 `json:"value"`
}

func addRuleHandler(ruleRepo *repositories.RuleRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ruleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
			return
		}

		rule, err := ruleRepo.Create(c.Request.Context(), req.Name, models.RuleType(req.RuleType), req.Value, "admin")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ok", "rule_id": rule.ID})
	}
}

func editRuleHandler(ruleRepo *repositories.RuleRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ruleID := c.Param("rule_id")

		var req ruleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
			return
		}

		_, err := ruleRepo.Update(c.Request.Context(), ruleID, req.Name, models.RuleType(req.RuleType), req.Value, "admin")
		if err != nil {
			if errors.Is(err, repositories.ErrRuleNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func deleteRuleHandler(ruleRepo *repositories.RuleRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ruleID := c.Param("rule_id")

		if err := ruleRepo.Delete(c.Request.Context(), ruleID, "admin"); err != nil {
			if errors.Is(err, repositories.ErrRuleNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func listTransactionsHandler(txRepo *repositories.TransactionRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := queryInt(c, "page", 1)
		perPage := queryInt(c, "per_page", 20)
		status := models.TransactionStatus(c.Query("status"))

		result, err := txRepo.ListBy(c.Request.Context(), repositories.TransactionListFilter{Status: status}, page, perPage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func getTransactionHandler(txRepo *repositories.TransactionRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		tx, err := txRepo.Get(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, repositories.ErrTransactionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, tx)
	}
}

func statsHandler(txRepo *repositories.TransactionRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		all, err := txRepo.ListAll(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var queued, processed, alerted int
		for _, tx := range all {
			switch tx.Status {
			case models.StatusQueued:
				queued++
			case models.StatusProcessed:
				processed++
			case models.StatusAlerted:
				alerted++
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"total":     len(all),
			"queued":    queued,
			"processed": processed,
			"alerted":   alerted,
		})
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	var v int
	if _, err := fmt.Sscanf(c.Query(key), "%d", &v); err == nil && v > 0 {
		return v
	}
	return def
}
