package engine

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/quantex/algo-engine/internal/journal"
	"github.com/quantex/algo-engine/pkg/response"
)

// GinHandlers contains HTTP handlers for engine control and status endpoints
type GinHandlers struct {
	engine  *Engine
	journal *journal.Database
}

// NewGinHandlers creates a new set of HTTP handlers for the engine API
func NewGinHandlers(engine *Engine, journal *journal.Database) *GinHandlers {
	return &GinHandlers{
		engine:  engine,
		journal: journal,
	}
}

// StatusHandler reports the engine state, portfolio and capital allocations.
func (h *GinHandlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		portfolio := h.engine.Portfolio(c.Request.Context())
		response.Success(c, gin.H{
			"running":     h.engine.Running(),
			"portfolio":   portfolio,
			"allocations": h.engine.deps.Capital.Allocations(),
			"drawdown":    h.engine.deps.Capital.CurrentDrawdown(),
		})
	}
}

// AlgoStatusesHandler lists every strategy's runtime record.
func (h *GinHandlers) AlgoStatusesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.engine.AlgoStatuses())
	}
}

// PauseHandler pauses one strategy and frees its capital.
func (h *GinHandlers) PauseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := h.engine.PauseStrategy(id); err != nil {
			response.NotFound(c, "Strategy not found")
			return
		}
		response.Success(c, gin.H{"strategy": id, "state": "PAUSED"})
	}
}

// ResumeHandler reactivates a paused strategy.
func (h *GinHandlers) ResumeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := h.engine.ResumeStrategy(id); err != nil {
			response.NotFound(c, "Strategy not found")
			return
		}
		response.Success(c, gin.H{"strategy": id, "state": "ACTIVE"})
	}
}

// EmergencyStopHandler halts all trading immediately.
func (h *GinHandlers) EmergencyStopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.engine.EmergencyStop()
		response.Success(c, gin.H{"stopped": true})
	}
}

// SessionsHandler lists active execution sessions.
func (h *GinHandlers) SessionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.engine.Sessions())
	}
}

// ExecuteHandler starts a manually sized parent order.
func (h *GinHandlers) ExecuteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ManualExecution
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		status, err := h.engine.Execute(c.Request.Context(), req)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		response.Success(c, status)
	}
}

// StopSessionHandler stops one active session.
func (h *GinHandlers) StopSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("session_id")
		if err := h.engine.StopSession(id); err != nil {
			response.NotFound(c, err.Error())
			return
		}
		response.Success(c, gin.H{"session_id": id, "stopped": true})
	}
}

// ExecutionsHandler lists journaled execution sessions.
func (h *GinHandlers) ExecutionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		records, err := h.journal.ListExecutions(limit)
		response.Handle(c, records, err)
	}
}

// ExecutionHandler returns one journaled session with its child orders.
func (h *GinHandlers) ExecutionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("session_id")
		record, err := h.journal.GetExecution(id)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if record == nil {
			response.NotFound(c, "Execution not found")
			return
		}
		orders, err := h.journal.ListOrders(id)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"execution": record, "orders": orders})
	}
}

// SignalsHandler lists journaled signals with their admission decisions.
func (h *GinHandlers) SignalsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		records, err := h.journal.ListSignals(limit)
		response.Handle(c, records, err)
	}
}
