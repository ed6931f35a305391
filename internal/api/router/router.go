package router

import (
	"context"
	"net/http"
	"sort"

	"github.com/cuongbtq/escrow-engine/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	service := deps.ServiceName
	if service == "" {
		service = "escrow-api-service"
	}
	r.GET("/health", healthHandler(service, deps.HealthChecks))

	if deps.AdminToken == "" {
		deps.Logger.Warn("Admin token not configured, admin routes are unauthenticated")
	}

	jobHandler := handler.NewJobHandler(deps)
	adminHandler := handler.NewAdminHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)

			// Custodial, signed by the caller's wallet
			jobs.POST("/:job_id/release", jobHandler.ReleaseFunds)
			jobs.POST("/:job_id/dispute", jobHandler.RaiseDispute)
			jobs.POST("/:job_id/accept", jobHandler.AcceptVerdict)
			jobs.POST("/:job_id/reject", jobHandler.RejectVerdict)
			jobs.POST("/:job_id/vote", jobHandler.CastVote)

			jobs.POST("/:job_id/evidence", jobHandler.AddEvidence)
			jobs.POST("/:job_id/arbitrate", jobHandler.RequestArbitration)

			// Signed by the AI agent
			jobs.POST("/:job_id/check-deadline", jobHandler.CheckDeadline)
			jobs.POST("/:job_id/escalate", jobHandler.Escalate)
			jobs.POST("/:job_id/finalize", jobHandler.FinalizeVoting)
		}

		admin := v1.Group("/admin", AdminAuthMiddleware(deps.AdminToken))
		{
			admin.POST("/voters", adminHandler.RegisterVoter)
			admin.DELETE("/voters/:address", adminHandler.RemoveVoter)
			admin.POST("/voters/:address/ban", adminHandler.BanVoter)
			admin.PUT("/params", adminHandler.SetParams)
			admin.POST("/deadlines/check", adminHandler.CheckDeadlines)
		}
	}

	return r
}

func healthHandler(service string, checks map[string]func(context.Context) error) gin.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *gin.Context) {
		for _, name := range names {
			if err := checks[name](c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": service,
					"failed":  name,
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": service,
		})
	}
}
