package echo

import e "github.com/labstack/echo/v4"

func RegisterRoutes(server *e.Echo, importHandler *ImportHandler, jobHandler *JobHandler, userHandler *UserHandler) {
	if server.Validator == nil {
		server.Validator = NewRequestValidator()
	}

	if importHandler != nil {
		server.POST("/api/v1/imports/users", importHandler.Upload)

		batches := server.Group("/api/v1/imports/batches/:batchID")
		batches.GET("", importHandler.GetBatch)
		batches.POST("/rows/:row/toggle", importHandler.Toggle)
		batches.POST("/select-valid", importHandler.SelectAllValid)
		batches.POST("/skip-invalid", importHandler.SkipAllInvalid)
		batches.POST("/rows/:row/edit", importHandler.BeginEdit)
		batches.PUT("/rows/:row", importHandler.CommitEdit)
		batches.DELETE("/rows/:row/edit", importHandler.CancelEdit)
		batches.GET("/reports/errors", importHandler.ErrorReport)
		batches.GET("/reports/skipped", importHandler.SkippedReport)
	}

	if jobHandler != nil {
		server.POST("/api/v1/imports/batches/:batchID/commit", jobHandler.Commit)

		jobs := server.Group("/api/v1/imports/jobs/:jobID")
		jobs.GET("", jobHandler.GetJob)
		jobs.GET("/events", jobHandler.Events)
		jobs.POST("/cancel", jobHandler.Cancel)
		jobs.POST("/rollback", jobHandler.Rollback)
		jobs.GET("/assignments", jobHandler.Assignments)
		jobs.PUT("/assignments/:group", jobHandler.OverrideAssignment)
		jobs.POST("/assignments/apply", jobHandler.ApplyAssignments)
	}

	if userHandler != nil {
		server.GET("/api/v1/users/:id", userHandler.GetUserByID)
	}
}
