package controller

import (
	"cmp"
	"log/slog"
	"net/http"
	"slices"

	"ctchen222/picross/internal/api/models"
	"ctchen222/picross/internal/api/response"
	"ctchen222/picross/internal/events"
	"ctchen222/picross/internal/puzzle"
	"ctchen222/picross/internal/registry"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("api")

// Coordinator is the part of the accept loop the operator can observe and stop.
type Coordinator interface {
	LiveConnections() int64
	Accepting() bool
	FinalizeMode() bool
	Stop() error
}

// CoordinatorController handles operator HTTP requests.
type CoordinatorController struct {
	registry    *registry.Registry
	coordinator Coordinator
	publisher   events.Publisher
	broadcaster *events.Broadcaster
}

// NewCoordinatorController creates a new CoordinatorController. A nil
// publisher disables event publishing for operator changes.
func NewCoordinatorController(reg *registry.Registry, coord Coordinator, pub events.Publisher, b *events.Broadcaster) *CoordinatorController {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &CoordinatorController{
		registry:    reg,
		coordinator: coord,
		publisher:   pub,
		broadcaster: b,
	}
}

// Results lists every connected player's result record.
func (cc *CoordinatorController) Results(c *gin.Context) {
	snapshot := cc.registry.SnapshotResults()

	entries := make([]models.ResultEntry, 0, len(snapshot))
	for id, rec := range snapshot {
		entries = append(entries, models.ResultEntry{
			PlayerID: id.String(),
			Name:     rec.Result.Name,
			Time:     rec.Result.Time,
			Score:    rec.Result.Score,
			Recorded: rec.Recorded,
		})
	}
	slices.SortFunc(entries, func(a, b models.ResultEntry) int {
		return cmp.Compare(a.PlayerID, b.PlayerID)
	})

	response.SuccessResponseList(c, entries)
}

// GetConfiguration returns the active configuration with its hints.
func (cc *CoordinatorController) GetConfiguration(c *gin.Context) {
	configuration := cc.registry.Configuration()
	if configuration == "" {
		response.SuccessResponse(c, models.ConfigurationResponse{})
		return
	}

	grid, err := puzzle.Parse(configuration)
	if err != nil {
		// Handlers only store validated configurations.
		slog.ErrorContext(c.Request.Context(), "Stored configuration is invalid", "error", err)
		response.ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	response.SuccessResponse(c, models.ConfigurationResponse{
		Available:     true,
		Configuration: configuration,
		Dimension:     grid.Dimension(),
		RowHints:      puzzle.RowHints(grid),
		ColumnHints:   puzzle.ColumnHints(grid),
	})
}

// PutConfiguration replaces the active configuration on behalf of the operator.
func (cc *CoordinatorController) PutConfiguration(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "api.PutConfiguration")
	defer span.End()

	var req models.ConfigurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := puzzle.Validate(req.Configuration); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid configuration")
		response.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	cc.registry.SetConfiguration(req.Configuration)
	span.SetAttributes(attribute.String("configuration", req.Configuration))
	slog.InfoContext(ctx, "Configuration set by operator", "configuration", req.Configuration)

	if e, err := events.New(events.TypeConfigurationSet, events.ConfigurationSetPayload{Configuration: req.Configuration}); err == nil {
		if err := cc.publisher.Publish(ctx, e); err != nil {
			slog.WarnContext(ctx, "Failed to publish event", "event", e.Type, "error", err)
		}
	}

	response.SuccessResponse(c, gin.H{"configuration": req.Configuration})
}

// Status reports connection counts and whether new players are accepted.
func (cc *CoordinatorController) Status(c *gin.Context) {
	status := models.StatusResponse{
		LiveConnections: cc.coordinator.LiveConnections(),
		Players:         cc.registry.Len(),
		Accepting:       cc.coordinator.Accepting(),
		Finalize:        cc.coordinator.FinalizeMode(),
	}
	if cc.broadcaster != nil {
		status.Subscribers = cc.broadcaster.Subscribers()
	}
	response.SuccessResponse(c, status)
}

// Stop makes the coordinator stop accepting new players. Open sessions continue.
func (cc *CoordinatorController) Stop(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "api.Stop", trace.WithAttributes(
		attribute.Int64("connections.live", cc.coordinator.LiveConnections()),
	))
	defer span.End()

	if err := cc.coordinator.Stop(); err != nil {
		slog.ErrorContext(ctx, "Failed to stop accepting", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to stop accepting")
		response.ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	slog.InfoContext(ctx, "Operator stopped accepting new players")
	response.SuccessResponse(c, gin.H{"accepting": cc.coordinator.Accepting()})
}

// Health is a liveness check.
func (cc *CoordinatorController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
