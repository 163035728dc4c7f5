// Package api provides the HTTP control surface for the traffic simulation.
// GET endpoints are public (read-only observation).
// POST and DELETE endpoints require a bearer token when an admin key is set.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/talgya/citytraffic/internal/agents"
	"github.com/talgya/citytraffic/internal/broadcast"
	"github.com/talgya/citytraffic/internal/engine"
	"github.com/talgya/citytraffic/internal/geo"
	"github.com/talgya/citytraffic/internal/routing"
)

// MaxSampleGrid caps the grid divisions accepted by the traffic conditions endpoint.
const MaxSampleGrid = 20

// Server serves the simulation over HTTP.
type Server struct {
	Sim         *engine.Simulation
	Hub         *broadcast.Hub   // nil disables /ws
	Provider    routing.Provider // nil disables traffic conditions
	Port        int
	AdminKey    string // Bearer token for mutating endpoints. Empty = open.
	CORSOrigins []string

	// Context is the lifetime of a simulation started over the API. Defaults
	// to context.Background.
	Context context.Context

	// SpawnLimiter throttles spawn requests per client IP. Nil = unlimited.
	SpawnLimiter *RateLimiter
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), corsMiddleware(s.CORSOrigins))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/simulation/status", s.handleStatus)
		v1.GET("/snapshot", s.handleSnapshot)
		v1.GET("/roads", s.handleRoads)
		v1.GET("/traffic/conditions", s.handleTrafficConditions)

		admin := v1.Group("", s.adminOnly())
		admin.POST("/simulation/start", s.handleStart)
		admin.POST("/simulation/stop", s.handleStop)
		if s.SpawnLimiter != nil {
			admin.POST("/agents/spawn", RateLimit(s.SpawnLimiter), s.handleSpawn)
		} else {
			admin.POST("/agents/spawn", s.handleSpawn)
		}
		admin.DELETE("/agents/:id", s.handleDespawn)
		admin.POST("/roads/block", s.handleBlock)
		admin.DELETE("/roads/block/:key", s.handleUnblock)
	}

	if s.Hub != nil {
		r.GET("/ws", gin.WrapF(s.Hub.ServeWS))
	}
	return r
}

// Start begins serving the HTTP API in a goroutine and returns the server so
// the caller can shut it down.
func (s *Server) Start() *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", srv.Addr, "admin_auth", s.AdminKey != "", "websocket", s.Hub != nil)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

func (s *Server) baseContext() context.Context {
	if s.Context != nil {
		return s.Context
	}
	return context.Background()
}

// localOrigins are frontend dev servers that are always allowed.
var localOrigins = []string{
	"http://localhost:5173",
	"http://localhost:4173",
	"http://localhost:3000",
}

func allowedOrigins(extra []string) map[string]bool {
	allowed := make(map[string]bool, len(localOrigins)+len(extra))
	for _, o := range localOrigins {
		allowed[o] = true
	}
	for _, o := range extra {
		allowed[o] = true
	}
	return allowed
}

// OriginChecker returns a websocket origin check accepting the same origins
// as the CORS middleware, plus clients that send no Origin header.
func OriginChecker(extra []string) func(r *http.Request) bool {
	allowed := allowedOrigins(extra)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Localhost dev servers are always allowed.
func corsMiddleware(extra []string) gin.HandlerFunc {
	allowed := allowedOrigins(extra)
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	return len(auth) > len(prefix) && auth[:len(prefix)] == prefix && auth[len(prefix):] == s.AdminKey
}

// adminOnly requires bearer token auth when an admin key is configured.
func (s *Server) adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.AdminKey != "" && !s.checkBearerToken(c.Request) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// errorStatus maps control-surface errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidCount),
		errors.Is(err, geo.ErrInvalidBounds),
		errors.Is(err, geo.ErrInvalidCoord):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrUnknownBlockage),
		errors.Is(err, engine.ErrUnknownAgent),
		errors.Is(err, routing.ErrNoRoutes):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// bindOptionalJSON decodes the body into v, treating an empty body as {}.
func bindOptionalJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Sim.Status())
}

func (s *Server) handleStart(c *gin.Context) {
	if s.Sim.Start(s.baseContext()) {
		slog.Info("simulation started via API")
	}
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

func (s *Server) handleStop(c *gin.Context) {
	s.Sim.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	snap := s.Sim.LastSnapshot()
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot published yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleRoads(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"road_conditions": s.Sim.Conditions()})
}

type spawnRequest struct {
	Count       int         `json:"count"`
	Bounds      *geo.Bounds `json:"bounds"`
	Origin      *geo.Coord  `json:"origin"`
	Destination *geo.Coord  `json:"destination"`
}

func (s *Server) handleSpawn(c *gin.Context) {
	var req spawnRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid spawn request"})
		return
	}

	// Spawning queries the route provider; a disconnecting client must not
	// leave agents half-initialized.
	ctx := context.WithoutCancel(c.Request.Context())

	if req.Origin != nil || req.Destination != nil {
		if req.Origin == nil || req.Destination == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "origin and destination must be given together"})
			return
		}
		id, err := s.Sim.SpawnAgent(ctx, *req.Origin, *req.Destination)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"agent_ids": []agents.AgentID{id}, "count": 1})
		return
	}

	if req.Count == 0 {
		req.Count = 1
	}
	bounds := geo.DefaultBounds
	if req.Bounds != nil {
		bounds = *req.Bounds
	}
	ids, err := s.Sim.SpawnAgents(ctx, req.Count, bounds)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_ids": ids, "count": len(ids)})
}

func (s *Server) handleDespawn(c *gin.Context) {
	id := agents.AgentID(c.Param("id"))
	if err := s.Sim.Despawn(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed", "agent_id": id})
}

type blockRequest struct {
	Key      string     `json:"key"`
	Lat      *float64   `json:"lat"`
	Lng      *float64   `json:"lng"`
	Location *geo.Coord `json:"location"`
}

func (r blockRequest) coord() (geo.Coord, bool) {
	switch {
	case r.Location != nil:
		return *r.Location, true
	case r.Lat != nil && r.Lng != nil:
		return geo.Coord{Lat: *r.Lat, Lng: *r.Lng}, true
	default:
		return geo.Coord{}, false
	}
}

func (s *Server) handleBlock(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid block request"})
		return
	}
	loc, ok := req.coord()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng (or location) are required"})
		return
	}

	// The forced reroute pass runs to completion even if the client goes away.
	key, cond, err := s.Sim.AddRoadBlockage(context.WithoutCancel(c.Request.Context()), req.Key, loc)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "blocked",
		"segment_key": key,
		"location":    cond.Location,
	})
}

func (s *Server) handleUnblock(c *gin.Context) {
	key := c.Param("key")
	if err := s.Sim.RemoveRoadBlockage(key); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unblocked", "segment_key": key})
}

func (s *Server) handleTrafficConditions(c *gin.Context) {
	if s.Provider == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no route provider configured"})
		return
	}

	bounds, err := boundsFromQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}
	grid := routing.DefaultSampleGrid
	if v := c.Query("grid"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxSampleGrid {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("grid must be 1..%d", MaxSampleGrid)})
			return
		}
		grid = n
	}

	conds, err := routing.SampleTraffic(c.Request.Context(), s.Provider, bounds, grid, time.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bounds": bounds, "grid": grid, "conditions": conds})
}

// boundsFromQuery reads north/south/east/west. All absent means the default
// box; a partial or malformed set is rejected.
func boundsFromQuery(c *gin.Context) (geo.Bounds, error) {
	names := [4]string{"north", "south", "east", "west"}
	var vals [4]float64
	present := 0
	for i, name := range names {
		v, ok := c.GetQuery(name)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return geo.Bounds{}, fmt.Errorf("%w: %s=%q", geo.ErrInvalidBounds, name, v)
		}
		vals[i] = f
		present++
	}
	switch present {
	case 0:
		return geo.DefaultBounds, nil
	case len(names):
		b := geo.Bounds{North: vals[0], South: vals[1], East: vals[2], West: vals[3]}
		return b, b.Validate()
	default:
		return geo.Bounds{}, fmt.Errorf("%w: north, south, east and west must be given together", geo.ErrInvalidBounds)
	}
}
