package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/drill-ssh/drill/internal/metrics"
	"github.com/drill-ssh/drill/internal/probe"
	"github.com/drill-ssh/drill/internal/registry"
	"github.com/drill-ssh/drill/internal/supervisor"
	"github.com/drill-ssh/drill/internal/tunnel"
	"github.com/gin-gonic/gin"
)

// Router provides the embeddable HTTP handlers for managing tunnels.
// Endpoints (relative to basePath):
//
//	GET    /tunnels              registered tunnels with current status
//	POST   /tunnels              body: Tunnel JSON (id assigned server-side)
//	DELETE /tunnels/:name        stop if active, then unregister
//	POST   /tunnels/:name/start
//	POST   /tunnels/:name/stop
//	POST   /tunnels/:name/test   one-shot connectivity probe
//	GET    /status               name -> status map
//	GET    /metrics              Prometheus metrics
type Router struct {
	reg      *registry.Registry
	sup      *supervisor.Supervisor
	prober   *probe.Prober
	basePath string
}

func NewRouter(reg *registry.Registry, sup *supervisor.Supervisor, prober *probe.Prober, basePath string) *Router {
	return &Router{reg: reg, sup: sup, prober: prober, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/tunnels", r.handleList)
	group.POST("/tunnels", r.handleAdd)
	group.DELETE("/tunnels/:name", r.handleRemove)
	group.POST("/tunnels/:name/start", r.handleStart)
	group.POST("/tunnels/:name/stop", r.handleStop)
	group.POST("/tunnels/:name/test", r.handleTest)
	group.GET("/status", r.handleStatus)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, reg *registry.Registry, sup *supervisor.Supervisor, prober *probe.Prober) *http.Server {
	r := NewRouter(reg, sup, prober, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type tunnelResp struct {
	tunnel.Tunnel
	Status any `json:"status"`
}

func writeErr(c *gin.Context, code int, err error) {
	resp := errorResp{Error: err.Error()}
	if k, ok := tunnel.KindOf(err); ok {
		resp.Kind = k.String()
	}
	c.JSON(code, resp)
}

func errCode(err error) int {
	if tunnel.IsKind(err, tunnel.KindRegistryNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func (r *Router) handleList(c *gin.Context) {
	ts := r.reg.List()
	out := make([]tunnelResp, 0, len(ts))
	for _, t := range ts {
		out = append(out, tunnelResp{Tunnel: t, Status: r.sup.Status(t.Name)})
	}
	c.JSON(http.StatusOK, out)
}

func (r *Router) handleAdd(c *gin.Context) {
	var t tunnel.Tunnel
	if err := c.ShouldBindJSON(&t); err != nil {
		writeErr(c, http.StatusBadRequest, errors.New("invalid JSON: "+err.Error()))
		return
	}
	added, err := r.reg.Add(t)
	if err != nil {
		writeErr(c, http.StatusBadRequest, err)
		return
	}
	if err := r.reg.Save(); err != nil {
		// Roll the in-memory add back so memory and store stay aligned.
		_ = r.reg.Remove(added.Name)
		writeErr(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, added)
}

// handleRemove stops any active handle first: the registry's contract
// requires removal to never leave an orphaned subprocess behind.
func (r *Router) handleRemove(c *gin.Context) {
	name := c.Param("name")
	if r.sup.IsActive(name) {
		if err := r.sup.Stop(name); err != nil {
			writeErr(c, http.StatusInternalServerError, err)
			return
		}
	}
	if err := r.reg.Remove(name); err != nil {
		writeErr(c, errCode(err), err)
		return
	}
	if err := r.reg.Save(); err != nil {
		writeErr(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStart(c *gin.Context) {
	t, err := r.reg.Get(c.Param("name"))
	if err != nil {
		writeErr(c, errCode(err), err)
		return
	}
	if err := r.sup.Start(t); err != nil {
		writeErr(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.sup.Stop(c.Param("name")); err != nil {
		writeErr(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleTest(c *gin.Context) {
	t, err := r.reg.Get(c.Param("name"))
	if err != nil {
		writeErr(c, errCode(err), err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	msg, err := r.prober.Test(ctx, t)
	if err != nil {
		writeErr(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.sup.Statuses())
}
