package vss

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// statsResponse is the /stats payload: node count comes from the tree,
// subscription and channel counts come from the subscription engine and
// transport respectively. AdminServer assembles it directly from those
// three components rather than through CommandProcessor, since none of
// these figures are part of the VSS wire protocol CommandProcessor
// dispatches (spec.md §4.5's table has no "stats" action).
type statsResponse struct {
	NodeCount         int `json:"nodeCount"`
	SubscriptionCount int `json:"subscriptionCount"`
	ChannelCount      int `json:"channelCount"`
}

// AdminServer is a small ambient HTTP surface separate from the VSS wire
// protocol: liveness/readiness probes and a stats endpoint. Grounded on
// tetherctl/api/api.go's gin-based REST surface in the corpus.
type AdminServer struct {
	server    *http.Server
	tree      *SignalTree
	subs      *SubscriptionEngine
	transport *Transport
	ready     func() bool
}

func NewAdminServer(addr string, tree *SignalTree, subs *SubscriptionEngine, transport *Transport, ready func() bool) *AdminServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	admin := &AdminServer{tree: tree, subs: subs, transport: transport, ready: ready}

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/readyz", func(c *gin.Context) {
		if admin.ready != nil && !admin.ready() {
			c.String(http.StatusServiceUnavailable, "not ready")
			return
		}
		c.String(http.StatusOK, "ready")
	})
	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, statsResponse{
			NodeCount:         admin.tree.StatsSnapshot().NodeCount,
			SubscriptionCount: admin.subs.SubscriptionCount(),
			ChannelCount:      admin.transport.ConnectionCount(),
		})
	})

	admin.server = &http.Server{Addr: addr, Handler: router}
	return admin
}

func (self *AdminServer) ListenAndServe() error {
	err := self.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (self *AdminServer) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return self.server.Shutdown(shutdownCtx)
}
