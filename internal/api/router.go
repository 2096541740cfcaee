// Package api exposes the read-side HTTP surface: snapshot queries over the
// in-memory series store and a small recent-records cache for dashboards.
package api

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"candleflow/internal/model"
	"candleflow/internal/timeframe"
)

const maxQueryLimit = 1500

// Deps are the collaborators the router reads from.
type Deps struct {
	Snapshots model.SnapshotQuerier
	Live      *LiveCache
	Healthy   func() bool // nil means always healthy
}

// NewRouter builds the gin engine with all read endpoints registered.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		if deps.Healthy != nil && !deps.Healthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/snapshot", func(c *gin.Context) {
			market := c.Query("market")
			tf := c.DefaultQuery("tf", timeframe.M1)
			if market == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "market is required"})
				return
			}
			if _, ok := timeframe.DurationMs(tf); !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tf: " + tf})
				return
			}

			limit := parseIntQuery(c, "limit", 500)
			if limit > maxQueryLimit {
				limit = maxQueryLimit
			}
			from := parseInt64Query(c, "from", 0)
			to := parseInt64Query(c, "to", 0)

			records := deps.Snapshots.Query(market, tf, limit, from, to)
			c.JSON(http.StatusOK, gin.H{
				"market":  market,
				"tf":      tf,
				"count":   len(records),
				"records": records,
			})
		})

		v1.GET("/recent", func(c *gin.Context) {
			market := c.Query("market")
			tf := c.DefaultQuery("tf", timeframe.M1)
			if market == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "market is required"})
				return
			}
			if deps.Live == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "live cache disabled"})
				return
			}

			limit := parseIntQuery(c, "limit", 60)
			records := deps.Live.Recent(market, tf, limit)
			c.JSON(http.StatusOK, gin.H{
				"market":  market,
				"tf":      tf,
				"count":   len(records),
				"records": records,
			})
		})

		v1.GET("/timeframes", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"timeframes": timeframe.All})
		})
	}

	return r
}

// Serve runs the router on addr. Blocks until the server exits.
func Serve(addr string, r *gin.Engine) error {
	log.Printf("[api] listening on %s", addr)
	return r.Run(addr)
}

func parseIntQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func parseInt64Query(c *gin.Context, name string, def int64) int64 {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}
