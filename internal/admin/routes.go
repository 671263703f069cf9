package admin

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/edgewire/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "0.1.0"

type topicView struct {
	Topic       string   `json:"topic"`
	Subscribers []uint32 `json:"subscribers"`
}

func (s *Server) registerRoutes() {
	r := s.router
	var guard auth.Validator
	if s.cfg.Token != "" {
		guard = auth.StaticToken(s.cfg.Token)
	}
	mutating := r.Group("/", auth.Require(guard))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(s.appeared).String(),
			"instance": s.backend.InstanceID(),
			"version":  version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		addrs := s.backend.Addrs()
		status := http.StatusOK
		if len(addrs) == 0 {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":     len(addrs) > 0,
			"listening": addrs,
			"instance":  s.backend.InstanceID(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/channels", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"channels": s.backend.Channels()})
	})

	mutating.DELETE("/channels/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil || id == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
			return
		}
		if !s.backend.Disconnect(uint32(id)) {
			c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"closing": id})
	})

	r.GET("/topics", func(c *gin.Context) {
		counts := s.backend.Topics()
		out := make([]topicView, 0, len(counts))
		for topic := range counts {
			out = append(out, topicView{Topic: topic, Subscribers: s.backend.Subscribers(topic)})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
		c.JSON(http.StatusOK, gin.H{"topics": out})
	})

	r.GET("/topics/:topic", func(c *gin.Context) {
		topic := c.Param("topic")
		c.JSON(http.StatusOK, topicView{Topic: topic, Subscribers: s.backend.Subscribers(topic)})
	})

	mutating.POST("/topics/:topic/publish", func(c *gin.Context) {
		topic := strings.TrimSpace(c.Param("topic"))
		if topic == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty topic"})
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxPublishBytes))
		if err != nil {
			status := http.StatusBadRequest
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		n := s.backend.Publish(topic, body)
		c.JSON(http.StatusOK, gin.H{
			"topic":      topic,
			"bytes":      len(body),
			"deliveries": n,
		})
	})
}
