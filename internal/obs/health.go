package obs

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultReadyTimeout = 2 * time.Second

// DependencyCheck probes one backing service of the message store.
type DependencyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// ReadinessReport is the /readyz body. Dependencies maps each checked service
// to "ok" or its error text; Failing lists the unhealthy ones in check order.
type ReadinessReport struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
	Failing      []string          `json:"failing,omitempty"`
}

// HealthHandlers serves liveness and dependency-aware readiness.
type HealthHandlers struct {
	Checks  []DependencyCheck
	Timeout time.Duration
}

func (h HealthHandlers) Livez(c *gin.Context) {
	c.Status(http.StatusOK)
}

// Check runs every dependency check under one shared deadline.
func (h HealthHandlers) Check(ctx context.Context) ReadinessReport {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report := ReadinessReport{Status: "ready", Dependencies: make(map[string]string, len(h.Checks))}
	for _, dep := range h.Checks {
		if err := dep.Check(ctx); err != nil {
			report.Dependencies[dep.Name] = err.Error()
			report.Failing = append(report.Failing, dep.Name)
			continue
		}
		report.Dependencies[dep.Name] = "ok"
	}
	if len(report.Failing) > 0 {
		report.Status = "not ready"
	}
	return report
}

func (h HealthHandlers) Readyz(c *gin.Context) {
	report := h.Check(c.Request.Context())
	if len(report.Failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, report)
		return
	}
	c.JSON(http.StatusOK, report)
}
