// Package telemetry provides OpenTelemetry initialization and semantic
// conventions for ingest observability.
package telemetry

import (
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for ingest-specific telemetry.
const (
	// AttrStage labels metrics with the pipeline stage that produced them.
	AttrStage = attribute.Key("stage")
	// AttrStatus communicates the terminal state of a run (COMPLETED, FAILED, STOPPED).
	AttrStatus = attribute.Key("status")
	// AttrResult records the outcome of an infrastructure operation.
	AttrResult = attribute.Key("result")
	// AttrEnvironment specifies the deployment environment for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrJob identifies the batch job emitting run metrics.
	AttrJob = attribute.Key("job")
)

var (
	environmentMu sync.RWMutex
	environment   = "dev"
)

// SetEnvironment records the deployment environment for metric labels.
func SetEnvironment(env string) {
	trimmed := strings.ToLower(strings.TrimSpace(env))
	if trimmed == "" {
		return
	}
	environmentMu.Lock()
	environment = trimmed
	environmentMu.Unlock()
}

// Environment returns the environment name recorded at startup.
func Environment() string {
	environmentMu.RLock()
	defer environmentMu.RUnlock()
	return environment
}
