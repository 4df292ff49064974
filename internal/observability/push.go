package observability

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/push"
)

// Push sends the run metrics to a Prometheus Pushgateway under job "gridetl".
func Push(ctx context.Context, url, runID string, m *Metrics) error {
	g := m.Gatherer()
	if g == nil {
		return errors.New("metrics have no registry to push")
	}
	err := push.New(url, "gridetl").
		Gatherer(g).
		Grouping("run_id", runID).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
