package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kiranshivaraju/opsloop/internal/toolgateway"
	"golang.org/x/sync/errgroup"
)

const (
	QueryCPUUsage     = "app_cpu_usage_percent"
	QueryMemoryUsage  = "app_memory_usage_bytes"
	QueryCPUSpikes    = "app_cpu_spike_total"
	QueryMemorySpikes = "app_memory_spike_total"
)

type queryResult struct {
	Result []struct {
		Metric map[string]string `json:"metric"`
		Value  []any             `json:"value"`
	} `json:"result"`
}

type listPodsResult struct {
	Pods []Pod `json:"pods"`
}

// Observe queries the metrics and inventory tools. Any tool failure aborts
// the observation; the secondary status source never does.
func (p *Pipeline) Observe(ctx context.Context) (Observation, error) {
	logger := p.logger.With("component", "monitor")
	logger.Info("collecting metrics", "namespace", p.cfg.Namespace)

	var obs Observation
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		obs.CPU, err = p.query(gctx, QueryCPUUsage)
		return err
	})
	g.Go(func() (err error) {
		obs.Memory, err = p.query(gctx, QueryMemoryUsage)
		return err
	})
	g.Go(func() (err error) {
		obs.CPUSpikes, err = p.query(gctx, QueryCPUSpikes)
		return err
	})
	g.Go(func() (err error) {
		obs.MemorySpikes, err = p.query(gctx, QueryMemorySpikes)
		return err
	})
	g.Go(func() error {
		res, err := p.tools.Invoke(gctx, toolgateway.ServiceKubernetes, "list_pods", map[string]any{
			"namespace": p.cfg.Namespace,
		})
		if err != nil {
			return err
		}
		var pods listPodsResult
		if err := res.Decode(&pods); err != nil {
			return fmt.Errorf("list_pods: %w", err)
		}
		obs.Pods = pods.Pods
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("monitoring failed", "error", err)
		return Observation{}, err
	}

	if p.status != nil {
		p.overrideMemory(ctx, &obs)
	}

	obs.ObservedAt = p.now()
	logger.Info("metrics collected",
		"cpu_samples", len(obs.CPU),
		"memory_samples", len(obs.Memory),
		"pods", len(obs.Pods),
	)
	return obs, nil
}

// overrideMemory replaces the memory series with the status source's reading
// when it reports one. Failures fall back to the metrics tool.
func (p *Pipeline) overrideMemory(ctx context.Context, obs *Observation) {
	usage, err := p.status.MemoryUsage(ctx)
	if err != nil {
		p.logger.Warn("status source unavailable, using metrics tool for memory",
			"component", "monitor", "error", err)
		return
	}
	if usage <= 0 {
		return
	}
	obs.Memory = []Sample{{
		Instance: p.cfg.MemoryInstance,
		Labels: map[string]string{
			"__name__": QueryMemoryUsage,
			"instance": p.cfg.MemoryInstance,
		},
		Value: usage,
	}}
}

func (p *Pipeline) query(ctx context.Context, query string) ([]Sample, error) {
	res, err := p.tools.Invoke(ctx, toolgateway.ServicePrometheus, "query", map[string]any{
		"query": query,
	})
	if err != nil {
		return nil, err
	}

	var qr queryResult
	if err := res.Decode(&qr); err != nil {
		return nil, fmt.Errorf("query %s: %w", query, err)
	}

	samples := make([]Sample, 0, len(qr.Result))
	for _, item := range qr.Result {
		if len(item.Value) < 2 {
			continue
		}
		samples = append(samples, Sample{
			Instance: item.Metric["instance"],
			Labels:   item.Metric,
			Value:    sampleValue(item.Value[1]),
		})
	}
	return samples, nil
}

// sampleValue parses the value half of a [timestamp, "value"] pair.
// Unparsable values read as zero.
func sampleValue(v any) float64 {
	switch val := v.(type) {
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0
		}
		return f
	case float64:
		return val
	case json.Number:
		f, _ := val.Float64()
		return f
	default:
		return 0
	}
}
