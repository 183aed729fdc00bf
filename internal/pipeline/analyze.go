package pipeline

import (
	"strings"

	"github.com/kiranshivaraju/opsloop/internal/policy"
	"github.com/kiranshivaraju/opsloop/pkg/models"
)

const defaultNamespace = "default"

// Thresholds are the per-kind limits above which a sample becomes an issue.
type Thresholds struct {
	CPU    float64
	Memory float64
}

// EntityResolver maps a sample's instance label to a workload.
type EntityResolver func(instance string, pods []Pod) models.EntityRef

// SubstringResolver picks the first pod whose name appears in the instance
// label. Without a match the instance itself is used in the default namespace.
func SubstringResolver(instance string, pods []Pod) models.EntityRef {
	for _, pod := range pods {
		if pod.Name != "" && strings.Contains(instance, pod.Name) {
			ns := pod.Namespace
			if ns == "" {
				ns = defaultNamespace
			}
			return models.EntityRef{Namespace: ns, Name: pod.Name}
		}
	}
	if instance == "" {
		instance = "unknown"
	}
	return models.EntityRef{Namespace: defaultNamespace, Name: instance}
}

// Analyze turns an observation into issues. CPU issues come first, then
// memory; sample order is kept within each kind.
func Analyze(obs Observation, t Thresholds, resolve EntityResolver) Analysis {
	if resolve == nil {
		resolve = SubstringResolver
	}

	var issues []models.Issue
	collect := func(kind models.Kind, samples []Sample, threshold float64) {
		for _, s := range samples {
			if s.Value <= threshold {
				continue
			}
			issues = append(issues, models.Issue{
				Kind:      kind,
				Entity:    resolve(s.Instance, obs.Pods),
				Value:     s.Value,
				Threshold: threshold,
				Severity:  policy.Severity(s.Value, threshold),
			})
		}
	}
	collect(models.KindCPU, obs.CPU, t.CPU)
	collect(models.KindMemory, obs.Memory, t.Memory)

	return Analysis{Issues: issues, CapturedAt: obs.ObservedAt}
}
