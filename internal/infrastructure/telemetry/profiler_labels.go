package telemetry

import (
	"context"
	"sort"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// Profiling label keys
const (
	LabelComponent = "component"
	LabelOperation = "operation"
	LabelTenantID  = "tenant_id"
	LabelChannel   = "channel"
)

// WithProfilingLabels runs fn with pprof labels attached so CPU samples taken
// inside fn can be filtered in Pyroscope. Empty values are dropped.
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	pairs := sanitizeLabels(labels)
	if len(pairs) == 0 {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}

// ComponentLabels builds the labels of a background engine component.
func ComponentLabels(component, operation string) map[string]string {
	return map[string]string{
		LabelComponent: component,
		LabelOperation: operation,
	}
}

// ChannelLabels builds the labels of work done against one channel.
func ChannelLabels(component, tenantID, channel string) map[string]string {
	return map[string]string{
		LabelComponent: component,
		LabelTenantID:  tenantID,
		LabelChannel:   channel,
	}
}

// sanitizeLabels flattens labels into key/value pairs sorted by sanitized key.
func sanitizeLabels(labels map[string]string) []string {
	clean := make(map[string]string, len(labels))
	for k, v := range labels {
		if k == "" || v == "" {
			continue
		}
		clean[sanitizeLabelKey(k)] = v
	}
	keys := make([]string, 0, len(clean))
	for k := range clean {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, k, clean[k])
	}
	return pairs
}

// sanitizeLabelKey lowercases key and replaces characters Pyroscope rejects.
func sanitizeLabelKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, key)
}
