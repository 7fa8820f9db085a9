package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// 指标以 Prometheus 文本格式手工渲染，避免为少量指标引入完整的
// client 库。counterVec 与 histogramVec 覆盖了本项目需要的两种
// 指标形态。

type renderer interface {
	render(b *strings.Builder)
}

var (
	registryMu sync.Mutex
	registry   []renderer
)

func register(r renderer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, r)
}

type counterEntry struct {
	labels []string
	value  uint64
}

// counterVec 是带固定标签集的累加计数器。
type counterVec struct {
	name       string
	help       string
	labelNames []string

	mu     sync.Mutex
	series map[string]*counterEntry
}

func newCounterVec(name, help string, labelNames ...string) *counterVec {
	v := &counterVec{
		name:       name,
		help:       help,
		labelNames: labelNames,
		series:     make(map[string]*counterEntry),
	}
	register(v)
	return v
}

// Add 将 delta 累加到指定标签组合上。标签数量必须与声明一致。
func (v *counterVec) Add(delta uint64, labelValues ...string) {
	if len(labelValues) != len(v.labelNames) {
		return
	}
	key := strings.Join(labelValues, "\x00")
	v.mu.Lock()
	defer v.mu.Unlock()
	entry := v.series[key]
	if entry == nil {
		entry = &counterEntry{labels: append([]string(nil), labelValues...)}
		v.series[key] = entry
	}
	entry.value += delta
}

func (v *counterVec) Inc(labelValues ...string) { v.Add(1, labelValues...) }

func (v *counterVec) render(b *strings.Builder) {
	v.mu.Lock()
	entries := make([]*counterEntry, 0, len(v.series))
	for _, entry := range v.series {
		entries = append(entries, entry)
	}
	v.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return strings.Join(entries[i].labels, "\x00") < strings.Join(entries[j].labels, "\x00")
	})

	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", v.name, v.help, v.name)
	for _, entry := range entries {
		fmt.Fprintf(b, "%s%s %d\n", v.name, formatLabels(v.labelNames, entry.labels), entry.value)
	}
}

var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

type histogram struct {
	labels []string
	counts []uint64
	sum    float64
	count  uint64
}

// histogramVec 是带固定标签集的累计直方图，桶边界共享 defaultBuckets。
type histogramVec struct {
	name       string
	help       string
	labelNames []string

	mu     sync.Mutex
	series map[string]*histogram
}

func newHistogramVec(name, help string, labelNames ...string) *histogramVec {
	v := &histogramVec{
		name:       name,
		help:       help,
		labelNames: labelNames,
		series:     make(map[string]*histogram),
	}
	register(v)
	return v
}

// Observe 将观测值记入对应标签组合的直方图。
func (v *histogramVec) Observe(value float64, labelValues ...string) {
	if len(labelValues) != len(v.labelNames) {
		return
	}
	key := strings.Join(labelValues, "\x00")
	v.mu.Lock()
	defer v.mu.Unlock()
	hist := v.series[key]
	if hist == nil {
		hist = &histogram{
			labels: append([]string(nil), labelValues...),
			counts: make([]uint64, len(defaultBuckets)),
		}
		v.series[key] = hist
	}
	hist.count++
	hist.sum += value
	for idx, bound := range defaultBuckets {
		if value <= bound {
			// 桶是累计语义，落入某桶即落入所有更大的桶。
			for i := idx; i < len(hist.counts); i++ {
				hist.counts[i]++
			}
			break
		}
	}
}

func (v *histogramVec) render(b *strings.Builder) {
	v.mu.Lock()
	series := make([]*histogram, 0, len(v.series))
	for _, hist := range v.series {
		snapshot := &histogram{
			labels: hist.labels,
			counts: append([]uint64(nil), hist.counts...),
			sum:    hist.sum,
			count:  hist.count,
		}
		series = append(series, snapshot)
	}
	v.mu.Unlock()

	sort.Slice(series, func(i, j int) bool {
		return strings.Join(series[i].labels, "\x00") < strings.Join(series[j].labels, "\x00")
	})

	bucketNames := make([]string, 0, len(v.labelNames)+1)
	bucketNames = append(bucketNames, v.labelNames...)
	bucketNames = append(bucketNames, "le")

	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s histogram\n", v.name, v.help, v.name)
	for _, hist := range series {
		bucketValues := make([]string, 0, len(hist.labels)+1)
		bucketValues = append(bucketValues, hist.labels...)
		for idx, bound := range defaultBuckets {
			fmt.Fprintf(b, "%s_bucket%s %d\n",
				v.name, formatLabels(bucketNames, append(bucketValues, formatFloat(bound))), hist.counts[idx])
		}
		fmt.Fprintf(b, "%s_bucket%s %d\n",
			v.name, formatLabels(bucketNames, append(bucketValues, "+Inf")), hist.count)
		fmt.Fprintf(b, "%s_sum%s %s\n", v.name, formatLabels(v.labelNames, hist.labels), formatFloat(hist.sum))
		fmt.Fprintf(b, "%s_count%s %d\n", v.name, formatLabels(v.labelNames, hist.labels), hist.count)
	}
}

// formatLabels 渲染 {k="v",...}。%q 的转义规则与 Prometheus 对
// 标签值的要求一致。
func formatLabels(names, values []string) string {
	if len(names) == 0 {
		return ""
	}
	parts := make([]string, 0, len(names))
	for i, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%q", name, values[i]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
