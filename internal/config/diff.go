package config

import (
	"encoding/json"
	"hash/fnv"
	"reflect"
	"sort"

	logx "asyncqueue/pkg/logx"
)

// TaskChanges lists task names that differ between two job files.
// A task whose definition changed appears in Changed only.
type TaskChanges struct {
	Added   []string
	Removed []string
	Changed []string
}

func (c TaskChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// DiffTasks compares the task lists of two configs by name.
func DiffTasks(oldCfg, newCfg *Config) TaskChanges {
	oldM, newM := taskMap(oldCfg), taskMap(newCfg)
	var out TaskChanges
	for name, n := range newM {
		o, ok := oldM[name]
		switch {
		case !ok:
			out.Added = append(out.Added, name)
		case !reflect.DeepEqual(o, n):
			out.Changed = append(out.Changed, name)
		}
	}
	for name := range oldM {
		if _, ok := newM[name]; !ok {
			out.Removed = append(out.Removed, name)
		}
	}
	sort.Strings(out.Added)
	sort.Strings(out.Removed)
	sort.Strings(out.Changed)
	return out
}

func taskMap(cfg *Config) map[string]TaskConfig {
	if cfg == nil {
		return map[string]TaskConfig{}
	}
	m := make(map[string]TaskConfig, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		m[t.Name] = t
	}
	return m
}

// SummarizeChange returns the changed top-level sections and log fields
// describing them.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs, logx.String("logging.level", newCfg.Logging.Level))
	}
	if oldCfg.Queue != newCfg.Queue {
		changed = append(changed, "queue")
		attrs = append(attrs,
			logx.Int("queue.max", newCfg.Queue.Max),
			logx.Bool("queue.flow_mode", newCfg.Queue.FlowMode),
		)
	}
	if oldCfg.Breaker != newCfg.Breaker {
		changed = append(changed, "breaker")
	}
	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs, logx.String("schedule", newCfg.Schedule))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
	}
	if tc := DiffTasks(oldCfg, newCfg); !tc.Empty() {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.added", len(tc.Added)),
			logx.Int("tasks.removed", len(tc.Removed)),
			logx.Int("tasks.changed", len(tc.Changed)),
		)
	}
	return changed, attrs
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
