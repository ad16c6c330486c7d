// Package slurmconfig computes a per-job resource ceiling and rejects
// any request that exceeds it in any dimension.
package slurmconfig

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cybergis/compute-supervisor/internal/types"
)

// defaultCeiling is the hard-coded fallback ceiling applied regardless
// of cluster configuration.
var defaultCeiling = types.SlurmLimits{
	Nodes:        50,
	Tasks:        50,
	CPUsPerTask:  50,
	MemoryPerCPU: "10g",
	MemoryTotal:  "50g",
	GPUs:         20,
	Walltime:     "10:00:00",
}

// Ceiling computes the element-wise minimum, under unit-aware
// comparison, of a cluster's slurm_input_rules, its slurm_global_cap,
// and the hard-coded default.
func Ceiling(inputRules, globalCap types.SlurmLimits) (types.SlurmLimits, error) {
	c := defaultCeiling
	for _, limits := range []types.SlurmLimits{inputRules, globalCap} {
		merged, err := minLimits(c, limits)
		if err != nil {
			return types.SlurmLimits{}, err
		}
		c = merged
	}
	return c, nil
}

// FromParams converts a job's opaque slurm parameter map into a
// SlurmLimits, using the same field names as a cluster's
// slurm_input_rules/slurm_global_cap entries (nodes, tasks,
// cpus_per_task, memory_per_cpu, memory_total, gpus, walltime). A
// missing key leaves the corresponding field unset.
func FromParams(params map[string]string) (types.SlurmLimits, error) {
	var limits types.SlurmLimits
	var err error
	if v, ok := params["nodes"]; ok {
		if limits.Nodes, err = strconv.Atoi(v); err != nil {
			return types.SlurmLimits{}, fmt.Errorf("slurmconfig: nodes: %w", err)
		}
	}
	if v, ok := params["tasks"]; ok {
		if limits.Tasks, err = strconv.Atoi(v); err != nil {
			return types.SlurmLimits{}, fmt.Errorf("slurmconfig: tasks: %w", err)
		}
	}
	if v, ok := params["cpus_per_task"]; ok {
		if limits.CPUsPerTask, err = strconv.Atoi(v); err != nil {
			return types.SlurmLimits{}, fmt.Errorf("slurmconfig: cpus_per_task: %w", err)
		}
	}
	if v, ok := params["gpus"]; ok {
		if limits.GPUs, err = strconv.Atoi(v); err != nil {
			return types.SlurmLimits{}, fmt.Errorf("slurmconfig: gpus: %w", err)
		}
	}
	limits.MemoryPerCPU = params["memory_per_cpu"]
	limits.MemoryTotal = params["memory_total"]
	limits.Walltime = params["walltime"]
	return limits, nil
}

// Validate rejects request if it exceeds ceiling in any dimension.
// Zero fields in ceiling are treated as unset and never trigger
// rejection.
func Validate(request, ceiling types.SlurmLimits) error {
	if err := validateInt("nodes", request.Nodes, ceiling.Nodes); err != nil {
		return err
	}
	if err := validateInt("tasks", request.Tasks, ceiling.Tasks); err != nil {
		return err
	}
	if err := validateInt("cpus_per_task", request.CPUsPerTask, ceiling.CPUsPerTask); err != nil {
		return err
	}
	if err := validateInt("gpus", request.GPUs, ceiling.GPUs); err != nil {
		return err
	}
	if err := validateStorage("memory_per_cpu", request.MemoryPerCPU, ceiling.MemoryPerCPU); err != nil {
		return err
	}
	if err := validateStorage("memory_total", request.MemoryTotal, ceiling.MemoryTotal); err != nil {
		return err
	}
	if err := validateWalltime(request.Walltime, ceiling.Walltime); err != nil {
		return err
	}
	return nil
}

func validateInt(field string, requested, ceiling int) error {
	if ceiling == 0 {
		return nil
	}
	if requested > ceiling {
		return fmt.Errorf("slurmconfig: %s %d exceeds ceiling %d", field, requested, ceiling)
	}
	return nil
}

func validateStorage(field, requested, ceiling string) error {
	if ceiling == "" || requested == "" {
		return nil
	}
	req, err := parseStorage(requested)
	if err != nil {
		return fmt.Errorf("slurmconfig: %s: %w", field, err)
	}
	ceilingBytes, err := parseStorage(ceiling)
	if err != nil {
		return fmt.Errorf("slurmconfig: %s ceiling: %w", field, err)
	}
	if req > ceilingBytes {
		return fmt.Errorf("slurmconfig: %s %s exceeds ceiling %s", field, requested, ceiling)
	}
	return nil
}

func validateWalltime(requested, ceiling string) error {
	if ceiling == "" || requested == "" {
		return nil
	}
	req, err := parseWalltime(requested)
	if err != nil {
		return fmt.Errorf("slurmconfig: walltime: %w", err)
	}
	ceilingSeconds, err := parseWalltime(ceiling)
	if err != nil {
		return fmt.Errorf("slurmconfig: walltime ceiling: %w", err)
	}
	if req > ceilingSeconds {
		return fmt.Errorf("slurmconfig: walltime %s exceeds ceiling %s", requested, ceiling)
	}
	return nil
}

// minLimits returns the element-wise minimum of a and b, treating a
// zero/empty field on either side as "no opinion" (the other side wins).
func minLimits(a, b types.SlurmLimits) (types.SlurmLimits, error) {
	out := a
	out.Nodes = minInt(a.Nodes, b.Nodes)
	out.Tasks = minInt(a.Tasks, b.Tasks)
	out.CPUsPerTask = minInt(a.CPUsPerTask, b.CPUsPerTask)
	out.GPUs = minInt(a.GPUs, b.GPUs)

	mem, err := minStorage(a.MemoryPerCPU, b.MemoryPerCPU)
	if err != nil {
		return out, err
	}
	out.MemoryPerCPU = mem

	total, err := minStorage(a.MemoryTotal, b.MemoryTotal)
	if err != nil {
		return out, err
	}
	out.MemoryTotal = total

	wall, err := minWalltime(a.Walltime, b.Walltime)
	if err != nil {
		return out, err
	}
	out.Walltime = wall

	return out, nil
}

func minInt(a, b int) int {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func minStorage(a, b string) (string, error) {
	if a == "" {
		return b, nil
	}
	if b == "" {
		return a, nil
	}
	av, err := parseStorage(a)
	if err != nil {
		return "", err
	}
	bv, err := parseStorage(b)
	if err != nil {
		return "", err
	}
	if av < bv {
		return a, nil
	}
	return b, nil
}

func minWalltime(a, b string) (string, error) {
	if a == "" {
		return b, nil
	}
	if b == "" {
		return a, nil
	}
	av, err := parseWalltime(a)
	if err != nil {
		return "", err
	}
	bv, err := parseWalltime(b)
	if err != nil {
		return "", err
	}
	if av < bv {
		return a, nil
	}
	return b, nil
}

var storageUnits = map[byte]int64{
	'k': 1 << 10,
	'm': 1 << 20,
	'g': 1 << 30,
	't': 1 << 40,
	'p': 1 << 50,
}

// parseStorage parses a k/m/g/t/p-suffixed storage size into bytes,
// case-insensitive.
func parseStorage(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty storage value")
	}
	lower := strings.ToLower(s)
	unit, hasUnit := storageUnits[lower[len(lower)-1]]
	numPart := lower
	if hasUnit {
		numPart = lower[:len(lower)-1]
	} else {
		unit = 1
	}
	value, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid storage value %q: %w", s, err)
	}
	return int64(value * float64(unit)), nil
}

// parseWalltime parses D-HH:MM:SS, HH:MM:SS, MM:SS, or MM into seconds.
func parseWalltime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty walltime value")
	}

	var days int64
	rest := s
	if idx := strings.Index(s, "-"); idx >= 0 {
		d, err := strconv.ParseInt(s[:idx], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid walltime days in %q: %w", s, err)
		}
		days = d
		rest = s[idx+1:]
	}

	parts := strings.Split(rest, ":")
	var hours, minutes, seconds int64
	var err error
	switch len(parts) {
	case 1:
		minutes, err = strconv.ParseInt(parts[0], 10, 64)
	case 2:
		minutes, err = strconv.ParseInt(parts[0], 10, 64)
		if err == nil {
			seconds, err = strconv.ParseInt(parts[1], 10, 64)
		}
	case 3:
		hours, err = strconv.ParseInt(parts[0], 10, 64)
		if err == nil {
			minutes, err = strconv.ParseInt(parts[1], 10, 64)
		}
		if err == nil {
			seconds, err = strconv.ParseInt(parts[2], 10, 64)
		}
	default:
		return 0, fmt.Errorf("invalid walltime format %q", s)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid walltime %q: %w", s, err)
	}

	return days*86400 + hours*3600 + minutes*60 + seconds, nil
}
