package ocp

import (
	"fmt"
	"strings"
	"time"

	"ocpdeployer/pkg/oc"
)

// ClusterStatus returns a human readable snapshot of the cluster, used
// in the final output after a deployment and by the status inspection
// command.
func ClusterStatus(ocr oc.Runner) string {
	var b strings.Builder

	sections := []struct {
		title string
		args  []string
	}{
		{"Cluster version", []string{"get", "clusterversion"}},
		{"Nodes", []string{"get", "nodes", "-o", "wide"}},
		{"Unhealthy operators", []string{"get", "clusteroperators", "--no-headers"}},
	}
	for _, s := range sections {
		res := ocr.Oc(time.Minute, s.args...)
		if !res.Ok() {
			fmt.Fprintf(&b, "%s: unavailable (%s)\n", s.title, strings.TrimSpace(res.Stderr))
			continue
		}
		out := strings.TrimSpace(res.Stdout)
		if s.title == "Unhealthy operators" {
			out = filterUnhealthyOperators(out)
			if out == "" {
				out = "none"
			}
		}
		fmt.Fprintf(&b, "%s:\n%s\n\n", s.title, out)
	}
	return strings.TrimRight(b.String(), "\n")
}

func filterUnhealthyOperators(table string) string {
	var unhealthy []string
	for _, line := range strings.Split(table, "\n") {
		fields := strings.Fields(line)
		// NAME VERSION AVAILABLE PROGRESSING DEGRADED SINCE [MESSAGE...]
		if len(fields) < 5 {
			continue
		}
		if fields[2] != "True" || fields[3] == "True" || fields[4] == "True" {
			unhealthy = append(unhealthy, line)
		}
	}
	return strings.Join(unhealthy, "\n")
}
