package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ftahirops/xmem/model"
)

// RenderOptions tunes the status renderers.
type RenderOptions struct {
	Width         int
	LeakThreshold float64
	TriggerFactor float64 // predictions above usage × factor are highlighted
	Now           time.Time
	Selected      string // highlighted app in the apps table
}

func (o RenderOptions) innerW() int { return pageInnerW(o.Width) }

// RenderStatus renders memory, per-app usage with predictions and leak
// trends, and the last pipeline run.
func RenderStatus(st model.EngineStatus, opts RenderOptions) string {
	var sb strings.Builder
	iw := opts.innerW()

	header := titleStyle.Render("XMEM") + "  " + dimStyle.Render(st.Bucket.String())
	if !st.LastCycle.IsZero() {
		header += "  " + dimStyle.Render("cycle "+humanize.RelTime(st.LastCycle, opts.now(), "ago", "from now"))
	}
	if st.SchedulerOn {
		header += "  " + okStyle.Render("● scheduler")
	}
	sb.WriteString(header + "\n")
	if st.LastError != "" {
		sb.WriteString(" " + critStyle.Render("✗ "+truncate(st.LastError, iw)) + "\n")
	}

	sb.WriteString(renderMemory(st.Memory, iw))
	sb.WriteString(renderApps(st, opts, iw))
	if len(st.Leaks) > 0 {
		var lines []string
		for _, v := range st.Leaks {
			lines = append(lines, fmt.Sprintf("%s  trend %s",
				styledPad(valueStyle.Render(truncate(v.AppID, colApp)), colApp),
				critStyle.Render(fmt.Sprintf("%+.3f", v.Trend))))
		}
		sb.WriteString(boxSection("SUSPECTED LEAKS", lines, iw))
	}
	if st.LastRun != nil {
		sb.WriteString(RenderReport(st.LastRun, opts))
	}
	return sb.String()
}

func (o RenderOptions) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

func renderMemory(mem model.SystemMemoryState, iw int) string {
	if mem.TotalBytes <= 0 {
		return boxSection("MEMORY", []string{dimStyle.Render("no reading yet")}, iw)
	}
	freePct := mem.FreeRatio() * 100
	usedPct := 100 - freePct
	bw := iw/2 - 15
	if bw < 5 {
		bw = 5
	}
	line := fmt.Sprintf("Used %s %s  (%s avail / %s total)",
		bar(usedPct, bw), fmtPct(usedPct),
		freeColor(freePct).Render(fmtBytes(mem.AvailableBytes)), fmtBytes(mem.TotalBytes))
	lines := []string{line}
	if mem.LowMemory {
		lines = append(lines, orangeStyle.Render("low-memory condition reported"))
	}
	return boxSection("MEMORY", lines, iw)
}

func renderApps(st model.EngineStatus, opts RenderOptions, iw int) string {
	if len(st.Apps) == 0 {
		return boxSection("APPS", []string{dimStyle.Render("no telemetry")}, iw)
	}
	apps := sortApps(st.Apps)
	trends := make(map[string]float64, len(st.Leaks))
	for _, v := range st.Leaks {
		trends[v.AppID] = v.Trend
	}

	lines := []string{dimStyle.Render(fmt.Sprintf("%-*s %*s %*s %*s %*s",
		colApp, "APP", colBytes, "USAGE", colFG, "FG", colBytes, "PREDICTED", colTrend, "LEAK"))}
	for _, a := range apps {
		pred := dimStyle.Render("—")
		if p, ok := st.Predicted[a.AppID]; ok {
			pred = valueStyle.Render(fmtBytes(p))
			if opts.TriggerFactor > 0 && float64(p) > float64(a.MemoryUsageBytes)*opts.TriggerFactor {
				pred = warnStyle.Render(fmtBytes(p))
			}
		}
		leak := dimStyle.Render("—")
		if t, ok := trends[a.AppID]; ok {
			leak = trendColor(t, opts.LeakThreshold).Render(fmt.Sprintf("%+.3f", t))
		}
		name := styledPad(valueStyle.Render(truncate(a.AppID, colApp)), colApp)
		row := fmt.Sprintf("%s %s %s %s %s", name,
			styledPadLeft(valueStyle.Render(fmtBytes(a.MemoryUsageBytes)), colBytes),
			styledPadLeft(dimStyle.Render(formatDuration(time.Duration(a.ForegroundTimeMs)*time.Millisecond)), colFG),
			styledPadLeft(pred, colBytes),
			styledPadLeft(leak, colTrend))
		if a.AppID == opts.Selected {
			row = selectedStyle.Render(row)
		}
		lines = append(lines, row)
	}
	return boxSection(fmt.Sprintf("APPS (%d)", len(apps)), lines, iw)
}

// RenderReport renders one pipeline run stage by stage.
func RenderReport(rep *model.PipelineReport, opts RenderOptions) string {
	iw := opts.innerW()
	title := fmt.Sprintf("LAST RUN  %s  %s  %s", rep.Trigger, truncate(rep.ID, 8),
		humanize.RelTime(rep.FinishedAt, opts.now(), "ago", "from now"))
	var lines []string
	for _, s := range rep.Stages {
		mark := "·"
		switch {
		case len(s.Errors) > 0:
			mark = "✗"
		case s.Ran:
			mark = "✓"
		}
		detail := s.Skipped
		if s.Ran {
			var parts []string
			if len(s.Targets) > 0 {
				parts = append(parts, strings.Join(s.Targets, ", "))
			}
			if s.CapBytes > 0 {
				parts = append(parts, "cap "+fmtBytes(s.CapBytes))
			}
			detail = strings.Join(parts, "  ")
		}
		if len(s.Errors) > 0 {
			detail = strings.Join(s.Errors, "; ")
		}
		st := stageColor(s.Ran, len(s.Errors))
		lines = append(lines, fmt.Sprintf("%s %s %s",
			st.Render(mark),
			styledPad(st.Render(s.Stage), 18),
			dimStyle.Render(truncate(detail, max(iw-22, 10)))))
	}
	if rep.Cancelled {
		lines = append(lines, warnStyle.Render("cancelled before completion"))
	}
	return boxSection(title, lines, iw)
}

// RenderAnalysis renders the per-app memory distribution and the largest
// consumers.
func RenderAnalysis(a model.MemoryAnalysis, opts RenderOptions) string {
	var sb strings.Builder
	iw := opts.innerW()
	sb.WriteString(renderMemory(a.Memory, iw))

	bw := iw - colApp - colBytes - 12
	if bw < 5 {
		bw = 5
	}
	var lines []string
	for _, c := range a.Largest {
		lines = append(lines, fmt.Sprintf("%s %s %s %s",
			styledPad(valueStyle.Render(truncate(c.AppID, colApp)), colApp),
			styledPadLeft(valueStyle.Render(fmtBytes(c.Bytes)), colBytes),
			bar(c.Pct, bw),
			fmtPct(c.Pct)))
	}
	if len(lines) == 0 {
		lines = append(lines, dimStyle.Render("no telemetry"))
	}
	sb.WriteString(boxSection(fmt.Sprintf("LARGEST CONSUMERS (top %d of %d)", len(a.Largest), len(a.Distribution)), lines, iw))
	return sb.String()
}

// sortApps orders apps by usage, largest first.
func sortApps(in []model.TelemetrySnapshot) []model.TelemetrySnapshot {
	apps := append([]model.TelemetrySnapshot(nil), in...)
	sort.Slice(apps, func(i, j int) bool {
		if apps[i].MemoryUsageBytes != apps[j].MemoryUsageBytes {
			return apps[i].MemoryUsageBytes > apps[j].MemoryUsageBytes
		}
		return apps[i].AppID < apps[j].AppID
	})
	return apps
}
