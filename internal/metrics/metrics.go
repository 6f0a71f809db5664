// Package metrics gathers the OS-level facts the resource checks need:
// free disk, free memory, one-minute load average and uptime.
//
// Each fact prefers a system utility run through the whitelisted shell
// runner and falls back to a syscall when the utility is unavailable,
// refused by the whitelist, or produces output that does not parse.
// [Collector.Collect] never fails; a fact with no usable source is zero.
package metrics

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/paulyops/sysdoctor/internal/fsys"
	"github.com/paulyops/sysdoctor/internal/shell"
)

// Commands the collector asks the shell runner for. Whitelist them to
// prefer utility output over the syscall fallbacks.
const (
	DiskCommand   = "df -k"
	UptimeCommand = "uptime"
)

const meminfoPath = "/proc/meminfo"

// errUnsupported is returned by the syscall fallbacks on platforms that
// lack them.
var errUnsupported = errors.New("not supported on this platform")

// System is a point-in-time snapshot of host resources.
type System struct {
	DiskFreePercent   int     `json:"diskFreePercent"`
	MemoryFreePercent int     `json:"memoryFreePercent"`
	CPULoad           float64 `json:"cpuLoad"`
	// Uptime in seconds.
	Uptime int64 `json:"uptime"`
}

// Runner is the subset of [shell.Runner] the collector uses.
type Runner interface {
	RunSafe(ctx context.Context, command, description string) shell.Result
}

// sysSnapshot is what the sysinfo fallback reports.
type sysSnapshot struct {
	MemFreePercent int
	Load1          float64
	Uptime         int64
}

// Collector gathers [System] snapshots for one working directory.
type Collector struct {
	runner  Runner
	fs      fsys.FS
	dir     string
	logger  *slog.Logger
	statfs  func(dir string) (int, error)
	sysinfo func() (sysSnapshot, error)
}

// Option configures a [Collector].
type Option func(*Collector)

// WithLogger sets the logger used to report fallbacks.
func WithLogger(l *slog.Logger) Option { return func(c *Collector) { c.logger = l } }

// WithFS sets the filesystem /proc/meminfo is read from.
func WithFS(fs fsys.FS) Option { return func(c *Collector) { c.fs = fs } }

// NewCollector returns a collector that measures disk usage of dir.
func NewCollector(runner Runner, dir string, opts ...Option) *Collector {
	c := &Collector{
		runner:  runner,
		fs:      fsys.OSFS{},
		dir:     dir,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		statfs:  statfsFreePercent,
		sysinfo: readSysinfo,
	}
	for _, o := range opts {
		o(c)
	}
	if c.dir == "" {
		c.dir = "."
	}
	return c
}

// Collect measures all four facts concurrently. A fresh snapshot is taken on
// every call.
func (c *Collector) Collect(ctx context.Context) System {
	var (
		s  System
		wg sync.WaitGroup
	)
	wg.Add(4)
	go func() { defer wg.Done(); s.DiskFreePercent = c.disk(ctx) }()
	go func() { defer wg.Done(); s.MemoryFreePercent = c.memory() }()
	go func() { defer wg.Done(); s.CPULoad = c.load(ctx) }()
	go func() { defer wg.Done(); s.Uptime = c.uptime(ctx) }()
	wg.Wait()
	return s
}

func (c *Collector) disk(ctx context.Context) int {
	res := c.runner.RunSafe(ctx, DiskCommand+" "+c.dir, "Measure free disk space")
	if res.Success {
		if pct, ok := parseDF(res.Output); ok {
			return pct
		}
	}
	pct, err := c.statfs(c.dir)
	if err != nil {
		c.logger.Warn("disk metrics unavailable", "dir", c.dir, "error", err)
		return 0
	}
	return pct
}

func (c *Collector) memory() int {
	if data, err := c.fs.ReadFile(meminfoPath); err == nil {
		if pct, ok := parseMeminfo(data); ok {
			return pct
		}
	}
	snap, err := c.sysinfo()
	if err != nil {
		c.logger.Warn("memory metrics unavailable", "error", err)
		return 0
	}
	return snap.MemFreePercent
}

func (c *Collector) load(ctx context.Context) float64 {
	res := c.runner.RunSafe(ctx, UptimeCommand, "Read load average")
	if res.Success {
		if load, ok := parseLoad(res.Output); ok {
			return load
		}
	}
	snap, err := c.sysinfo()
	if err != nil {
		c.logger.Warn("load metrics unavailable", "error", err)
		return 0
	}
	return snap.Load1
}

func (c *Collector) uptime(ctx context.Context) int64 {
	res := c.runner.RunSafe(ctx, UptimeCommand, "Read uptime")
	if res.Success {
		if secs, ok := parseUptime(res.Output); ok {
			return secs
		}
	}
	snap, err := c.sysinfo()
	if err != nil {
		c.logger.Warn("uptime unavailable", "error", err)
		return 0
	}
	return snap.Uptime
}

// percent returns part/total as a rounded percentage.
func percent(part, total float64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(part / total * 100))
}

// parseDF reads the first data line of `df -k` output: the second field is
// the total and the fourth the available kilobytes.
func parseDF(out string) (int, bool) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return 0, false
	}
	// Long device names make df wrap the data onto a second line.
	fields := strings.Fields(strings.Join(lines[1:], " "))
	if len(fields) < 4 {
		return 0, false
	}
	total, err1 := strconv.ParseFloat(fields[1], 64)
	avail, err2 := strconv.ParseFloat(fields[3], 64)
	if err1 != nil || err2 != nil || total <= 0 {
		return 0, false
	}
	return percent(avail, total), true
}

// Linux prints "load average:", BSD and macOS print "load averages:".
var loadRe = regexp.MustCompile(`load averages?: ([\d.]+)`)

// parseLoad extracts the one-minute load average from uptime output.
func parseLoad(out string) (float64, bool) {
	m := loadRe.FindStringSubmatch(out)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(m[1], "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var (
	upRe    = regexp.MustCompile(`up\s+(.*?),\s+\d+\s+users?`)
	upAltRe = regexp.MustCompile(`up\s+(.*?),\s+load averages?`)
	daysRe  = regexp.MustCompile(`(\d+)\s+days?`)
	hmRe    = regexp.MustCompile(`(\d+):(\d+)`)
	minRe   = regexp.MustCompile(`(\d+)\s+mins?`)
	hrRe    = regexp.MustCompile(`(\d+)\s+hrs?`)
	secRe   = regexp.MustCompile(`(\d+)\s+secs?`)
)

// parseUptime converts the "up ..." part of uptime output into seconds.
// It understands "3 days, 4:05", "4:05", "10 min", "2 hrs" and
// "1 day, 12 secs" shapes.
func parseUptime(out string) (int64, bool) {
	m := upRe.FindStringSubmatch(out)
	if m == nil {
		m = upAltRe.FindStringSubmatch(out)
	}
	if m == nil {
		return 0, false
	}
	span := m[1]
	var secs int64
	matched := false
	atoi := func(s string) int64 {
		n, _ := strconv.ParseInt(s, 10, 64)
		return n
	}
	if d := daysRe.FindStringSubmatch(span); d != nil {
		secs += atoi(d[1]) * 86400
		matched = true
	}
	if hm := hmRe.FindStringSubmatch(span); hm != nil {
		secs += atoi(hm[1])*3600 + atoi(hm[2])*60
		matched = true
	}
	if mm := minRe.FindStringSubmatch(span); mm != nil {
		secs += atoi(mm[1]) * 60
		matched = true
	}
	if h := hrRe.FindStringSubmatch(span); h != nil {
		secs += atoi(h[1]) * 3600
		matched = true
	}
	if s := secRe.FindStringSubmatch(span); s != nil {
		secs += atoi(s[1])
		matched = true
	}
	return secs, matched
}

// parseMeminfo returns MemAvailable (or MemFree when the kernel predates
// MemAvailable) as a percentage of MemTotal.
func parseMeminfo(data []byte) (int, bool) {
	vals := map[string]float64{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		vals[key] = v
	}
	total := vals["MemTotal"]
	if total <= 0 {
		return 0, false
	}
	free, ok := vals["MemAvailable"]
	if !ok {
		free, ok = vals["MemFree"]
	}
	if !ok {
		return 0, false
	}
	return percent(free, total), true
}
