package effector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/ftahirops/xmem/util"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// DefaultDenylist names processes that are never signalled or capped.
var DefaultDenylist = []string{
	"mysqld", "mariadbd", "postgres", "mongod",
	"redis-server", "journald", "systemd",
	"systemd-journald", "sshd", "kubelet",
	"containerd", "dockerd", "crio", "xmem",
}

const (
	// DefaultCgroupRoot is where the unified cgroup hierarchy is mounted.
	DefaultCgroupRoot = "/sys/fs/cgroup"
	// prioritizedNice is the nice value given to a prioritized app.
	prioritizedNice = -5
)

// SystemConfig locates the kernel interfaces System writes to.
type SystemConfig struct {
	ProcRoot   string
	CgroupRoot string
	Denylist   []string
}

// System applies pipeline actions to a Linux host. It needs root for most
// of them; failures are returned for the pipeline report.
type System struct {
	procRoot   string
	cgroupRoot string
	denylist   map[string]bool
	self       int
	log        *zap.Logger

	// syscalls, replaceable in tests
	kill        func(pid int, sig unix.Signal) error
	setpriority func(which, who, prio int) error
	sync        func()
}

// NewSystem creates a Linux effector.
func NewSystem(cfg SystemConfig, log *zap.Logger) *System {
	if cfg.ProcRoot == "" {
		cfg.ProcRoot = util.DefaultProcRoot
	}
	if cfg.CgroupRoot == "" {
		cfg.CgroupRoot = DetectCgroupRoot(cfg.ProcRoot)
	}
	if cfg.Denylist == nil {
		cfg.Denylist = DefaultDenylist
	}
	if log == nil {
		log = zap.NewNop()
	}
	deny := make(map[string]bool, len(cfg.Denylist))
	for _, name := range cfg.Denylist {
		deny[name] = true
	}
	return &System{
		procRoot:    cfg.ProcRoot,
		cgroupRoot:  cfg.CgroupRoot,
		denylist:    deny,
		self:        os.Getpid(),
		log:         log.Named("effector"),
		kill:        unix.Kill,
		setpriority: unix.Setpriority,
		sync:        unix.Sync,
	}
}

// pidsOf returns the pids whose comm is appID, excluding init and xmem
// itself. A denylisted app yields ErrProtected.
func (s *System) pidsOf(appID string) ([]int, error) {
	if s.denylist[appID] {
		return nil, fmt.Errorf("%s: %w", appID, ErrProtected)
	}
	pids, err := util.PIDs(s.procRoot)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, pid := range pids {
		if pid <= 1 || pid == s.self {
			continue
		}
		st, err := util.ReadStat(s.procRoot, pid)
		if err != nil || st.Comm != appID {
			continue
		}
		out = append(out, pid)
	}
	sort.Ints(out)
	return out, nil
}

// TerminateBackgroundProcesses sends SIGTERM to every process of appID.
// Delivery is best effort; the process may ignore it.
func (s *System) TerminateBackgroundProcesses(ctx context.Context, appID string) error {
	pids, err := s.pidsOf(appID)
	if err != nil {
		return err
	}
	var errs []error
	for _, pid := range pids {
		if err := s.kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("kill %d: %w", pid, err))
			continue
		}
		s.log.Info("sent SIGTERM", zap.String("app", appID), zap.Int("pid", pid))
	}
	return errors.Join(errs...)
}

// ClearCaches flushes dirty pages and drops the page cache, dentries and
// inodes.
func (s *System) ClearCaches(ctx context.Context) error {
	s.sync()
	return s.writeVM("drop_caches", "3")
}

// SetMemoryCap sets memory.high on every cgroup holding a process of
// appID. The root cgroup is never capped.
func (s *System) SetMemoryCap(ctx context.Context, appID string, bytes int64) error {
	return s.writeMemoryHigh(appID, strconv.FormatInt(bytes, 10))
}

// CompressInactiveData is a no-op; Linux compresses through zswap/zram
// on its own once configured.
func (s *System) CompressInactiveData(ctx context.Context) error {
	s.log.Debug("compress inactive data: nothing to do")
	return nil
}

// Defragment asks the kernel to compact free memory.
func (s *System) Defragment(ctx context.Context) error {
	return s.writeVM("compact_memory", "1")
}

// OptimizeServices is a no-op on Linux.
func (s *System) OptimizeServices(ctx context.Context) error {
	s.log.Debug("optimize services: nothing to do")
	return nil
}

// PrioritizeApp lowers the nice value of every process of appID.
func (s *System) PrioritizeApp(ctx context.Context, appID string) error {
	pids, err := s.pidsOf(appID)
	if err != nil {
		return err
	}
	if len(pids) == 0 {
		return fmt.Errorf("no processes for %s", appID)
	}
	var errs []error
	for _, pid := range pids {
		if err := s.setpriority(unix.PRIO_PROCESS, pid, prioritizedNice); err != nil {
			errs = append(errs, fmt.Errorf("setpriority %d: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

// AllocateExtraMemory lifts memory.high on appID's cgroups.
func (s *System) AllocateExtraMemory(ctx context.Context, appID string) error {
	return s.writeMemoryHigh(appID, "max")
}

func (s *System) writeMemoryHigh(appID, value string) error {
	pids, err := s.pidsOf(appID)
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	var errs []error
	for _, pid := range pids {
		cg := util.CgroupPath(s.procRoot, pid)
		if cg == "" || cg == "/" || seen[cg] {
			continue
		}
		seen[cg] = true
		if err := writeKnob(filepath.Join(s.cgroupRoot, cg, "memory.high"), value); err != nil {
			errs = append(errs, err)
			continue
		}
		s.log.Info("memory.high set", zap.String("app", appID), zap.String("cgroup", cg), zap.String("value", value))
	}
	if len(seen) == 0 && len(errs) == 0 {
		return fmt.Errorf("no cgroup for %s", appID)
	}
	return errors.Join(errs...)
}

func (s *System) writeVM(knob, value string) error {
	return writeKnob(filepath.Join(s.procRoot, "sys", "vm", knob), value)
}

// writeKnob writes an existing kernel control file. It never creates one.
func writeKnob(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
