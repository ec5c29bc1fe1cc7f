package bag

import (
	"sync"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"golang.org/x/sys/unix"

	"github.com/openrover/baglog/utils/log"
)

const (
	diskCheckInterval = 20 * time.Second
	dropWarnInterval  = 5 * time.Second

	// Free-space thresholds: below the hard limit writing is disabled,
	// below the soft limit a warning is logged.
	hardFreeBytes = 1 << 30
	softFreeBytes = 5 << 30
)

// diskGuard probes free space on the filesystem holding the bag and gates
// the write path. The mutex covers the clocks so an external monitor can
// query state without racing the writer.
type diskGuard struct {
	mu sync.Mutex

	path           string
	checkNext      time.Time
	warnNext       time.Time
	writingEnabled bool

	// replaceable for tests
	freeSpace func(path string) (uint64, error)
	now       func() time.Time
}

func newDiskGuard() diskGuard {
	return diskGuard{
		writingEnabled: true,
		freeSpace:      statfsFree,
		now:            time.Now,
	}
}

// start performs the initial probe and schedules the next one.
func (g *diskGuard) start(path string) {
	g.mu.Lock()
	g.path = path
	g.warnNext = time.Time{}
	g.mu.Unlock()

	g.check()

	g.mu.Lock()
	g.checkNext = g.now().Add(diskCheckInterval)
	g.mu.Unlock()
}

// scheduledCheck re-probes at most once per diskCheckInterval.
func (g *diskGuard) scheduledCheck() {
	g.mu.Lock()
	now := g.now()
	if now.Before(g.checkNext) {
		g.mu.Unlock()
		return
	}
	g.checkNext = now.Add(diskCheckInterval)
	g.mu.Unlock()

	g.check()
}

func (g *diskGuard) check() {
	g.mu.Lock()
	path := g.path
	g.mu.Unlock()

	free, err := g.freeSpace(path)
	if err != nil {
		log.Warn("failed to check filesystem stats for %s: %v", path, err)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case free < hardFreeBytes:
		log.Error("less than 1GB of space free on disk with %s (%s free), disabling recording",
			path, bytefmt.ByteSize(free))
		g.writingEnabled = false
	case free < softFreeBytes:
		log.Warn("less than 5GB of space free on disk with %s (%s free)", path, bytefmt.ByteSize(free))
		g.writingEnabled = true
	default:
		g.writingEnabled = true
	}
}

// loggingEnabled reports whether messages may be written. While disabled
// it emits one warning per dropWarnInterval.
func (g *diskGuard) loggingEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.writingEnabled {
		return true
	}

	now := g.now()
	if !now.Before(g.warnNext) {
		g.warnNext = now.Add(dropWarnInterval)
		log.Warn("not recording message because writing is disabled, most likely cause is a full disk")
	}
	return false
}

// statfsFree returns the free bytes available to unprivileged users on the
// filesystem holding path.
func statfsFree(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bsize) * st.Bavail, nil
}
