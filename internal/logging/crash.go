package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// MaxCrashLogs is the maximum number of crash reports kept on disk
	MaxCrashLogs = 20
	// CrashLogMaxAge is the age after which crash reports are removed
	CrashLogMaxAge = 30 * 24 * time.Hour
)

var (
	crashDirMu       sync.RWMutex
	crashDirOverride string
)

// SetCrashLogDir overrides the platform crash report directory. An empty string
// restores the default.
func SetCrashLogDir(dir string) {
	crashDirMu.Lock()
	crashDirOverride = dir
	crashDirMu.Unlock()
}

// CrashLogDir returns the directory crash reports are written to.
func CrashLogDir() string {
	crashDirMu.RLock()
	override := crashDirOverride
	crashDirMu.RUnlock()
	if override != "" {
		return override
	}

	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Logs", "spooltag")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = home
		}
		return filepath.Join(appData, "spooltag", "logs")
	default:
		return filepath.Join(home, ".local", "share", "spooltag", "logs")
	}
}

// WriteCrashLog writes a crash report and returns its path. Old reports are
// pruned afterwards.
func WriteCrashLog(context string, panicValue interface{}, stack []byte) (string, error) {
	dir := CrashLogDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create crash log directory: %w", err)
	}

	now := time.Now()
	path := filepath.Join(dir, fmt.Sprintf("crash_%s.log", now.Format("2006-01-02_15-04-05")))

	var b strings.Builder
	fmt.Fprintf(&b, "spooltag crash report\n")
	fmt.Fprintf(&b, "Time: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "Context: %s\n", context)
	fmt.Fprintf(&b, "Go: %s %s/%s\n\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "Panic: %v\n\n%s\n", panicValue, stack)
	if info, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(&b, "\n%s", info.String())
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write crash log: %w", err)
	}

	pruneCrashLogs(dir, now)
	return path, nil
}

// RecoverAndLog recovers a panic, records it and optionally re-panics.
// Use as: defer logging.RecoverAndLog("sync", false)
func RecoverAndLog(context string, rePanic bool) {
	if r := recover(); r != nil {
		handlePanic(context, r)
		if rePanic {
			panic(r)
		}
	}
}

// RecoverToError recovers a panic into *errp so a single failing item does not
// abort a batch.
func RecoverToError(context string, errp *error) {
	if r := recover(); r != nil {
		handlePanic(context, r)
		*errp = fmt.Errorf("panic in %s: %v", context, r)
	}
}

func handlePanic(context string, r interface{}) {
	stack := debug.Stack()

	CapturePanic(r, stack, context)
	Error(CatSystem, fmt.Sprintf("PANIC in %s: %v", context, r), map[string]any{
		"stack": string(stack),
	})

	if path, err := WriteCrashLog(context, r, stack); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write crash log: %v\n", err)
	} else {
		fmt.Fprintf(os.Stderr, "Crash log written to: %s\n", path)
	}
}

// pruneCrashLogs keeps the newest MaxCrashLogs reports and drops any older than CrashLogMaxAge.
func pruneCrashLogs(dir string, now time.Time) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "crash_") && strings.HasSuffix(e.Name(), ".log") {
			names = append(names, e.Name())
		}
	}
	// Timestamped names sort oldest first.
	sort.Strings(names)

	for i, name := range names {
		path := filepath.Join(dir, name)
		remove := len(names)-i > MaxCrashLogs
		if info, err := os.Stat(path); err == nil && now.Sub(info.ModTime()) > CrashLogMaxAge {
			remove = true
		}
		if remove {
			_ = os.Remove(path)
		}
	}
}
