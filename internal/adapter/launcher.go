package adapter

import (
	"errors"
	"log/slog"
	"os/exec"
	"runtime"
)

// ErrNoPlayer is returned when neither a configured nor a detected player
// could be started.
var ErrNoPlayer = errors.New("no video player available")

// Launcher opens a playback URL in an external player
type Launcher struct {
	command string   // configured player command, empty to auto-detect
	args    []string // additional arguments for the player
	logger  *slog.Logger

	lookPath func(string) (string, error)
	start    func(name string, args ...string) error
}

// candidatePlayers defines the preferred player order for each platform
var candidatePlayers = map[string][]string{
	"darwin":  {"iina", "mpv", "vlc"},
	"linux":   {"mpv", "celluloid", "vlc"},
	"windows": {"mpv", "vlc"},
}

// NewLauncher creates a Launcher. An empty command tries the platform's
// candidate players before falling back to the system default handler.
func NewLauncher(command string, args []string, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		command:  command,
		args:     args,
		logger:   logger,
		lookPath: exec.LookPath,
		start: func(name string, args ...string) error {
			return exec.Command(name, args...).Start()
		},
	}
}

// Launch starts the player without waiting for it to exit.
func (l *Launcher) Launch(url string) error {
	// Tier 1: User configured a specific player
	if l.command != "" {
		args := append(append([]string{}, l.args...), url)
		l.logger.Info("launching configured player", "command", l.command, "url", url)
		return l.start(l.command, args...)
	}

	// Tier 2: First candidate present in PATH
	for _, name := range candidates() {
		path, err := l.lookPath(name)
		if err != nil {
			continue
		}
		if err := l.start(path, url); err != nil {
			l.logger.Debug("player failed to start", "player", name, "error", err)
			continue
		}
		l.logger.Info("launched with detected player", "player", name, "url", url)
		return nil
	}

	// Tier 3: Fall back to system default (open/xdg-open/start)
	name, args := defaultOpener(url)
	l.logger.Info("no candidate players found, using system default", "os", runtime.GOOS)
	if err := l.start(name, args...); err != nil {
		return errors.Join(ErrNoPlayer, err)
	}
	return nil
}

func candidates() []string {
	if c, ok := candidatePlayers[runtime.GOOS]; ok {
		return c
	}
	return candidatePlayers["linux"]
}

func defaultOpener(url string) (string, []string) {
	switch runtime.GOOS {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "cmd", []string{"/c", "start", "", url}
	default:
		return "xdg-open", []string{url}
	}
}
