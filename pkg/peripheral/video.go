package peripheral

import (
	"os/exec"
	"strings"

	"github.com/google/shlex"

	"helical-go-migration/pkg/log"
	"helical-go-migration/pkg/rigerr"
)

var videoLogger = log.GetLogger("video")

// VideoWindowTitle is the window name the player commands target.
const VideoWindowTitle = "ProjectorVideo"

// Player controls the external video window that feeds the projector.
// Playback state is opaque to the rig; every action is fire and forget.
type Player interface {
	StartVideo() error
	ToggleVideo() error
	RestartVideo() error
	MoveWindow(id, geometry string) error
}

// PlayerCommands holds one command template per player action. Templates
// are split shell-style, then {path}, {title}, {id} and {geometry}
// placeholders expand inside each argument.
type PlayerCommands struct {
	Start   string
	Toggle  string
	Restart string
	Move    string
}

// DefaultPlayerCommands returns the mpv and X11 tooling the rig ships
// with.
func DefaultPlayerCommands() PlayerCommands {
	return PlayerCommands{
		Start: "mpv --vo=gpu --hwdec=auto --title={title} --pause --no-border " +
			"--loop=inf --video-rotate=180 {path}",
		Toggle:  "xdotool search --name {title} windowactivate --sync key space",
		Restart: "xdotool search --name {title} windowactivate --sync key home",
		Move:    "wmctrl -ir {id} -e {geometry}",
	}
}

// ExecPlayer implements Player by running external commands. The start
// command is detached; the window actions run to completion.
type ExecPlayer struct {
	commands PlayerCommands
	path     string

	execute func(args []string, detach bool) error
}

// NewExecPlayer builds a player around the given media path and command
// templates.
func NewExecPlayer(videoPath string, commands PlayerCommands) *ExecPlayer {
	return &ExecPlayer{
		commands: commands,
		path:     videoPath,
		execute:  runCommand,
	}
}

// StartVideo launches the player window on the configured media file.
func (p *ExecPlayer) StartVideo() error {
	videoLogger.Info("starting video %s", p.path)
	return p.run(p.commands.Start, map[string]string{"path": p.path}, true)
}

// ToggleVideo toggles play/pause on the player window.
func (p *ExecPlayer) ToggleVideo() error {
	return p.run(p.commands.Toggle, nil, false)
}

// RestartVideo seeks the player window back to the start.
func (p *ExecPlayer) RestartVideo() error {
	return p.run(p.commands.Restart, nil, false)
}

// MoveWindow places the window id at the given geometry.
func (p *ExecPlayer) MoveWindow(id, geometry string) error {
	return p.run(p.commands.Move, map[string]string{"id": id, "geometry": geometry}, false)
}

func (p *ExecPlayer) run(template string, vars map[string]string, detach bool) error {
	args, err := shlex.Split(template)
	if err != nil || len(args) == 0 {
		return rigerr.InvalidArgument("player command", template)
	}
	for i, arg := range args {
		arg = strings.ReplaceAll(arg, "{title}", VideoWindowTitle)
		for k, v := range vars {
			arg = strings.ReplaceAll(arg, "{"+k+"}", v)
		}
		args[i] = arg
	}
	return p.execute(args, detach)
}

func runCommand(args []string, detach bool) error {
	cmd := exec.Command(args[0], args[1:]...)
	if detach {
		if err := cmd.Start(); err != nil {
			return rigerr.IO("player", err)
		}
		go func() { _ = cmd.Wait() }()
		return nil
	}
	if err := cmd.Run(); err != nil {
		return rigerr.IO("player", err)
	}
	return nil
}

// NopPlayer satisfies Player with no display attached.
type NopPlayer struct{}

func (NopPlayer) StartVideo() error            { return nil }
func (NopPlayer) ToggleVideo() error           { return nil }
func (NopPlayer) RestartVideo() error          { return nil }
func (NopPlayer) MoveWindow(_, _ string) error { return nil }
