package peripheral

import (
	"strings"
	"testing"

	"helical-go-migration/pkg/rigerr"
)

type execCall struct {
	args   []string
	detach bool
}

func newTestPlayer(path string) (*ExecPlayer, *[]execCall) {
	calls := &[]execCall{}
	p := NewExecPlayer(path, DefaultPlayerCommands())
	p.execute = func(args []string, detach bool) error {
		*calls = append(*calls, execCall{args: args, detach: detach})
		return nil
	}
	return p, calls
}

func TestExecPlayerStart(t *testing.T) {
	p, calls := newTestPlayer("/data/cal/spiral.mp4")
	if err := p.StartVideo(); err != nil {
		t.Fatal(err)
	}
	if len(*calls) != 1 {
		t.Fatalf("ran %d commands, want 1", len(*calls))
	}
	call := (*calls)[0]
	if !call.detach {
		t.Fatal("start command must detach")
	}
	if call.args[0] != "mpv" {
		t.Fatalf("command = %q, want mpv", call.args[0])
	}
	if got := call.args[len(call.args)-1]; got != "/data/cal/spiral.mp4" {
		t.Fatalf("media path = %q", got)
	}
	joined := strings.Join(call.args, " ")
	if !strings.Contains(joined, "--title="+VideoWindowTitle) {
		t.Fatalf("window title missing from %q", joined)
	}
}

func TestExecPlayerToggleAndRestart(t *testing.T) {
	p, calls := newTestPlayer("x.mp4")
	if err := p.ToggleVideo(); err != nil {
		t.Fatal(err)
	}
	if err := p.RestartVideo(); err != nil {
		t.Fatal(err)
	}

	toggle := (*calls)[0]
	restart := (*calls)[1]
	if toggle.detach || restart.detach {
		t.Fatal("window actions must not detach")
	}
	if toggle.args[0] != "xdotool" || toggle.args[len(toggle.args)-1] != "space" {
		t.Fatalf("toggle args = %v", toggle.args)
	}
	if restart.args[len(restart.args)-1] != "home" {
		t.Fatalf("restart args = %v", restart.args)
	}
	for _, c := range *calls {
		if !contains(c.args, VideoWindowTitle) {
			t.Fatalf("window title missing from %v", c.args)
		}
	}
}

func TestExecPlayerMoveWindow(t *testing.T) {
	p, calls := newTestPlayer("x.mp4")
	if err := p.MoveWindow("0x03c00041", "0,2560,0,-1,-1"); err != nil {
		t.Fatal(err)
	}
	args := (*calls)[0].args
	if args[0] != "wmctrl" {
		t.Fatalf("command = %q, want wmctrl", args[0])
	}
	if !contains(args, "0x03c00041") || !contains(args, "0,2560,0,-1,-1") {
		t.Fatalf("move args = %v", args)
	}
}

func TestExecPlayerRejectsBadTemplate(t *testing.T) {
	p, _ := newTestPlayer("x.mp4")
	p.commands.Toggle = "xdotool 'unterminated"
	if err := p.ToggleVideo(); !rigerr.IsInvalidArgument(err) {
		t.Fatalf("ToggleVideo = %v, want invalid argument", err)
	}

	p.commands.Toggle = ""
	if err := p.ToggleVideo(); !rigerr.IsInvalidArgument(err) {
		t.Fatalf("empty template = %v, want invalid argument", err)
	}
}

func TestNopPlayer(t *testing.T) {
	var p Player = NopPlayer{}
	if err := p.StartVideo(); err != nil {
		t.Fatal(err)
	}
	if err := p.ToggleVideo(); err != nil {
		t.Fatal(err)
	}
	if err := p.RestartVideo(); err != nil {
		t.Fatal(err)
	}
	if err := p.MoveWindow("w", "g"); err != nil {
		t.Fatal(err)
	}
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}
