package console

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeController struct {
	name       string
	presence   string
	avatar     string
	synced     int
	forgotten  []string
	sessionN   int
	throttledN int
}

func (f *fakeController) SetName(name string) error         { f.name = name; return nil }
func (f *fakeController) SetPresence(p string) error        { f.presence = p; return nil }
func (f *fakeController) SetAvatar(uri string) error        { f.avatar = uri; return nil }
func (f *fakeController) ResyncCommands() error             { f.synced++; return nil }
func (f *fakeController) SessionCount() int                 { return f.sessionN }
func (f *fakeController) ForgetSession(channelID string)    { f.forgotten = append(f.forgotten, channelID) }
func (f *fakeController) TrackedUsers() int                 { return f.throttledN }

func run(t *testing.T, input string) (*fakeController, string, bool) {
	t.Helper()

	ctrl := &fakeController{sessionN: 2, throttledN: 5}
	var out bytes.Buffer
	var shutdown bool
	c := New(strings.NewReader(input), &out, ctrl, func() { shutdown = true }, nil)
	c.Run()
	return ctrl, out.String(), shutdown
}

func TestDispatch(t *testing.T) {
	t.Run("ping", func(t *testing.T) {
		_, out, _ := run(t, "ping\n")
		if !strings.Contains(out, "pong") {
			t.Errorf("output = %q, want pong", out)
		}
	})

	t.Run("aliases lists alternates", func(t *testing.T) {
		_, out, _ := run(t, "aliases\n")
		if !strings.Contains(out, "stats") || !strings.Contains(out, "exit") {
			t.Errorf("output = %q, want alias listing", out)
		}
	})

	t.Run("setname forwards the argument", func(t *testing.T) {
		ctrl, out, _ := run(t, "setname Engi Two\n")
		if ctrl.name != "Engi Two" {
			t.Errorf("name = %q, want %q", ctrl.name, "Engi Two")
		}
		if !strings.Contains(out, "setname ok") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("setname without argument reports usage", func(t *testing.T) {
		ctrl, out, _ := run(t, "setname\n")
		if ctrl.name != "" {
			t.Errorf("name = %q, want unchanged", ctrl.name)
		}
		if !strings.Contains(out, "failed") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("setpresence", func(t *testing.T) {
		ctrl, _, _ := run(t, "setpresence reading the docs\n")
		if ctrl.presence != "reading the docs" {
			t.Errorf("presence = %q", ctrl.presence)
		}
	})

	t.Run("sync", func(t *testing.T) {
		ctrl, _, _ := run(t, "sync\n")
		if ctrl.synced != 1 {
			t.Errorf("synced = %d, want 1", ctrl.synced)
		}
	})

	t.Run("debug shows stats", func(t *testing.T) {
		_, out, _ := run(t, "debug\n")
		if !strings.Contains(out, "sessions=2") || !strings.Contains(out, "throttled_users=5") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("wipe forgets the channel", func(t *testing.T) {
		ctrl, _, _ := run(t, "wipe chan-42\n")
		if len(ctrl.forgotten) != 1 || ctrl.forgotten[0] != "chan-42" {
			t.Errorf("forgotten = %v", ctrl.forgotten)
		}
	})

	t.Run("exit triggers shutdown and stops", func(t *testing.T) {
		ctrl, _, shutdown := run(t, "exit\nping\n")
		if !shutdown {
			t.Error("shutdown was not called")
		}
		// Commands after exit must not run.
		if ctrl.synced != 0 {
			t.Error("console kept running after exit")
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		_, out, _ := run(t, "frobnicate\n")
		if !strings.Contains(out, "unknown command") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("blank lines are ignored", func(t *testing.T) {
		_, out, shutdown := run(t, "\n\n   \n")
		if shutdown {
			t.Error("blank input triggered shutdown")
		}
		if strings.Contains(out, "unknown") {
			t.Errorf("output = %q", out)
		}
	})
}

func TestSetAvatar(t *testing.T) {
	t.Run("builds a data uri from a png", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "avatar.png")
		if err := os.WriteFile(path, []byte("\x89PNG fake"), 0o600); err != nil {
			t.Fatal(err)
		}

		ctrl, out, _ := run(t, "setavatar "+path+"\n")
		if !strings.HasPrefix(ctrl.avatar, "data:image/png;base64,") {
			t.Errorf("avatar = %q, want png data uri", ctrl.avatar)
		}
		if !strings.Contains(out, "setavatar ok") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("rejects non-image files", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "notes.txt")
		if err := os.WriteFile(path, []byte("text"), 0o600); err != nil {
			t.Fatal(err)
		}

		ctrl, out, _ := run(t, "setavatar "+path+"\n")
		if ctrl.avatar != "" {
			t.Errorf("avatar = %q, want empty", ctrl.avatar)
		}
		if !strings.Contains(out, "failed") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("missing file reports failure", func(t *testing.T) {
		_, out, _ := run(t, "setavatar /no/such/file.png\n")
		if !strings.Contains(out, "failed") {
			t.Errorf("output = %q", out)
		}
	})
}
