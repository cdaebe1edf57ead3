// Package console provides the operator's terminal while the bot runs.
//
// It reads line commands from stdin so whoever started the process can
// rename the bot, change its presence, resync commands or inspect
// runtime state without restarting.
package console

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Controller is what the console drives. The bot implements it.
type Controller interface {
	SetName(name string) error
	SetPresence(presence string) error
	SetAvatar(dataURI string) error
	ResyncCommands() error
	SessionCount() int
	ForgetSession(channelID string)
	TrackedUsers() int
}

// Console is a line-oriented operator shell.
type Console struct {
	in       io.Reader
	out      io.Writer
	ctrl     Controller
	shutdown func()
	logger   *slog.Logger
}

// New creates a Console. shutdown is invoked on the exit command;
// logger may be nil.
func New(in io.Reader, out io.Writer, ctrl Controller, shutdown func(), logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		in:       in,
		out:      out,
		ctrl:     ctrl,
		shutdown: shutdown,
		logger:   logger,
	}
}

// Run reads commands until the input closes or the exit command runs.
// Call it from its own goroutine.
func (c *Console) Run() {
	c.printf("console ready, type 'help' for commands")

	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !c.dispatch(line) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("console input error", "error", err)
	}
}

// dispatch runs one command. Returns false when the console should
// stop.
func (c *Console) dispatch(line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "help", "?":
		c.printHelp()
	case "ping":
		c.printf("pong")
	case "aliases":
		c.printf(`aliases:
  ?      -> help
  stats  -> debug
  quit   -> exit
  stop   -> exit`)
	case "setname":
		c.report("setname", requireArg(arg, c.ctrl.SetName))
	case "setpresence":
		c.report("setpresence", requireArg(arg, c.ctrl.SetPresence))
	case "setavatar":
		c.report("setavatar", c.setAvatar(arg))
	case "sync":
		c.report("sync", c.ctrl.ResyncCommands())
	case "debug", "stats":
		c.printf("sessions=%d throttled_users=%d", c.ctrl.SessionCount(), c.ctrl.TrackedUsers())
	case "wipe":
		if arg == "" {
			c.printf("usage: wipe <channel-id>")
			break
		}
		c.ctrl.ForgetSession(arg)
		c.printf("session for %s forgotten", arg)
	case "exit", "quit", "stop":
		c.printf("shutting down")
		if c.shutdown != nil {
			c.shutdown()
		}
		return false
	default:
		c.printf("unknown command %q, type 'help'", cmd)
	}
	return true
}

func (c *Console) setAvatar(path string) error {
	if path == "" {
		return fmt.Errorf("usage: setavatar <image-file>")
	}

	img, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path from the local terminal
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if !strings.HasPrefix(contentType, "image/") {
		return fmt.Errorf("%q does not look like an image", path)
	}

	dataURI := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(img))
	return c.ctrl.SetAvatar(dataURI)
}

func requireArg(arg string, f func(string) error) error {
	if arg == "" {
		return fmt.Errorf("missing argument")
	}
	return f(arg)
}

func (c *Console) report(cmd string, err error) {
	if err != nil {
		c.printf("%s failed: %v", cmd, err)
		return
	}
	c.printf("%s ok", cmd)
}

func (c *Console) printHelp() {
	c.printf(`commands:
  ping                 check the console is alive
  aliases              list command aliases
  setname <name>       rename the bot account
  setpresence <text>   change the playing status
  setavatar <file>     set the avatar from a local image
  sync                 re-register slash commands
  debug                show session and limiter stats
  wipe <channel-id>    forget a channel's conversation
  exit                 shut the bot down`)
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}
