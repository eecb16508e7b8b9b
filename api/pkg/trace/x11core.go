package trace

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/winebot/winebot/api/pkg/fsutil"
	"github.com/winebot/winebot/api/pkg/procutil"
	"github.com/winebot/winebot/api/pkg/types"
)

// X11CoreOptions configures the core-protocol tracer child.
type X11CoreOptions struct {
	SessionDir     string
	Display        string
	MotionSampleMS int
}

var xinputIDRe = regexp.MustCompile(`id=(\d+)`)

// preferredCoreDevices are tried in order per role. Xvfb names show up
// when the virtual core devices are not exposed.
var preferredCoreDevices = map[string][]string{
	"pointer":  {"Virtual core pointer", "Xvfb mouse", "Xvfb pointer"},
	"keyboard": {"Virtual core keyboard", "Xvfb keyboard"},
}

// RunX11Core attaches one `xinput test` reader per core device and
// multiplexes their output into a single JSONL log. The core layer
// corroborates the canonical XI2 layer through the legacy protocol path.
func RunX11Core(ctx context.Context, opts X11CoreOptions) error {
	dir := opts.SessionDir
	if err := fsutil.WritePID(PidPath(dir, SourceX11Core), os.Getpid()); err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(PidPath(dir, SourceX11Core))
		_ = os.Remove(StatePath(dir, SourceX11Core))
	}()
	if err := fsutil.AtomicWriteSmall(StatePath(dir, SourceX11Core), []byte("running")); err != nil {
		return err
	}

	devices := resolveCoreDevices(ctx, opts.Display)
	if len(devices) == 0 {
		return fmt.Errorf("no core input devices found on %s", opts.Display)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	writer := NewWriter(dir, SourceX11Core)
	_ = writer.Append(types.TraceEvent{
		Source: "x11_core",
		Layer:  "x11_core",
		Event:  "trace_started",
		Tool:   "xinput",
	})

	var wg sync.WaitGroup
	for role, device := range devices {
		cmd := exec.Command("xinput", "test", strconv.Itoa(device.id))
		cmd.Env = append(os.Environ(), "DISPLAY="+opts.Display)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return err
		}
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("attach xinput test to %q: %w", device.name, err)
		}
		go func() {
			<-ctx.Done()
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}()
		wg.Add(1)
		go func(role string, device coreDevice) {
			defer wg.Done()
			readCoreStream(writer, role, device, stdout,
				time.Duration(opts.MotionSampleMS)*time.Millisecond)
			_ = cmd.Wait()
		}(role, device)
	}
	wg.Wait()
	_ = writer.Append(types.TraceEvent{
		Source: "x11_core",
		Layer:  "x11_core",
		Event:  "trace_stopped",
		Tool:   "xinput",
	})
	return nil
}

type coreDevice struct {
	id   int
	name string
}

// resolveCoreDevices picks one pointer and one keyboard from
// `xinput list`, trying the preferred names per role in order.
func resolveCoreDevices(ctx context.Context, display string) map[string]coreDevice {
	result := procutil.SafeCommand(ctx, 0, "env", "DISPLAY="+display, "xinput", "list")
	if !result.OK {
		log.Warn().Str("error", result.Error).Msg("xinput list failed")
		return nil
	}
	devices := map[string]coreDevice{}
	for role, names := range preferredCoreDevices {
		for _, want := range names {
			for _, line := range strings.Split(result.Stdout, "\n") {
				if !strings.Contains(line, want) {
					continue
				}
				match := xinputIDRe.FindStringSubmatch(line)
				if match == nil {
					continue
				}
				id, err := strconv.Atoi(match[1])
				if err != nil {
					continue
				}
				devices[role] = coreDevice{id: id, name: want}
				break
			}
			if _, ok := devices[role]; ok {
				break
			}
		}
	}
	return devices
}

// readCoreStream translates `xinput test` lines, downsampling motion to
// at most one event per motionSample. Formats:
//
//	motion a[0]=632 a[1]=243
//	button press   1
//	key press   38
func readCoreStream(writer *Writer, role string, device coreDevice, stream interface{ Read([]byte) (int, error) }, motionSample time.Duration) {
	scanner := bufio.NewScanner(stream)
	var lastMotion time.Time
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		ev, ok := parseCoreLine(line)
		if !ok {
			continue
		}
		if ev.Event == "motion" && motionSample > 0 {
			now := time.Now()
			if now.Sub(lastMotion) < motionSample {
				continue
			}
			lastMotion = now
		}
		id := device.id
		ev.Device = &types.DeviceInfo{ID: &id, Name: device.name, Spec: role}
		ev.Source = "x11_core"
		ev.Layer = "x11_core"
		ev.Origin = "unknown"
		ev.Tool = "xinput"
		if err := writer.Append(ev); err != nil {
			log.Debug().Err(err).Msg("trace append failed")
		}
	}
}

func parseCoreLine(line string) (types.TraceEvent, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return types.TraceEvent{}, false
	}
	switch fields[0] {
	case "motion":
		ev := types.TraceEvent{Event: "motion"}
		for _, f := range fields[1:] {
			if v, ok := parseAxis(f, "a[0]="); ok {
				ev.X = &v
			}
			if v, ok := parseAxis(f, "a[1]="); ok {
				ev.Y = &v
			}
		}
		return ev, true
	case "button":
		if len(fields) < 3 {
			return types.TraceEvent{}, false
		}
		n, err := strconv.Atoi(fields[2])
		if err != nil {
			return types.TraceEvent{}, false
		}
		ev := types.TraceEvent{Event: "button_" + fields[1], Button: &n}
		return ev, fields[1] == "press" || fields[1] == "release"
	case "key":
		if len(fields) < 3 {
			return types.TraceEvent{}, false
		}
		n, err := strconv.Atoi(fields[2])
		if err != nil {
			return types.TraceEvent{}, false
		}
		ev := types.TraceEvent{Event: "key_" + fields[1], Keycode: &n}
		return ev, fields[1] == "press" || fields[1] == "release"
	}
	return types.TraceEvent{}, false
}

func parseAxis(field, prefix string) (int, bool) {
	if !strings.HasPrefix(field, prefix) {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimPrefix(field, prefix), 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}
