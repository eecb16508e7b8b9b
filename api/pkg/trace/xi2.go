package trace

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/winebot/winebot/api/pkg/fsutil"
	"github.com/winebot/winebot/api/pkg/types"
)

// XI2Options configures the canonical tracer child.
type XI2Options struct {
	SessionDir     string
	Display        string
	IncludeRaw     bool
	MotionSampleMS int
}

// xi2EventNames maps XI2 raw event names (as printed by xinput test-xi2)
// to the canonical event vocabulary.
var xi2EventNames = map[string]string{
	"RawMotion":        "motion",
	"RawButtonPress":   "button_press",
	"RawButtonRelease": "button_release",
	"RawKeyPress":      "key_press",
	"RawKeyRelease":    "key_release",
}

// RunXI2 is the canonical tracer entrypoint: it attaches xinput test-xi2
// to the root window and translates its raw event blocks to JSONL.
// Motion events are downsampled to at most one per MotionSampleMS.
func RunXI2(ctx context.Context, opts XI2Options) error {
	dir := opts.SessionDir
	if err := fsutil.WritePID(PidPath(dir, SourceCanonical), os.Getpid()); err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(PidPath(dir, SourceCanonical))
		_ = os.Remove(StatePath(dir, SourceCanonical))
	}()
	if err := fsutil.AtomicWriteSmall(StatePath(dir, SourceCanonical), []byte("running")); err != nil {
		return err
	}

	cmd := exec.Command("xinput", "test-xi2", "--root")
	cmd.Env = append(os.Environ(), "DISPLAY="+opts.Display)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("attach xinput test-xi2: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}()

	writer := NewWriter(dir, SourceCanonical)
	writer.Append(types.TraceEvent{
		Source: "x11",
		Layer:  "x11",
		Event:  "trace_started",
		Tool:   "xinput",
	})

	parser := &xi2Parser{
		writer:       writer,
		includeRaw:   opts.IncludeRaw,
		motionSample: time.Duration(opts.MotionSampleMS) * time.Millisecond,
	}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		parser.feed(scanner.Text())
	}
	parser.flush()
	writer.Append(types.TraceEvent{
		Source: "x11",
		Layer:  "x11",
		Event:  "trace_stopped",
		Tool:   "xinput",
	})
	err = cmd.Wait()
	if ctx.Err() != nil {
		return nil // stopped on request
	}
	log.Warn().Err(err).Msg("xinput test-xi2 exited")
	return err
}

// xi2Parser accumulates one indented event block at a time. A new
// "EVENT type" header flushes the previous block.
type xi2Parser struct {
	writer       *Writer
	includeRaw   bool
	motionSample time.Duration
	lastMotion   time.Time

	current *xi2Block
}

type xi2Block struct {
	name   string
	detail int
	device int
	x, y   *int
	raw    []string
}

func (p *xi2Parser) feed(line string) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "EVENT type") {
		p.flush()
		name := ""
		if open := strings.Index(trimmed, "("); open >= 0 {
			if close := strings.Index(trimmed[open:], ")"); close > 0 {
				name = trimmed[open+1 : open+close]
			}
		}
		p.current = &xi2Block{name: name, detail: -1, device: -1}
		if p.includeRaw {
			p.current.raw = append(p.current.raw, trimmed)
		}
		return
	}
	if p.current == nil {
		return
	}
	if p.includeRaw {
		p.current.raw = append(p.current.raw, trimmed)
	}
	switch {
	case strings.HasPrefix(trimmed, "device:"):
		fields := strings.Fields(trimmed)
		if len(fields) >= 2 {
			if id, err := strconv.Atoi(fields[1]); err == nil {
				p.current.device = id
			}
		}
	case strings.HasPrefix(trimmed, "detail:"):
		fields := strings.Fields(trimmed)
		if len(fields) >= 2 {
			if d, err := strconv.Atoi(fields[1]); err == nil {
				p.current.detail = d
			}
		}
	case strings.HasPrefix(trimmed, "0:"):
		p.current.x = parseValuator(trimmed)
	case strings.HasPrefix(trimmed, "1:"):
		p.current.y = parseValuator(trimmed)
	}
}

// parseValuator reads "N: 115.00 (115.00)" and truncates to pixels.
func parseValuator(line string) *int {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil
	}
	f, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return nil
	}
	v := int(f)
	return &v
}

func (p *xi2Parser) flush() {
	block := p.current
	p.current = nil
	if block == nil {
		return
	}
	event, known := xi2EventNames[block.name]
	if !known {
		return
	}
	if event == "motion" && p.motionSample > 0 {
		now := time.Now()
		if now.Sub(p.lastMotion) < p.motionSample {
			return
		}
		p.lastMotion = now
	}
	ev := types.TraceEvent{
		Source: "x11",
		Layer:  "x11",
		Event:  event,
		Origin: "unknown",
		Tool:   "xinput",
		X:      block.x,
		Y:      block.y,
	}
	if block.device >= 0 {
		id := block.device
		ev.Device = &types.DeviceInfo{ID: &id}
	}
	if block.detail >= 0 {
		switch event {
		case "button_press", "button_release":
			d := block.detail
			ev.Button = &d
		case "key_press", "key_release":
			d := block.detail
			ev.Keycode = &d
		}
	}
	if p.includeRaw && len(block.raw) > 0 {
		ev.Extra = map[string]any{"raw": strings.Join(block.raw, "\n")}
	}
	if err := p.writer.Append(ev); err != nil {
		log.Debug().Err(err).Msg("trace append failed")
	}
}
