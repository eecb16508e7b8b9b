package trace

import (
	"encoding/binary"
	"time"

	"github.com/winebot/winebot/api/pkg/types"
)

// rfbDefaultMotionSample bounds pointer-move emission when no motion
// sampling window is configured.
const rfbDefaultMotionSample = 10 * time.Millisecond

// rfbParser incrementally decodes the client-to-server half of an RFB
// connection, emitting input events for KeyEvent and PointerEvent
// messages. Everything else is framed and skipped. An unknown message
// type advances one byte so a desynced stream degrades to noise instead
// of stalling the tap.
type rfbParser struct {
	buf          []byte
	state        rfbState
	authType     byte
	lastMask     byte
	motionSample time.Duration
	lastMotion   time.Time

	// skip counts ClientCutText payload bytes still to discard. The
	// declared length is client-controlled, so the payload is drained
	// instead of buffered.
	skip int
}

type rfbState int

const (
	rfbStateVersion rfbState = iota
	rfbStateSecurity
	rfbStateAuthResponse
	rfbStateClientInit
	rfbStateMessages
)

const (
	rfbMsgSetPixelFormat           = 0
	rfbMsgSetEncodings             = 2
	rfbMsgFramebufferUpdateRequest = 3
	rfbMsgKeyEvent                 = 4
	rfbMsgPointerEvent             = 5
	rfbMsgClientCutText            = 6

	rfbSecurityVNCAuth = 2
)

// feed consumes bytes from the client stream and returns any decoded
// input events. Partial messages are buffered across calls.
func (p *rfbParser) feed(data []byte) []types.TraceEvent {
	if p.skip > 0 {
		if p.skip >= len(data) {
			p.skip -= len(data)
			return nil
		}
		data = data[p.skip:]
		p.skip = 0
	}
	p.buf = append(p.buf, data...)
	var events []types.TraceEvent
	for {
		consumed, ev := p.step()
		if consumed == 0 {
			break
		}
		p.buf = p.buf[consumed:]
		if ev != nil {
			events = append(events, *ev)
		}
		if p.skip > 0 && len(p.buf) > 0 {
			if p.skip >= len(p.buf) {
				p.skip -= len(p.buf)
				p.buf = p.buf[:0]
			} else {
				p.buf = p.buf[p.skip:]
				p.skip = 0
			}
		}
	}
	return events
}

// step decodes at most one protocol element, returning the bytes
// consumed. Zero means more input is needed.
func (p *rfbParser) step() (int, *types.TraceEvent) {
	switch p.state {
	case rfbStateVersion:
		// "RFB xxx.yyy\n"
		if len(p.buf) < 12 {
			return 0, nil
		}
		p.state = rfbStateSecurity
		return 12, nil

	case rfbStateSecurity:
		if len(p.buf) < 1 {
			return 0, nil
		}
		p.authType = p.buf[0]
		if p.authType == rfbSecurityVNCAuth {
			p.state = rfbStateAuthResponse
		} else {
			p.state = rfbStateClientInit
		}
		return 1, nil

	case rfbStateAuthResponse:
		if len(p.buf) < 16 {
			return 0, nil
		}
		p.state = rfbStateClientInit
		return 16, nil

	case rfbStateClientInit:
		if len(p.buf) < 1 {
			return 0, nil
		}
		p.state = rfbStateMessages
		return 1, nil

	case rfbStateMessages:
		return p.stepMessage()
	}
	return 0, nil
}

func (p *rfbParser) stepMessage() (int, *types.TraceEvent) {
	if len(p.buf) < 1 {
		return 0, nil
	}
	switch p.buf[0] {
	case rfbMsgSetPixelFormat:
		if len(p.buf) < 20 {
			return 0, nil
		}
		return 20, nil

	case rfbMsgSetEncodings:
		if len(p.buf) < 4 {
			return 0, nil
		}
		count := int(binary.BigEndian.Uint16(p.buf[2:4]))
		total := 4 + 4*count
		if len(p.buf) < total {
			return 0, nil
		}
		return total, nil

	case rfbMsgFramebufferUpdateRequest:
		if len(p.buf) < 10 {
			return 0, nil
		}
		return 10, nil

	case rfbMsgKeyEvent:
		if len(p.buf) < 8 {
			return 0, nil
		}
		down := p.buf[1] != 0
		key := binary.BigEndian.Uint32(p.buf[4:8])
		return 8, &types.TraceEvent{
			Event: "vnc_key",
			Key:   &key,
			Extra: map[string]any{"down": down},
		}

	case rfbMsgPointerEvent:
		if len(p.buf) < 6 {
			return 0, nil
		}
		mask := p.buf[1]
		x := int(binary.BigEndian.Uint16(p.buf[2:4]))
		y := int(binary.BigEndian.Uint16(p.buf[4:6]))
		ev := p.pointerEvent(mask, x, y)
		return 6, ev

	case rfbMsgClientCutText:
		if len(p.buf) < 8 {
			return 0, nil
		}
		// Payload length is client-controlled; consume the header now
		// and drain the payload from subsequent reads unbuffered.
		length := int(binary.BigEndian.Uint32(p.buf[4:8]))
		p.skip = length
		return 8, &types.TraceEvent{
			Event: "vnc_cut_text",
			Extra: map[string]any{"length": length},
		}

	default:
		// Unknown message type: advance one byte rather than stall.
		return 1, nil
	}
}

// pointerEvent reports every button-mask change immediately; plain
// moves (mask unchanged and zero) are downsampled to one per window.
func (p *rfbParser) pointerEvent(mask byte, x, y int) *types.TraceEvent {
	changed := mask ^ p.lastMask
	p.lastMask = mask
	if changed == 0 && mask == 0 {
		window := p.motionSample
		if window == 0 {
			window = rfbDefaultMotionSample
		}
		if window > 0 {
			now := time.Now()
			if now.Sub(p.lastMotion) < window {
				return nil
			}
			p.lastMotion = now
		}
	}
	ev := &types.TraceEvent{
		Event: "vnc_pointer",
		X:     &x,
		Y:     &y,
		Extra: map[string]any{"button_mask": int(mask)},
	}
	for bit := 0; bit < 8; bit++ {
		if changed&(1<<bit) != 0 {
			button := bit + 1
			ev.Button = &button
			break
		}
	}
	return ev
}
