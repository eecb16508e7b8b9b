package trace

import (
	"context"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/winebot/winebot/api/pkg/fsutil"
	"github.com/winebot/winebot/api/pkg/types"
)

// ProxyOptions configures the network-layer RFB tap.
type ProxyOptions struct {
	SessionDir     string
	Listen         string
	Upstream       string
	MotionSampleMS int
}

// RunProxy is the network tracer entrypoint: a transparent TCP proxy in
// front of the VNC server that decodes the client-to-server RFB stream
// and logs the input messages it carries. The server-to-client direction
// is copied untouched.
func RunProxy(ctx context.Context, opts ProxyOptions) error {
	dir := opts.SessionDir
	if err := fsutil.WritePID(PidPath(dir, SourceNetwork), os.Getpid()); err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(PidPath(dir, SourceNetwork))
		_ = os.Remove(StatePath(dir, SourceNetwork))
	}()
	if err := fsutil.AtomicWriteSmall(StatePath(dir, SourceNetwork), []byte("running")); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return err
	}
	defer listener.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	writer := NewWriter(dir, SourceNetwork)
	_ = writer.Append(types.TraceEvent{
		Source: "rfb_proxy",
		Layer:  "network",
		Event:  "trace_started",
	})
	defer func() {
		_ = writer.Append(types.TraceEvent{
			Source: "rfb_proxy",
			Layer:  "network",
			Event:  "trace_stopped",
		})
	}()

	log.Info().Str("listen", opts.Listen).Str("upstream", opts.Upstream).Msg("rfb tap listening")
	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			proxyConnection(conn, opts.Upstream, writer,
				time.Duration(opts.MotionSampleMS)*time.Millisecond)
		}()
	}
}

// proxyConnection splices one client connection to the upstream VNC
// server, tapping the client-to-server bytes through the RFB parser.
func proxyConnection(client net.Conn, upstream string, writer *Writer, motionSample time.Duration) {
	defer client.Close()
	server, err := net.Dial("tcp", upstream)
	if err != nil {
		log.Warn().Err(err).Str("upstream", upstream).Msg("upstream dial failed")
		return
	}
	defer server.Close()

	done := make(chan struct{}, 2)

	// Server to client: plain copy.
	go func() {
		_, _ = io.Copy(client, server)
		done <- struct{}{}
	}()

	// Client to server: copy through the parser.
	go func() {
		parser := &rfbParser{motionSample: motionSample}
		buf := make([]byte, 32*1024)
		for {
			n, err := client.Read(buf)
			if n > 0 {
				for _, ev := range parser.feed(buf[:n]) {
					ev.Source = "rfb_proxy"
					ev.Layer = "network"
					ev.Origin = "user"
					if appendErr := writer.Append(ev); appendErr != nil {
						log.Debug().Err(appendErr).Msg("trace append failed")
					}
				}
				if _, err := server.Write(buf[:n]); err != nil {
					break
				}
			}
			if err != nil {
				break
			}
		}
		done <- struct{}{}
	}()

	<-done
}
