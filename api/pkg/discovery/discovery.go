// Package discovery advertises the running session over mDNS so desktop
// clients on the local network can find it without configuration.
package discovery

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog/log"

	"github.com/winebot/winebot/api/pkg/config"
	"github.com/winebot/winebot/api/pkg/version"
)

const serviceType = "_winebot-session._tcp"

// Announcement is the discoverable state of this host.
type Announcement struct {
	SessionID  string
	APIPort    int
	VNCPort    int
	NoVNCPort  int
	ActiveApps []string
}

func (a Announcement) txtRecords() []string {
	return []string{
		"version=" + version.BuildVersion(),
		"session_id=" + a.SessionID,
		fmt.Sprintf("api_port=%d", a.APIPort),
		fmt.Sprintf("vnc_port=%d", a.VNCPort),
		fmt.Sprintf("novnc_port=%d", a.NoVNCPort),
		"active_apps=" + strings.Join(a.ActiveApps, ","),
	}
}

// Advertiser owns the mDNS registration. Updating the announcement
// re-registers, since the zone records are immutable once published.
type Advertiser struct {
	cfg *config.ServerConfig

	mu     sync.Mutex
	server *mdns.Server
}

func NewAdvertiser(cfg *config.ServerConfig) *Advertiser {
	return &Advertiser{cfg: cfg}
}

// Announce publishes (or republishes) the session on the local network.
// When multiple sessions are disallowed and another host already
// advertises, the collision is logged and announcement is skipped; a
// discovery clash must never take the control plane down.
func (a *Advertiser) Announce(ann Announcement) error {
	if !a.cfg.Discovery.Enabled {
		return nil
	}
	if !a.cfg.Discovery.AllowMultiple && a.otherSessionPresent() {
		log.Warn().Msg("another session is already advertised, skipping announcement")
		return nil
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "winebot"
	}
	instance := hostname
	if ann.SessionID != "" {
		instance = ann.SessionID
	}

	service, err := mdns.NewMDNSService(instance, serviceType, "", "", ann.APIPort, nil, ann.txtRecords())
	if err != nil {
		return fmt.Errorf("build mdns service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("start mdns server: %w", err)
	}

	a.mu.Lock()
	old := a.server
	a.server = server
	a.mu.Unlock()
	if old != nil {
		_ = old.Shutdown()
	}
	log.Info().Str("instance", instance).Str("service", serviceType).Msg("session announced")
	return nil
}

// otherSessionPresent probes the network briefly for a competing
// announcement.
func (a *Advertiser) otherSessionPresent() bool {
	entries := make(chan *mdns.ServiceEntry, 8)
	found := false
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range entries {
			found = true
		}
	}()
	params := mdns.DefaultParams(serviceType)
	params.Entries = entries
	params.Timeout = 2 * time.Second
	if err := mdns.Query(params); err != nil {
		log.Debug().Err(err).Msg("mdns probe failed")
	}
	close(entries)
	<-done
	return found
}

// Shutdown withdraws the announcement.
func (a *Advertiser) Shutdown() {
	a.mu.Lock()
	server := a.server
	a.server = nil
	a.mu.Unlock()
	if server != nil {
		_ = server.Shutdown()
	}
}
