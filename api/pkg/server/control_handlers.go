package server

import (
	"errors"
	"net/http"

	"github.com/winebot/winebot/api/pkg/broker"
	"github.com/winebot/winebot/api/pkg/system"
	"github.com/winebot/winebot/api/pkg/types"
)

// defaultLeaseSeconds applies when a grant or renew omits the lease.
const defaultLeaseSeconds = 120

func (s *WineBotAPIServer) getControlState(res http.ResponseWriter, req *http.Request) (types.ControlState, *system.HTTPError) {
	return s.Broker.State(), nil
}

func (s *WineBotAPIServer) grantControl(res http.ResponseWriter, req *http.Request) (types.ControlState, *system.HTTPError) {
	var body types.GrantControlRequest
	if herr := decodeBody(req, &body); herr != nil {
		return types.ControlState{}, herr
	}
	lease := body.LeaseSeconds
	if lease <= 0 {
		lease = defaultLeaseSeconds
	}
	s.Broker.GrantAgent(lease)
	return s.Broker.State(), nil
}

func (s *WineBotAPIServer) renewControl(res http.ResponseWriter, req *http.Request) (types.ControlState, *system.HTTPError) {
	var body types.GrantControlRequest
	if herr := decodeBody(req, &body); herr != nil {
		return types.ControlState{}, herr
	}
	lease := body.LeaseSeconds
	if lease <= 0 {
		lease = defaultLeaseSeconds
	}
	if err := s.Broker.RenewAgent(lease); err != nil {
		switch {
		case errors.Is(err, broker.ErrNoControl):
			return types.ControlState{}, system.NewHTTPError403("no_control")
		case errors.Is(err, broker.ErrStopRequested):
			return types.ControlState{}, system.NewHTTPError403("stop_requested")
		default:
			return types.ControlState{}, system.NewHTTPError500(err.Error())
		}
	}
	return s.Broker.State(), nil
}

func (s *WineBotAPIServer) setUserIntent(res http.ResponseWriter, req *http.Request) (types.ControlState, *system.HTTPError) {
	var body types.UserIntentRequest
	if herr := decodeBody(req, &body); herr != nil {
		return types.ControlState{}, herr
	}
	if !body.Intent.Valid() {
		return types.ControlState{}, system.NewHTTPError400("invalid intent")
	}
	s.Broker.SetUserIntent(body.Intent)
	return s.Broker.State(), nil
}
