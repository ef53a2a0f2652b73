package events

import (
	"errors"
	"net/http"
	"testing"

	"github.com/nguyenduc308/proxy-chain/registry"
)

func TestBus_EmitRequestFailedFansOutToAllObservers(t *testing.T) {
	var b Bus
	var got1, got2 RequestFailed

	b.OnRequestFailed(func(e RequestFailed) { got1 = e })
	b.OnRequestFailed(func(e RequestFailed) { got2 = e })

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	want := RequestFailed{Error: errors.New("boom"), Request: req}
	b.EmitRequestFailed(want)

	if got1.Error == nil || got1.Error.Error() != "boom" {
		t.Errorf("observer 1 did not receive event, got %+v", got1)
	}
	if got2.Error == nil || got2.Error.Error() != "boom" {
		t.Errorf("observer 2 did not receive event, got %+v", got2)
	}
}

func TestBus_EmitConnectionClosedWithNoObservers(t *testing.T) {
	var b Bus
	// Must not panic with zero registered observers.
	b.EmitConnectionClosed(ConnectionClosed{ConnectionID: registry.ID(1)})
}

func TestBus_EmitConnectionClosedDeliversStats(t *testing.T) {
	var b Bus
	var got ConnectionClosed
	b.OnConnectionClosed(func(e ConnectionClosed) { got = e })

	want := ConnectionClosed{
		ConnectionID: registry.ID(7),
		Stats:        registry.Stats{SrcRxBytes: 10, SrcTxBytes: 20},
	}
	b.EmitConnectionClosed(want)

	if got.ConnectionID != want.ConnectionID {
		t.Errorf("expected connection id %s, got %s", want.ConnectionID, got.ConnectionID)
	}
	if got.Stats != want.Stats {
		t.Errorf("expected stats %+v, got %+v", want.Stats, got.Stats)
	}
}
