package driver_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"Tidelink/driver"
	"Tidelink/model"

	"github.com/google/go-cmp/cmp"
)

type nopListener struct{}

func (nopListener) WSOpen()                  {}
func (nopListener) WSMessage(*model.Message) {}
func (nopListener) WSError(error)            {}
func (nopListener) WSClose(int, string)      {}

func configFor(t *testing.T, srv *httptest.Server, dialect string) driver.NodeConfig {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	return driver.NodeConfig{Name: "test", Host: host, Port: port, Auth: "secret", Driver: dialect}
}

func TestRegistryFallback(t *testing.T) {
	reg := driver.NewRegistry()

	tc := []struct {
		name    string
		dialect string
		want    string
	}{
		{name: "lavalink v4", dialect: driver.Lavalink4ID, want: driver.Lavalink4ID},
		{name: "lavalink v3", dialect: driver.Lavalink3ID, want: driver.Lavalink3ID},
		{name: "nodelink", dialect: driver.Nodelink2ID, want: driver.Nodelink2ID},
		{name: "frequenc", dialect: driver.FrequenCID, want: driver.FrequenCID},
		{name: "unknown falls back", dialect: "something/else", want: driver.Lavalink4ID},
		{name: "empty falls back", dialect: "", want: driver.Lavalink4ID},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			d, err := reg.New(driver.NodeConfig{Host: "localhost", Port: 2333, Driver: tt.dialect}, driver.Options{}, nopListener{})
			if err != nil {
				t.Fatal(err)
			}
			if d.ID() != tt.want {
				t.Errorf("ID() = %q, want %q", d.ID(), tt.want)
			}
		})
	}
}

func TestURLs(t *testing.T) {
	reg := driver.NewRegistry()
	tc := []struct {
		dialect string
		secure  bool
		ws      string
		http    string
	}{
		{dialect: driver.Lavalink4ID, ws: "ws://node:2333/v4/websocket", http: "http://node:2333/v4"},
		{dialect: driver.Lavalink4ID, secure: true, ws: "wss://node:2333/v4/websocket", http: "https://node:2333/v4"},
		{dialect: driver.Lavalink3ID, ws: "ws://node:2333/", http: "http://node:2333"},
		{dialect: driver.Nodelink2ID, ws: "ws://node:2333/v4/websocket", http: "http://node:2333/v4"},
		{dialect: driver.FrequenCID, ws: "ws://node:2333/v1/websocket", http: "http://node:2333/v1"},
	}
	for _, tt := range tc {
		d, _ := reg.New(driver.NodeConfig{Host: "node", Port: 2333, Secure: tt.secure, Driver: tt.dialect}, driver.Options{}, nopListener{})
		if d.WSURL() != tt.ws || d.HTTPURL() != tt.http {
			t.Errorf("%s: urls = %q %q, want %q %q", tt.dialect, d.WSURL(), d.HTTPURL(), tt.ws, tt.http)
		}
	}
}

func TestLavalink4Requester(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v4/info", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"jvm":"21"}`)
	})
	mux.HandleFunc("/v4/sessions/abc/players/1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/v4/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := driver.NewLavalink4(configFor(t, srv, driver.Lavalink4ID), driver.Options{UserAgent: "test"}, nopListener{})
	ctx := context.Background()

	data, err := d.Requester(ctx, &driver.Request{Path: "/info"})
	if err != nil || string(data) != `{"jvm":"21"}` {
		t.Errorf("GET /info = %s, %v", data, err)
	}

	if data, err = d.Requester(ctx, &driver.Request{Path: "/broken"}); err != nil || data != nil {
		t.Errorf("non-200 = %s, %v; want nil, nil", data, err)
	}

	_, err = d.Requester(ctx, &driver.Request{Path: "/sessions/abc/players/1", Method: http.MethodDelete})
	if !errors.Is(err, driver.ErrSessionNotReady) {
		t.Errorf("request before ready: err = %v, want ErrSessionNotReady", err)
	}

	d.SetSessionID("abc")
	if data, err = d.Requester(ctx, &driver.Request{Path: "/sessions/abc/players/1", Method: http.MethodDelete}); err != nil || data != nil {
		t.Errorf("204 = %s, %v; want nil, nil", data, err)
	}
}

func TestDecodeTrackIsLocal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected network request to %s", r.URL.Path)
	}))
	defer srv.Close()

	d := driver.NewLavalink4(configFor(t, srv, driver.Lavalink4ID), driver.Options{}, nopListener{})
	q := url.Values{}
	q.Set("encodedTrack", "QAAAjQIAJVJpY2sgQXN0bGV5IC0gTmV2ZXIgR29ubmEgR2l2ZSBZb3UgVXAADlJpY2tBc3RsZXlWRVZPAAAAAAADPCAAC2RRdzR3OVdnWGNRAAEAK2h0dHBzOi8vd3d3LnlvdXR1YmUuY29tL3dhdGNoP3Y9ZFF3NHc5V2dYY1EAB3lvdXR1YmUAAAAAAAAAAA==")
	data, err := d.Requester(context.Background(), &driver.Request{Path: "/decodetrack", Query: q})
	if err != nil {
		t.Fatal(err)
	}
	var track model.RawTrack
	if err := json.Unmarshal(data, &track); err != nil {
		t.Fatal(err)
	}
	if track.Info.Author != "RickAstleyVEVO" {
		t.Errorf("author = %q", track.Info.Author)
	}
}

func TestFrequenCRequester(t *testing.T) {
	var gotBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sessions/s1/players/7", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Error(err)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		io.WriteString(w, `{"guild_id":"7","state":{"is_connected":true}}`)
	})
	mux.HandleFunc("/v1/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "1.0.0")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := driver.NewFrequenC(configFor(t, srv, driver.FrequenCID), driver.Options{}, nopListener{})
	d.SetSessionID("s1")
	ctx := context.Background()

	data, err := d.Requester(ctx, &driver.Request{
		Path:   "/sessions/s1/players/7",
		Method: http.MethodPatch,
		Body:   model.UpdatePlayerOptions{Paused: model.Ptr(true), EndTime: model.Ptr[int64](5)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"paused": true, "end_time": float64(5)}, gotBody); diff != "" {
		t.Errorf("request body mismatch (-want +got):\n%s", diff)
	}
	var resp map[string]any
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"guildId": "7", "state": map[string]any{"isConnected": true}}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}

	data, err = d.Requester(ctx, &driver.Request{Path: "/version"})
	if err != nil || string(data) != `{"rawData":"1.0.0"}` {
		t.Errorf("text response = %s, %v", data, err)
	}
}

func TestNodelinkLoadTypeRemap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("identifier") {
		case "short":
			io.WriteString(w, `{"loadType":"shorts","data":{"encoded":"x","info":{}}}`)
		default:
			io.WriteString(w, `{"loadType":"album","data":{"info":{"name":"A"},"tracks":[]}}`)
		}
	}))
	defer srv.Close()

	d := driver.NewNodelink2(configFor(t, srv, driver.Nodelink2ID), driver.Options{}, nopListener{})
	for identifier, want := range map[string]model.LoadType{"short": model.LoadTypeTrack, "album": model.LoadTypePlaylist} {
		q := url.Values{}
		q.Set("identifier", identifier)
		data, err := d.Requester(context.Background(), &driver.Request{Path: "/loadtracks", Query: q})
		if err != nil {
			t.Fatal(err)
		}
		var result model.LoadResult
		if err := json.Unmarshal(data, &result); err != nil {
			t.Fatal(err)
		}
		if result.LoadType != want {
			t.Errorf("%s: loadType = %q, want %q", identifier, result.LoadType, want)
		}
	}
	if _, ok := d.(driver.LyricsLoader); !ok {
		t.Error("nodelink driver does not expose lyrics")
	}
}
