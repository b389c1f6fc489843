package plugin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"Tidelink/core/link"

	"github.com/google/go-cmp/cmp"
)

var _ link.SourcePlugin = (*Netease)(nil)

func newNeteaseAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("keywords") != "晴天" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("search query = %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"code":200,"result":{"songs":[
			{"id":186016,"name":"晴天","artists":[{"name":"周杰伦"}],"album":{"name":"叶惠美","picUrl":"https://p1/cover.jpg"},"duration":269000},
			{"id":99,"name":"受限","artists":[{"name":"A"},{"name":"B"}],"album":{"name":"x"},"duration":1000}
		]}}`))
	})
	mux.HandleFunc("/song/url/v1", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "186016,99" {
			t.Errorf("url ids = %s", r.URL.Query().Get("id"))
		}
		if c, err := r.Cookie("os"); err != nil || c.Value != "pc" {
			t.Errorf("missing os cookie")
		}
		w.Write([]byte(`{"code":200,"data":[{"id":186016,"url":"https://m1/186016.mp3"},{"id":99,"url":""}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNeteaseSearch(t *testing.T) {
	srv := newNeteaseAPI(t)
	p := NewNetease(srv.URL + "/")

	res, err := p.Search(context.Background(), "晴天", link.SearchOptions{Requester: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Type != link.ResultSearch || len(res.Tracks) != 1 {
		t.Fatalf("type %s, %d tracks", res.Type, len(res.Tracks))
	}

	got := res.Tracks[0]
	want := []any{"186016", "周杰伦", "晴天", int64(269000), "https://m1/186016.mp3", "netease", "u1", ""}
	have := []any{got.Identifier, got.Author, got.Title, got.Duration, got.URI, got.Source, got.Requester, got.DriverName}
	if diff := cmp.Diff(want, have); diff != "" {
		t.Errorf("track mismatch (-want +got):\n%s", diff)
	}
	if got.IsPlayable() {
		t.Error("plugin track must be resolved by a node before playing")
	}
}

func TestNeteaseAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":400}`))
	}))
	defer srv.Close()

	if _, err := NewNetease(srv.URL).Search(context.Background(), "x", link.SearchOptions{}); err == nil {
		t.Error("Search() succeeded on API error code")
	}
}
