package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nekozuka/imgcatcher/internal/model"
)

// newPixivTestServer serves both the OAuth token endpoint and the illust
// search endpoint from one server so the BaseURL override covers both.
func newPixivTestServer(t *testing.T, authCalls *atomic.Int64, search http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		authCalls.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse token form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("expected grant_type=refresh_token, got %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "refresh-abc" {
			t.Errorf("expected the configured refresh token, got %q", got)
		}
		fmt.Fprint(w, `{"access_token":"access-xyz","refresh_token":"refresh-abc"}`)
	})
	mux.HandleFunc("/v1/search/illust", search)
	return httptest.NewServer(mux)
}

func pixivTestOptions(t *testing.T, baseURL string) Options {
	t.Helper()

	opts := testOptions(t, baseURL)
	opts.Credentials.RefreshToken = "refresh-abc"
	return opts
}

func TestPixivSearchAuthenticatesAndPages(t *testing.T) {
	t.Parallel()

	var authCalls atomic.Int64
	var bearer string
	srv := newPixivTestServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
		bearer = r.Header.Get("Authorization")
		switch r.URL.Query().Get("offset") {
		case "0":
			fmt.Fprint(w, `{"illusts":[
				{"id":101,"title":"Sky","user":{"name":"artist-a"},"tags":[{"name":"sky"},{"name":"cloud"}],
				 "image_urls":{"large":"https://i.example/101_large.jpg"},"width":1200,"height":900,"total_bookmarks":300},
				{"id":102,"title":"Sea","user":{"name":"artist-b"},
				 "image_urls":{"medium":"https://i.example/102_medium.jpg"},"total_bookmarks":50}
			],"next_url":"https://app-api.pixiv.net/v1/search/illust?offset=30"}`)
		case "30":
			fmt.Fprint(w, `{"illusts":[
				{"id":103,"title":"Wood","user":{"name":"artist-c"},
				 "image_urls":{"large":"https://i.example/103_large.jpg"},"total_bookmarks":7}
			],"next_url":""}`)
		default:
			fmt.Fprint(w, `{"illusts":[],"next_url":""}`)
		}
	})
	defer srv.Close()

	adapter := newPixiv(pixivTestOptions(t, srv.URL))
	pager := adapter.Search("sky", 10, model.FilterCriteria{})
	ctx := context.Background()

	first, err := pager.Next(ctx)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 records on first page, got %d", len(first))
	}
	if bearer != "Bearer access-xyz" {
		t.Errorf("expected bearer token on search request, got %q", bearer)
	}
	if first[0].Title != "Sky" || first[0].Artist != "artist-a" {
		t.Errorf("unexpected first record %+v", first[0])
	}
	if len(first[0].Tags) != 2 || first[0].Tags[0] != "sky" {
		t.Errorf("unexpected tags %v", first[0].Tags)
	}
	if first[0].Score != 300 {
		t.Errorf("expected bookmark count as score, got %d", first[0].Score)
	}
	// Medium URL is the fallback when no large rendition exists.
	if first[1].SourceURL != "https://i.example/102_medium.jpg" {
		t.Errorf("unexpected fallback URL %q", first[1].SourceURL)
	}

	second, err := pager.Next(ctx)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second) != 1 || second[0].Title != "Wood" {
		t.Fatalf("unexpected second page %+v", second)
	}

	// Empty next_url ends the walk.
	third, err := pager.Next(ctx)
	if err != nil {
		t.Fatalf("exhausted pager: %v", err)
	}
	if third != nil {
		t.Fatalf("expected exhaustion, got %d records", len(third))
	}

	// One token exchange serves the whole search.
	if got := authCalls.Load(); got != 1 {
		t.Errorf("expected 1 token exchange, got %d", got)
	}
}

func TestPixivReauthenticatesAfterTokenExpiry(t *testing.T) {
	t.Parallel()

	var authCalls atomic.Int64
	srv := newPixivTestServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"illusts":[
			{"id":1,"title":"A","user":{"name":"x"},"image_urls":{"large":"https://i.example/1.jpg"},"total_bookmarks":1}
		],"next_url":"next"}`)
	})
	defer srv.Close()

	adapter := newPixiv(pixivTestOptions(t, srv.URL))
	now := time.Now()
	adapter.now = func() time.Time { return now }

	ctx := context.Background()
	pager := adapter.Search("a", 10, model.FilterCriteria{})
	if _, err := pager.Next(ctx); err != nil {
		t.Fatalf("first page: %v", err)
	}
	if got := authCalls.Load(); got != 1 {
		t.Fatalf("expected 1 token exchange, got %d", got)
	}

	// Within the reuse window the token is not refreshed.
	now = now.Add(49 * time.Minute)
	if _, err := pager.Next(ctx); err != nil {
		t.Fatalf("second page: %v", err)
	}
	if got := authCalls.Load(); got != 1 {
		t.Fatalf("expected token reuse at 49 minutes, got %d exchanges", got)
	}

	// Past 50 minutes the next request triggers a refresh.
	now = now.Add(2 * time.Minute)
	if _, err := pager.Next(ctx); err != nil {
		t.Fatalf("third page: %v", err)
	}
	if got := authCalls.Load(); got != 2 {
		t.Fatalf("expected re-authentication after expiry, got %d exchanges", got)
	}
}

func TestPixivAuthFailureIsFatal(t *testing.T) {
	t.Parallel()

	requests := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, `{"has_error":true}`, http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	adapter := newPixiv(pixivTestOptions(t, srv.URL))
	_, err := adapter.Search("a", 10, model.FilterCriteria{}).Next(context.Background())
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	// Credential failures are not retried.
	if requests != 1 {
		t.Errorf("expected a single token request, got %d", requests)
	}
}

func TestPixivMissingRefreshToken(t *testing.T) {
	t.Parallel()

	opts := testOptions(t, "http://127.0.0.1:0")
	adapter := newPixiv(opts)
	_, err := adapter.Search("a", 5, model.FilterCriteria{}).Next(context.Background())
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication without a refresh token, got %v", err)
	}
}

func TestPixivMinBookmarksFilter(t *testing.T) {
	t.Parallel()

	var authCalls atomic.Int64
	srv := newPixivTestServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("offset") {
		case "0":
			// Whole page below the threshold: the pager keeps walking.
			fmt.Fprint(w, `{"illusts":[
				{"id":1,"image_urls":{"large":"https://i.example/1.jpg"},"total_bookmarks":10},
				{"id":2,"image_urls":{"large":"https://i.example/2.jpg"},"total_bookmarks":20}
			],"next_url":"next"}`)
		case "30":
			fmt.Fprint(w, `{"illusts":[
				{"id":3,"image_urls":{"large":"https://i.example/3.jpg"},"total_bookmarks":500},
				{"id":4,"image_urls":{"large":"https://i.example/4.jpg"},"total_bookmarks":80}
			],"next_url":""}`)
		default:
			fmt.Fprint(w, `{"illusts":[],"next_url":""}`)
		}
	})
	defer srv.Close()

	adapter := newPixiv(pixivTestOptions(t, srv.URL))
	criteria := model.FilterCriteria{MinBookmarks: 100}
	records, err := adapter.Search("a", 10, criteria).Next(context.Background())
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(records) != 1 || records[0].Score != 500 {
		t.Fatalf("expected only the 500-bookmark record, got %+v", records)
	}
}

func TestPixivSearchParamsOnWire(t *testing.T) {
	t.Parallel()

	var authCalls atomic.Int64
	var query map[string][]string
	srv := newPixivTestServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		fmt.Fprint(w, `{"illusts":[],"next_url":""}`)
	})
	defer srv.Close()

	adapter := newPixiv(pixivTestOptions(t, srv.URL))
	criteria := model.FilterCriteria{Sort: "popular"}
	if _, err := adapter.Search("風景", 5, criteria).Next(context.Background()); err != nil {
		t.Fatalf("search: %v", err)
	}

	if got := query["word"]; len(got) != 1 || got[0] != "風景" {
		t.Errorf("unexpected word param %v", got)
	}
	if got := query["search_target"]; len(got) != 1 || got[0] != "partial_match_for_tags" {
		t.Errorf("unexpected search_target %v", got)
	}
	if got := query["sort"]; len(got) != 1 || got[0] != "popular_desc" {
		t.Errorf("expected popular mapped to popular_desc, got %v", got)
	}
	if got := query["offset"]; len(got) != 1 || got[0] != "0" {
		t.Errorf("unexpected offset %v", got)
	}
}

func TestPixivDownloadSendsReferer(t *testing.T) {
	t.Parallel()

	var referer string
	mux := http.NewServeMux()
	mux.HandleFunc("/img/1.jpg", func(w http.ResponseWriter, r *http.Request) {
		referer = r.Header.Get("Referer")
		_, _ = w.Write([]byte("jpeg"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	adapter := newPixiv(pixivTestOptions(t, srv.URL))
	dest := t.TempDir() + "/1.jpg"
	if err := adapter.DownloadImage(context.Background(), srv.URL+"/img/1.jpg", dest); err != nil {
		t.Fatalf("download: %v", err)
	}
	if referer != "https://www.pixiv.net/" {
		t.Errorf("expected pixiv referer, got %q", referer)
	}
}
