package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anatolykoptev/go_sage/internal/engine"
)

func TestPickBestTrack(t *testing.T) {
	tracks := []captionTrack{
		{BaseURL: "u1&exp=xpe", LanguageCode: "de"},
		{BaseURL: "u2", LanguageCode: "es", Kind: "asr"},
		{BaseURL: "u3", LanguageCode: "en", Kind: "asr"},
		{BaseURL: "u4", LanguageCode: "en"},
	}
	tests := []struct {
		name  string
		langs []string
		want  string
	}{
		{"manual preferred over asr", []string{"en"}, "u4"},
		{"asr in preferred language", []string{"es"}, "u2"},
		{"po token tracks skipped", []string{"de"}, "u4"},
		{"english fallback", []string{"fr"}, "u4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := pickBestTrack(tracks, tt.langs)
			if !ok || got.BaseURL != tt.want {
				t.Errorf("pickBestTrack() = %q (ok=%v), want %q", got.BaseURL, ok, tt.want)
			}
		})
	}

	if _, ok := pickBestTrack([]captionTrack{{BaseURL: "x&exp=xpe"}}, []string{"en"}); ok {
		t.Error("expected no usable track")
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"simple", `{"a":1};var x`, `{"a":1}`},
		{"nested", `{"a":{"b":"}"}} trailing`, `{"a":{"b":"}"}}`},
		{"escaped quote", `{"a":"x\"}"};`, `{"a":"x\"}"}`},
		{"escaped backslash", `{"a":"x\\"};`, `{"a":"x\\"}`},
		{"not an object", `[1,2]`, ""},
		{"unterminated", `{"a":1`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(extractJSON([]byte(tt.in))); got != tt.want {
				t.Errorf("extractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractTranscriptToken(t *testing.T) {
	data := []byte(`{"x":{"getTranscriptEndpoint":{"params":"CgtB%3D%3D"}}}`)
	got, err := extractTranscriptToken(data)
	if err != nil {
		t.Fatal(err)
	}
	if got != "CgtB==" {
		t.Errorf("token = %q, want decoded CgtB==", got)
	}
	if _, err := extractTranscriptToken([]byte(`{}`)); err == nil {
		t.Error("expected error without endpoint")
	}
}

// fakeYouTubeWeb serves a watch page, caption XML and Innertube endpoints.
func fakeYouTubeWeb(t *testing.T, withCaptions bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var watchHits atomic.Int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		watchHits.Add(1)
		if !withCaptions {
			fmt.Fprint(w, `<html><body>no player here</body></html>`)
			return
		}
		fmt.Fprintf(w, `<html><script>var ytInitialPlayerResponse = {"captions":{"playerCaptionsTracklistRenderer":{"captionTracks":[{"baseUrl":"%s/timedtext?v=%s","languageCode":"en","kind":"asr"}]}}};</script></html>`,
			srv.URL, r.URL.Query().Get("v"))
	})
	mux.HandleFunc("/timedtext", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0" encoding="utf-8" ?><transcript><text start="0" dur="2">I&amp;#39;m buying</text><text start="2" dur="2">the dip at $420</text></transcript>`)
	})
	mux.HandleFunc("/youtubei/v1/next", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	mux.HandleFunc("/youtubei/v1/player", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"playabilityStatus":{"status":"LOGIN_REQUIRED","reason":"Sign in to confirm"}}`)
	})
	return srv, &watchHits
}

func useFakeYouTubeWeb(t *testing.T, srv *httptest.Server) {
	t.Helper()
	prev := ytBaseURL
	ytBaseURL = srv.URL
	t.Cleanup(func() { ytBaseURL = prev })
	engine.Init(engine.Config{HTTPClient: srv.Client()})
	engine.InitCache(nil, time.Minute, 100, time.Minute)
}

func TestTranscriptFetchFromWatchPage(t *testing.T) {
	srv, watchHits := fakeYouTubeWeb(t, true)
	useFakeYouTubeWeb(t, srv)

	tr := &YouTubeTranscripts{Langs: []string{"en"}}
	text, err := tr.Fetch(context.Background(), "vid00000001")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if want := "I'm buying the dip at $420"; text != want {
		t.Errorf("text = %q, want %q", text, want)
	}

	if _, err := tr.Fetch(context.Background(), "vid00000001"); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if got := watchHits.Load(); got != 1 {
		t.Errorf("watch page hits = %d, want 1 (second call cached)", got)
	}
}

func TestTranscriptFetchTruncates(t *testing.T) {
	srv, _ := fakeYouTubeWeb(t, true)
	useFakeYouTubeWeb(t, srv)

	tr := &YouTubeTranscripts{Langs: []string{"en"}, MaxChars: 10}
	text, err := tr.Fetch(context.Background(), "vid00000002")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len([]rune(text)) > 10 {
		t.Errorf("text not truncated: %q", text)
	}
}

func TestTranscriptFetchNoCaptions(t *testing.T) {
	srv, _ := fakeYouTubeWeb(t, false)
	useFakeYouTubeWeb(t, srv)

	tr := &YouTubeTranscripts{Langs: []string{"en"}}
	_, err := tr.Fetch(context.Background(), "vid00000003")
	if !errors.Is(err, ErrNoTranscript) {
		t.Fatalf("got %v, want ErrNoTranscript", err)
	}
}
