package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/anatolykoptev/go_sage/internal/engine"
)

// ErrNoTranscript means no caption track could be retrieved for a video.
// It is an expected outcome, not an upstream failure.
var ErrNoTranscript = errors.New("no transcript available")

// TranscriptFetcher returns the plain-text transcript of a video.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, videoID string) (string, error)
}

// YouTubeTranscripts fetches captions and caches them by video id.
type YouTubeTranscripts struct {
	Langs    []string
	MaxChars int
	Timeout  time.Duration // whole fetch, across fallbacks; 0 = none
}

// NewYouTubeTranscripts uses the caption languages and size cap from engine.Cfg.
func NewYouTubeTranscripts() *YouTubeTranscripts {
	return &YouTubeTranscripts{
		Langs:    engine.Cfg.TranscriptLangs,
		MaxChars: engine.Cfg.TranscriptMaxChars,
		Timeout:  engine.Cfg.FetchTimeout,
	}
}

// Fetch returns the transcript, or an error wrapping ErrNoTranscript when every
// retrieval path fails. Context cancellation is returned as-is.
func (t *YouTubeTranscripts) Fetch(ctx context.Context, videoID string) (string, error) {
	key := engine.CacheKey("transcript", videoID, strings.Join(t.Langs, ","))
	if data, ok := engine.CacheGet(ctx, key); ok {
		return string(data), nil
	}

	engine.IncrTranscriptRequests()
	fetchCtx := ctx
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	text, err := FetchYouTubeTranscript(fetchCtx, videoID, t.Langs)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		engine.IncrTranscriptMisses()
		if err == nil {
			err = errors.New("empty transcript")
		}
		return "", fmt.Errorf("%w: %w", ErrNoTranscript, err)
	}
	if t.MaxChars > 0 {
		text = engine.TruncateRunes(text, t.MaxChars, "")
	}

	engine.CacheSet(ctx, key, []byte(text))
	return text, nil
}

// FetchYouTubeTranscript tries, in order:
//  1. watch page ytInitialPlayerResponse → caption XML
//  2. engagement panel /next → /get_transcript
//  3. ANDROID Innertube /player → caption XML
func FetchYouTubeTranscript(ctx context.Context, videoID string, langs []string) (string, error) {
	text, err := fetchTranscriptViaPageScrape(ctx, videoID, langs)
	if err == nil {
		return text, nil
	}
	slog.Debug("youtube: page scrape failed, trying engagement panel",
		slog.String("id", videoID), slog.Any("error", err))

	if text, err = fetchTranscriptViaEngagementPanel(ctx, videoID); err == nil {
		return text, nil
	}
	slog.Debug("youtube: engagement panel failed, trying player",
		slog.String("id", videoID), slog.Any("error", err))

	return fetchTranscriptViaPlayer(ctx, videoID, langs)
}

const ytInitialPlayerResponseMarker = "ytInitialPlayerResponse = "

func fetchTranscriptViaPageScrape(ctx context.Context, videoID string, langs []string) (string, error) {
	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ytWatchURL(videoID), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", engine.UserAgentChrome)
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		return engine.Cfg.HTTPClient.Do(req)
	})
	if err != nil {
		return "", fmt.Errorf("watch page: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 6*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read watch page: %w", err)
	}

	idx := bytes.Index(body, []byte(ytInitialPlayerResponseMarker))
	if idx < 0 {
		return "", errors.New("ytInitialPlayerResponse not found")
	}
	raw := extractJSON(body[idx+len(ytInitialPlayerResponseMarker):])
	if raw == nil {
		return "", errors.New("unterminated ytInitialPlayerResponse")
	}

	var pr playerResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return "", fmt.Errorf("decode ytInitialPlayerResponse: %w", err)
	}
	return fetchBestTrack(ctx, pr, langs)
}

var getTranscriptRE = regexp.MustCompile(`"getTranscriptEndpoint":\{"params":"([^"]+)"`)

// extractTranscriptToken pulls the /get_transcript params out of a /next reply.
// The value is URL-encoded there and must be sent decoded.
func extractTranscriptToken(data []byte) (string, error) {
	m := getTranscriptRE.FindSubmatch(data)
	if len(m) < 2 {
		return "", errors.New("getTranscriptEndpoint not found in engagement panels")
	}
	decoded, err := url.QueryUnescape(string(m[1]))
	if err != nil {
		return string(m[1]), nil
	}
	return decoded, nil
}

func parseTranscriptSegments(resp getTranscriptResp) string {
	var parts []string
	for _, action := range resp.Actions {
		if action.UpdateEngagementPanelAction == nil {
			continue
		}
		segs := action.UpdateEngagementPanelAction.Content.
			TranscriptRenderer.Content.
			TranscriptSearchPanelRenderer.Body.
			TranscriptSegmentListRenderer.InitialSegments
		for _, seg := range segs {
			if seg.TranscriptSegmentRenderer == nil {
				continue
			}
			for _, run := range seg.TranscriptSegmentRenderer.Snippet.Runs {
				if run.Text != "" {
					parts = append(parts, run.Text)
				}
			}
		}
	}
	return strings.Join(parts, " ")
}

func fetchTranscriptViaEngagementPanel(ctx context.Context, videoID string) (string, error) {
	visitorData := generateVisitorData()

	nextData, err := postInnerTubeWEB(ctx, ytNextURL(), map[string]any{
		"videoId": videoID,
		"context": map[string]any{"client": webClientCtx(visitorData)},
	}, visitorData)
	if err != nil {
		return "", fmt.Errorf("/next: %w", err)
	}

	token, err := extractTranscriptToken(nextData)
	if err != nil {
		return "", err
	}

	data, err := postInnerTubeWEB(ctx, ytGetTranscriptURL(), map[string]any{
		"params":  token,
		"context": map[string]any{"client": webClientCtx(visitorData)},
	}, visitorData)
	if err != nil {
		return "", fmt.Errorf("/get_transcript: %w", err)
	}

	var tr getTranscriptResp
	if err := json.Unmarshal(data, &tr); err != nil {
		return "", fmt.Errorf("decode transcript: %w", err)
	}
	text := parseTranscriptSegments(tr)
	if text == "" {
		return "", errors.New("empty transcript segments")
	}
	return text, nil
}

func fetchTranscriptViaPlayer(ctx context.Context, videoID string, langs []string) (string, error) {
	reqBody, err := json.Marshal(innertubeReq{
		VideoID: videoID,
		Context: innertubeCtx{Client: innertubeClient{
			ClientName:        "ANDROID",
			ClientVersion:     ytAndroidVersion,
			AndroidSdkVersion: 30,
			Hl:                "en",
			Gl:                "US",
		}},
		RacyCheckOk:    true,
		ContentCheckOk: true,
	})
	if err != nil {
		return "", err
	}

	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ytPlayerURL()+"?prettyPrint=false", bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", ytAndroidUA)
		req.Header.Set("X-Youtube-Client-Name", "3")
		req.Header.Set("X-Youtube-Client-Version", ytAndroidVersion)
		return engine.Cfg.HTTPClient.Do(req)
	})
	if err != nil {
		return "", fmt.Errorf("android player: %w", err)
	}
	defer resp.Body.Close()

	var pr playerResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("decode player: %w", err)
	}
	if pr.Captions == nil && pr.PlayabilityStatus != nil && pr.PlayabilityStatus.Reason != "" {
		return "", fmt.Errorf("captions unavailable: %s", pr.PlayabilityStatus.Reason)
	}
	return fetchBestTrack(ctx, pr, langs)
}

func fetchBestTrack(ctx context.Context, pr playerResponse, langs []string) (string, error) {
	tracks := pr.tracks()
	if len(tracks) == 0 {
		return "", errors.New("no caption tracks")
	}
	track, ok := pickBestTrack(tracks, langs)
	if !ok {
		return "", errors.New("all caption tracks require PoToken")
	}
	return fetchTimedText(ctx, track.BaseURL)
}

// needsPoToken reports whether a caption URL is browser-only (&exp=xpe).
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

// pickBestTrack prefers a manual track in a preferred language, then an
// auto-generated one, then any English track, then the first usable one.
func pickBestTrack(tracks []captionTrack, langs []string) (captionTrack, bool) {
	usable := make([]captionTrack, 0, len(tracks))
	for _, t := range tracks {
		if !needsPoToken(t.BaseURL) {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return captionTrack{}, false
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return t, true
			}
		}
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang {
				return t, true
			}
		}
	}
	for _, t := range usable {
		if strings.HasPrefix(t.LanguageCode, "en") {
			return t, true
		}
	}
	return usable[0], true
}

func fetchTimedText(ctx context.Context, baseURL string) (string, error) {
	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", engine.UserAgentBot)
		return engine.Cfg.HTTPClient.Do(req)
	})
	if err != nil {
		return "", fmt.Errorf("fetch timedtext: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return "", err
	}

	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", fmt.Errorf("parse timedtext XML: %w", err)
	}

	parts := make([]string, 0, len(tt.Lines))
	for _, line := range tt.Lines {
		if text := engine.CleanHTML(line.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// extractJSON returns the balanced {...} object at the start of b, or nil.
func extractJSON(b []byte) []byte {
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	depth := 0
	inStr, escaped := false, false
	for i, c := range b {
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return b[:i+1]
			}
		}
	}
	return nil
}
