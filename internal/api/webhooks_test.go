// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package api

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

const embyEpisodePayload = `{
	"Event": "library.new",
	"Item": {
		"Type": "Episode",
		"SeriesName": "葬送的芙莉莲",
		"ParentIndexNumber": 1,
		"IndexNumber": 5,
		"ProductionYear": 2023,
		"ProviderIds": {"Tmdb": "209867"}
	}
}`

func TestWebhookEmbyAccepted(t *testing.T) {
	h, db, _ := newTestServer(t)

	w := doRequest(t, h, http.MethodPost, "/api/webhook/emby", embyEpisodePayload)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Accepted int `json:"accepted"`
	}
	decodeResponse(t, w, &resp)
	if resp.Accepted != 1 {
		t.Fatalf("accepted = %d, want 1", resp.Accepted)
	}

	tasks, err := db.SearchTasks(context.Background(), nil, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("task rows = %d, want 1", len(tasks))
	}
}

func TestWebhookPlexMultipartPayload(t *testing.T) {
	h, _, _ := newTestServer(t)

	payload := `{
		"event": "library.new",
		"Metadata": {
			"type": "episode",
			"grandparentTitle": "药屋少女的呢喃",
			"parentIndex": 1,
			"index": 3,
			"year": 2023,
			"Guid": [{"id": "tmdb://123456"}]
		}
	}`

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("payload", payload); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	r := httptest.NewRequest(http.MethodPost, "/api/webhook/plex", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	r.Header.Set("X-API-Key", testAPIKey)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", w.Code, w.Body.String())
	}
}

func TestWebhookJellyfinFormPayload(t *testing.T) {
	h, _, _ := newTestServer(t)

	payload := `{
		"NotificationType": "ItemAdded",
		"ItemType": "Episode",
		"SeriesName": "咒术回战",
		"SeasonNumber": 2,
		"EpisodeNumber": 1,
		"PremiereDate": "2023-07-06T00:00:00Z",
		"Provider_tmdb": "95479"
	}`

	form := url.Values{"payload": {payload}}
	r := httptest.NewRequest(http.MethodPost, "/api/webhook/jellyfin", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-API-Key", testAPIKey)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", w.Code, w.Body.String())
	}
}

func TestWebhookDuplicateAnswersConflict(t *testing.T) {
	h, _, _ := newTestServer(t)

	w := doRequest(t, h, http.MethodPost, "/api/webhook/emby", embyEpisodePayload)
	if w.Code != http.StatusAccepted {
		t.Fatalf("first: status = %d, body %s", w.Code, w.Body.String())
	}
	w = doRequest(t, h, http.MethodPost, "/api/webhook/emby", embyEpisodePayload)
	if w.Code != http.StatusConflict {
		t.Fatalf("second: status = %d, want 409", w.Code)
	}
}

func TestWebhookUnknownSource(t *testing.T) {
	h, _, _ := newTestServer(t)
	w := doRequest(t, h, http.MethodPost, "/api/webhook/kodi", `{}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestWebhookIgnoredEventAcceptsZero(t *testing.T) {
	h, _, _ := newTestServer(t)
	w := doRequest(t, h, http.MethodPost, "/api/webhook/emby", `{"Event": "playback.start", "Item": {"Type": "Episode"}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	var resp struct {
		Accepted int `json:"accepted"`
	}
	decodeResponse(t, w, &resp)
	if resp.Accepted != 0 {
		t.Fatalf("accepted = %d, want 0", resp.Accepted)
	}
}
