// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package scraper

import (
	"context"
	"testing"
)

func TestParsePayloadXML(t *testing.T) {
	payload := `<?xml version="1.0" encoding="UTF-8"?>
<i>
  <d p="12.5,1,25,16777215">前方高能</d>
  <d p="60,4,25,16711680">名场面</d>
  <d p="">   </d>
</i>`

	comments := ParsePayload(payload)
	if len(comments) != 2 {
		t.Fatalf("got %d comments, want 2", len(comments))
	}
	if comments[0].Timestamp != 12.5 || comments[0].Text != "前方高能" {
		t.Errorf("first comment = %+v", comments[0])
	}
	if comments[0].Style != "12.5,1,25,16777215" {
		t.Errorf("style = %q", comments[0].Style)
	}
	if comments[1].Timestamp != 60 {
		t.Errorf("second timestamp = %v", comments[1].Timestamp)
	}
}

func TestParsePayloadPlainText(t *testing.T) {
	comments := ParsePayload("第一条\n\n第二条\n")
	if len(comments) != 2 {
		t.Fatalf("got %d comments, want 2", len(comments))
	}
	if comments[0].Text != "第一条" || comments[0].Timestamp != 0 {
		t.Errorf("first comment = %+v", comments[0])
	}
}

func TestParsePayloadEmpty(t *testing.T) {
	if got := ParsePayload("   \n "); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestCustomStagedPayloadConsumedOnce(t *testing.T) {
	c := NewCustom()
	id := c.StagePayload("一条弹幕")

	comments, err := c.GetComments(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("GetComments: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("got %d comments, want 1", len(comments))
	}

	again, err := c.GetComments(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("second GetComments: %v", err)
	}
	if again != nil {
		t.Errorf("payload not consumed: %v", again)
	}
}
