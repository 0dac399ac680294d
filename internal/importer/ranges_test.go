// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package importer

import (
	"reflect"
	"testing"
)

func TestEncodeRanges(t *testing.T) {
	tests := []struct {
		indices []int
		want    string
	}{
		{nil, ""},
		{[]int{1}, "1"},
		{[]int{1, 2, 3}, "1-3"},
		{[]int{3, 1, 2, 5, 10, 8, 9}, "1-3, 5, 8-10"},
		{[]int{4, 4, 5}, "4-5"},
		{[]int{7, 2}, "2, 7"},
	}
	for _, tt := range tests {
		if got := EncodeRanges(tt.indices); got != tt.want {
			t.Errorf("EncodeRanges(%v) = %q, want %q", tt.indices, got, tt.want)
		}
	}
}

func TestDecodeRanges(t *testing.T) {
	got, err := DecodeRanges("1-3,6,8,10-13")
	if err != nil {
		t.Fatalf("DecodeRanges: %v", err)
	}
	want := []int{1, 2, 3, 6, 8, 10, 11, 12, 13}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DecodeRanges = %v, want %v", got, want)
	}

	// Overlapping parts collapse.
	got, err = DecodeRanges("2-4, 3, 4-5")
	if err != nil {
		t.Fatalf("DecodeRanges: %v", err)
	}
	if !reflect.DeepEqual(got, []int{2, 3, 4, 5}) {
		t.Errorf("DecodeRanges overlap = %v", got)
	}

	for _, bad := range []string{"0", "abc", "5-2", "1-x", "-3"} {
		if _, err := DecodeRanges(bad); err == nil {
			t.Errorf("DecodeRanges(%q) accepted invalid input", bad)
		}
	}
}

func TestRangesRoundTrip(t *testing.T) {
	in := []int{1, 2, 3, 7, 9, 10}
	decoded, err := DecodeRanges(EncodeRanges(in))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if !reflect.DeepEqual(decoded, in) {
		t.Errorf("round trip = %v, want %v", decoded, in)
	}
}
