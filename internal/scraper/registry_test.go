// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package scraper

import "testing"

func TestSearchLockNonReentrant(t *testing.T) {
	r := NewRegistry()
	holder := LockHolder{Kind: LockHolderTask, ID: "task-1"}

	if !r.AcquireSearchLock(holder) {
		t.Fatal("first acquire should succeed")
	}
	if r.AcquireSearchLock(holder) {
		t.Error("re-acquire by the same holder should fail")
	}
	if r.AcquireSearchLock(LockHolder{Kind: LockHolderAPIToken, ID: "tok"}) {
		t.Error("acquire by another holder should fail while held")
	}
	if r.ReleaseSearchLock(LockHolder{Kind: LockHolderTask, ID: "other"}) {
		t.Error("mismatched release should be refused")
	}
	if !r.ReleaseSearchLock(holder) {
		t.Error("matched release should succeed")
	}
	if got := r.SearchLockHolder(); got != nil {
		t.Errorf("holder after release = %+v", got)
	}
	if !r.AcquireSearchLock(holder) {
		t.Error("acquire after release should succeed")
	}
}

func TestRegistryOrderAndQuota(t *testing.T) {
	r := NewRegistry()
	c := NewCustom()
	r.Register(c)

	names := r.Names()
	if len(names) != 1 || names[0] != CustomProviderName {
		t.Fatalf("names = %v", names)
	}
	if q := r.Quota(CustomProviderName); q != nil {
		t.Errorf("custom provider quota = %v, want nil", q)
	}
	if _, err := r.Get("missing"); err != ErrScraperNotFound {
		t.Errorf("err = %v, want ErrScraperNotFound", err)
	}
}
