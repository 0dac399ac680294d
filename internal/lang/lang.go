// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

// Package lang classifies title strings by script. The name-conversion
// and reverse-lookup flows only need one question answered: is this
// title already Chinese?
package lang

import "unicode"

// IsChinese reports whether s contains at least one CJK ideograph and no
// Hiragana or Katakana. Japanese titles routinely mix kanji with kana,
// so the presence of kana overrides the ideograph check.
func IsChinese(s string) bool {
	hasHan := false
	for _, r := range s {
		if unicode.In(r, unicode.Hiragana, unicode.Katakana) {
			return false
		}
		if unicode.Is(unicode.Han, r) {
			hasHan = true
		}
	}
	return hasHan
}

// HasKana reports whether s contains any Hiragana or Katakana.
func HasKana(s string) bool {
	for _, r := range s {
		if unicode.In(r, unicode.Hiragana, unicode.Katakana) {
			return true
		}
	}
	return false
}

// ContainsHan reports whether s contains any CJK ideograph.
func ContainsHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}
