// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

package config

// Runtime config keys. Everything listed here is operator-editable
// through the control API; keys not in this table are rejected.
const (
	KeyExternalAPIKey             = "externalApiKey"
	KeyTaskDuplicateWindowHours   = "taskDuplicateWindowHours"
	KeyWebhookFilterMode          = "webhookFilterMode"
	KeyWebhookFilterRegex         = "webhookFilterRegex"
	KeyWebhookDelayedImport       = "webhookDelayedImportEnabled"
	KeyWebhookDelayedImportHours  = "webhookDelayedImportHours"
	KeyNameConversionEnabled      = "nameConversionEnabled"
	KeyMetadataSourcePriority     = "metadataSourcePriority"
	KeyAIMatchEnabled             = "aiMatchEnabled"
	KeyAIProvider                 = "aiProvider"
	KeyAIAPIKey                   = "aiApiKey"
	KeyAIBaseURL                  = "aiBaseUrl"
	KeyAIModel                    = "aiModel"
	KeyAIMatchPrompt              = "aiMatchPrompt"
	KeyAIMetadataPrompt           = "aiMetadataPrompt"
	KeyFallbackVerification       = "fallbackVerificationEnabled"
	KeySmartRefreshEnabled        = "smartRefreshEnabled"
	KeyProviderTimeoutSeconds     = "providerTimeoutSeconds"
	KeyTMDBAPIKey                 = "tmdbApiKey"
	KeyTMDBReverseLookupEnabled   = "tmdbReverseLookupEnabled"
	KeySearchDisplayOrder         = "searchDisplayOrder"
)

// Defaults returns the descriptor table registered at startup.
func Defaults() []Descriptor {
	return []Descriptor{
		{KeyExternalAPIKey, KindString, "", "API key for the external control API"},
		{KeyTaskDuplicateWindowHours, KindInteger, "3", "Window in hours during which duplicate unique keys are rejected"},
		{KeyWebhookFilterMode, KindString, "blacklist", "Webhook filter mode: blacklist or whitelist"},
		{KeyWebhookFilterRegex, KindText, "", "Regex applied to normalized webhook titles"},
		{KeyWebhookDelayedImport, KindBoolean, "false", "Queue webhook imports instead of submitting immediately"},
		{KeyWebhookDelayedImportHours, KindInteger, "24", "Delay in hours for queued webhook imports"},
		{KeyNameConversionEnabled, KindBoolean, "false", "Convert non-Chinese titles before provider search"},
		{KeyMetadataSourcePriority, KindString, "tmdb,tvdb,bangumi,douban,imdb", "Metadata source order for name conversion"},
		{KeyAIMatchEnabled, KindBoolean, "false", "Use the LLM matcher for candidate tie-breaks"},
		{KeyAIProvider, KindString, "openai", "LLM provider"},
		{KeyAIAPIKey, KindString, "", "LLM API key"},
		{KeyAIBaseURL, KindString, "", "LLM API base URL (OpenAI-compatible)"},
		{KeyAIModel, KindString, "gpt-4o-mini", "LLM model"},
		{KeyAIMatchPrompt, KindText, "", "Override prompt for candidate matching"},
		{KeyAIMetadataPrompt, KindText, "", "Override prompt for metadata selection"},
		{KeyFallbackVerification, KindBoolean, "false", "Probe episode 1 of the chosen candidate before import"},
		{KeySmartRefreshEnabled, KindBoolean, "false", "Only overwrite stored danmaku when the new list is larger"},
		{KeyProviderTimeoutSeconds, KindInteger, "30", "Per-call deadline for provider requests"},
		{KeyTMDBAPIKey, KindString, "", "TMDB API key"},
		{KeyTMDBReverseLookupEnabled, KindBoolean, "true", "Map non-Chinese titles to Chinese via TMDB"},
		{KeySearchDisplayOrder, KindText, "", "Comma-separated provider order used as the primary rank key"},
	}
}
