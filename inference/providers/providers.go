// Package providers registers every built-in inference provider kind. Import
// it for side effects before calling inference.Build.
package providers

import (
	_ "github.com/hupe1980/agenttown/inference/anthropic" // registers "anthropic"
	_ "github.com/hupe1980/agenttown/inference/openai"    // registers "openai"
)
