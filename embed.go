package draftdesk

import "embed"

// EmbeddedAssets contains the browser script shipped with the desk:
// desk.js (generation progress, editor glue, list staleness socket).
//
//go:embed embedded/*
var EmbeddedAssets embed.FS
