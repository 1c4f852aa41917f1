// Package scaffold provides the embedded files written by `draftdesk init`.
package scaffold

import "embed"

// Templates contains the starter configuration files. Files use Go
// text/template syntax and have a .tmpl suffix.
//
//go:embed all:templates
var Templates embed.FS
