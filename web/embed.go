// Package web embeds the HTML templates and static assets.
package web

import "embed"

// TemplatesFS holds the page templates.
//
//go:embed templates/*.html
var TemplatesFS embed.FS

// StaticFS holds stylesheets and other static assets.
//
//go:embed static
var StaticFS embed.FS
