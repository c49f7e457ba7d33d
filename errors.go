/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// Game error taxonomy. Handlers map these to HTTP statuses; everything
// else is treated as a store/internal failure.
var (
	errUncommittedPastGame = errors.New("no puzzle set was committed for this past date")
	errCatalogUnavailable  = errors.New("candidate catalog is unavailable")
	errUnresolvedOverride  = errors.New("override names could not be resolved")
	errUnauthorized        = errors.New("missing or invalid admin token")
	errOverridesDisabled   = errors.New("no admin token is configured; overrides are disabled")
	errMalformedOverride   = errors.New("override body must contain exactly one of fromCatalog, keys, or names")
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(getFavicon())
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
