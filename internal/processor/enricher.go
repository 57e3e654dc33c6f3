package processor

import (
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/model"
)

// agentURL finds the first URL in a user agent, as crawlers advertise
// their info page ("+http://www.google.com/bot.html").
var agentURL = regexp.MustCompile(`https?://(www\.)?(.*?)[/; ]`)

// Enricher adds derived fields and metadata to parsed entries.
type Enricher struct {
	cfg      config.EnricherConfig
	hostname string
}

// NewEnricher creates a new enrichment processor.
func NewEnricher(cfg config.EnricherConfig) *Enricher {
	e := &Enricher{cfg: cfg, hostname: cfg.Hostname}

	if cfg.AddHostname && e.hostname == "" {
		e.hostname, _ = os.Hostname()
	}

	return e
}

// Name returns the processor identifier.
func (e *Enricher) Name() string {
	return "enricher"
}

// Process enriches the entry with agent_domain, hostname and static labels.
func (e *Enricher) Process(_ context.Context, entry *model.Entry) error {
	if !e.cfg.Enabled {
		return nil
	}

	if e.cfg.AgentDomain && entry.Record != nil {
		if _, ok := entry.Record.Extra("agent_domain"); !ok {
			if domain := AgentDomain(entry.Record.Agent); domain != "" {
				if entry.Record.Extras == nil {
					entry.Record.Extras = make(map[string]string)
				}
				entry.Record.Extras["agent_domain"] = domain
			}
		}
	}

	if e.cfg.AddHostname && e.hostname != "" {
		entry.Metadata["hostname"] = e.hostname
	}

	for k, v := range e.cfg.StaticLabels {
		entry.Metadata[k] = v
	}

	return nil
}

// AgentDomain returns the lower-cased domain of the first URL in a user
// agent, without a leading "www.", or "" when there is none.
func AgentDomain(agent string) string {
	m := agentURL.FindStringSubmatch(agent)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[2])
}
