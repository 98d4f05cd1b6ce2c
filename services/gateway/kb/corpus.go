// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package kb implements the bilingual website knowledge base: a small
// static corpus scored with BM25 and used as a short-circuit before any
// model call. It is tiny and read-only at runtime: a lookup table with
// ranking, not a search engine.
package kb

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is one knowledge-base entry. Content is what gets scored;
// the summaries are what gets answered, picked by conversation
// language with Content as the last resort.
type Document struct {
	ID        string `yaml:"id"`
	Lang      string `yaml:"lang"`
	Title     string `yaml:"title"`
	Content   string `yaml:"content"`
	SummaryEn string `yaml:"summary_en"`
	SummaryEs string `yaml:"summary_es"`
}

// DefaultCorpus returns the embedded website corpus: the service
// directory content in both languages. Spanish documents carry Spanish
// content so Spanish queries score against Spanish vocabulary.
func DefaultCorpus() []Document {
	return []Document{
		{
			ID:        "ops-hero",
			Lang:      "en",
			Title:     "OPS Website — Hero",
			Content:   "Ops Online Support helps teams keep momentum by handling operations so you can focus on growth.",
			SummaryEn: "Ops Online Support keeps you moving by handling operations so your team can focus on growth.",
			SummaryEs: "Ops Online Support mantiene tu impulso gestionando operaciones para que tu equipo se enfoque en crecer.",
		},
		{
			ID:        "ops-pillars",
			Lang:      "en",
			Title:     "Service pillars",
			Content:   "Service pillars: Business Operations, Contact Center, IT Support, Professionals On-Demand.",
			SummaryEn: "Our pillars: Business Operations, Contact Center, IT Support, and Professionals On-Demand.",
			SummaryEs: "Nuestros pilares: Operaciones de Negocio, Contact Center, Soporte TI y Profesionales On-Demand.",
		},
		{
			ID:        "ops-overview",
			Lang:      "en",
			Title:     "OPS Remote Professional Network",
			Content:   "OPS connects you with experienced remote professionals in Business Operations, Contact Center, IT Support, and Professionals On Demand so you can extend your team without adding full-time headcount right away.",
			SummaryEn: "OPS connects you with experienced remote professionals so you can extend your team without adding full-time headcount right away.",
			SummaryEs: "OPS te conecta con profesionales remotos con experiencia para ampliar tu equipo sin sumar nómina fija de inmediato.",
		},
		{
			ID:        "ops-overview-es",
			Lang:      "es",
			Title:     "OPS Remote Professional Network",
			Content:   "OPS te conecta con profesionales remotos con experiencia en Operaciones de Negocio, Contact Center, Soporte IT y Profesionales On Demand para ampliar tu equipo sin sumar nómina fija de inmediato.",
			SummaryEn: "OPS connects you with experienced remote professionals so you can extend your team without adding full-time headcount right away.",
			SummaryEs: "OPS te conecta con profesionales remotos con experiencia para ampliar tu equipo sin sumar nómina fija de inmediato.",
		},
		{
			ID:        "ops-business-operations",
			Lang:      "en",
			Title:     "Business Operations",
			Content:   "Business Operations coverage: billing, payables and receivables, vendor coordination, admin support, and marketing support so the internal engine stays organized with dashboards leadership can actually use.",
			SummaryEn: "Business Operations keeps your day-to-day engine running: clear billing, tidy payables and receivables, organized vendors, and usable dashboards.",
			SummaryEs: "Operaciones de Negocio cuida el motor del día a día: facturación clara, cuentas ordenadas, proveedores organizados y tableros útiles.",
		},
		{
			ID:        "ops-business-operations-es",
			Lang:      "es",
			Title:     "Operaciones de Negocio",
			Content:   "Operaciones de Negocio cubre facturación, cuentas por pagar y cobrar, coordinación con proveedores, soporte administrativo y apoyo en marketing para que el motor interno se mantenga ordenado.",
			SummaryEn: "Business Operations keeps your day-to-day engine running: clear billing, tidy payables and receivables, organized vendors, and usable dashboards.",
			SummaryEs: "Operaciones de Negocio cuida el motor del día a día: facturación clara, cuentas ordenadas, proveedores organizados y tableros útiles.",
		},
		{
			ID:        "ops-contact-center",
			Lang:      "en",
			Title:     "Contact Center",
			Content:   "Contact Center service: warm, consistent conversations with customers across channels, balancing quick answers with long-term relationships and a human tone of voice.",
			SummaryEn: "Our Contact Center builds warm, consistent customer conversations across channels, balancing speed with long-term relationships.",
			SummaryEs: "Nuestro Contact Center crea conversaciones cálidas y consistentes con tus clientes en varios canales, equilibrando rapidez con relaciones duraderas.",
		},
		{
			ID:        "ops-it-support",
			Lang:      "en",
			Title:     "IT Support",
			Content:   "IT Support service: practical help desk coverage, incident-ready teams that guide users, handle tickets, and coordinate fixes so work can keep moving, with specialist tracks for complex issues.",
			SummaryEn: "IT Support gives you incident-ready teams that guide users, handle tickets, and coordinate fixes so work keeps moving.",
			SummaryEs: "Soporte TI te da equipos preparados para incidentes que guían a las personas, manejan tickets y coordinan soluciones.",
		},
		{
			ID:        "ops-soporte-es",
			Lang:      "es",
			Title:     "Soporte TI",
			Content:   "Soporte TI: mesa de ayuda práctica, manejo de incidentes y rutas especializadas; equipos que guían a las personas usuarias, manejan tickets y coordinan soluciones para que el trabajo no se detenga.",
			SummaryEn: "IT Support gives you incident-ready teams that guide users, handle tickets, and coordinate fixes so work keeps moving.",
			SummaryEs: "Soporte TI te da equipos preparados para incidentes que guían a las personas, manejan tickets y coordinan soluciones.",
		},
		{
			ID:        "ops-professionals",
			Lang:      "en",
			Title:     "Professionals On-Demand",
			Content:   "Professionals On-Demand: assistants, specialists, and consultants you can plug in quickly for sprints or longer-term engagements; extra brains that read your data, spot patterns, and turn insights into next steps.",
			SummaryEn: "Professionals On-Demand adds assistants, specialists, and consultants you can plug in quickly for sprints or longer engagements.",
			SummaryEs: "Profesionales On-Demand suma asistentes, especialistas y consultores que puedes incorporar rápido para sprints o compromisos largos.",
		},
		{
			ID:        "ops-contact",
			Lang:      "en",
			Title:     "Contact pathways",
			Content:   "Contact pathways: book a discovery call to map your operational needs, talk directly with OPS about integrations and CX roadmaps, or hire remote specialists across operations, CX, IT support, and on-demand talent.",
			SummaryEn: "Book a discovery call, talk with OPS about integrations and CX roadmaps, or hire remote specialists directly.",
			SummaryEs: "Agenda una discovery call, habla con OPS sobre integraciones y roadmaps de CX, o contrata especialistas remotos directamente.",
		},
		{
			ID:        "ops-contacto-es",
			Lang:      "es",
			Title:     "Vías de contacto",
			Content:   "Vías de contacto: agendar una discovery call para mapear tus necesidades operativas, hablar directamente con OPS sobre integraciones y roadmaps de CX, o contratar especialistas remotos en operaciones, CX, soporte IT y talento on-demand.",
			SummaryEn: "Book a discovery call, talk with OPS about integrations and CX roadmaps, or hire remote specialists directly.",
			SummaryEs: "Agenda una discovery call, habla con OPS sobre integraciones y roadmaps de CX, o contrata especialistas remotos directamente.",
		},
	}
}

// LoadCorpus reads a YAML corpus override. The file must contain a
// non-empty document list; each document needs an id and content.
func LoadCorpus(path string) ([]Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}
	var docs []Document
	if err := yaml.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("parse corpus %s: %w", path, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("corpus %s: no documents", path)
	}
	for i, d := range docs {
		if d.ID == "" || d.Content == "" {
			return nil, fmt.Errorf("corpus %s: document %d missing id or content", path, i)
		}
	}
	return docs, nil
}
