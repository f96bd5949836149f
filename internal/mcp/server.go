// Package mcp exposes the corpus over the Model Context Protocol.
//
// Tools answer in Norwegian markdown. A miss (unknown alias, absent
// section) is a normal response with a tip, not a protocol error;
// MCPError is reserved for malformed input and infrastructure failures.
package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/paragraf/paragraf/internal/config"
	"github.com/paragraf/paragraf/internal/resolve"
	"github.com/paragraf/paragraf/internal/retrieval"
	"github.com/paragraf/paragraf/internal/store"
	"github.com/paragraf/paragraf/pkg/version"
)

// Server wires the retrieval stack into an MCP server over stdio.
type Server struct {
	mcp      *mcp.Server
	store    store.Store
	resolver *resolve.Resolver
	engine   *retrieval.Engine
	cfg      *config.Config
	logger   *slog.Logger
}

// NewServer builds the server and registers every tool.
func NewServer(st store.Store, resolver *resolve.Resolver, engine *retrieval.Engine, cfg *config.Config, logger *slog.Logger) *Server {
	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "paragraf",
			Version: version.Version,
		}, nil),
		store:    st,
		resolver: resolver,
		engine:   engine,
		cfg:      cfg,
		logger:   logger,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "lov",
		Description: "Hent norsk lovtekst fra Lovdata. Slår opp via kallenavn " +
			"(f.eks. 'husleieloven'), kortnavn eller Lovdata-ID. Uten paragraf " +
			"returneres innholdsfortegnelsen.",
	}, s.handleLaw)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "forskrift",
		Description: "Hent norsk forskriftstekst fra Lovdata. Slår opp via navn " +
			"eller Lovdata-ID (f.eks. 'FOR-2017-06-19-840' eller 'tek17'). " +
			"Uten paragraf returneres innholdsfortegnelsen.",
	}, s.handleRegulation)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "paragrafer",
		Description: "Hent flere paragrafer fra samme lov eller forskrift i ett " +
			"kall. Maks 50 paragrafer.",
	}, s.handleBatch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "sok",
		Description: "Fulltekstsøk i norske lover og forskrifter. Støtter " +
			"\"eksakte fraser\", OR mellom ord og -ekskludering. Uten operatorer " +
			"kreves alle ordene; ved null treff relakseres søket automatisk.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "semantisk_sok",
		Description: "Hybridsøk som kombinerer semantisk likhet og fulltekst. " +
			"Finner relevante bestemmelser selv når søkeordene ikke står i teksten.",
	}, s.handleSemanticSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "storrelse",
		Description: "Sjekk størrelsen på en paragraf (tegn og estimerte tokens) " +
			"før henting.",
	}, s.handleSize)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "forskrifter_for_lov",
		Description: "List forskrifter som har hjemmel i en gitt lov.",
	}, s.handleRelated)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "liste",
		Description: "List kjente aliaser (snarveier) for vanlige lover og " +
			"forskrifter, gruppert etter rettsområde.",
	}, s.handleList)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "departementer",
		Description: "List departementer det kan filtreres på i sok().",
	}, s.handleMinistries)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rettsomrader",
		Description: "List rettsområder det kan filtreres på i sok().",
	}, s.handleLegalAreas)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "sync_status",
		Description: "Vis synkroniseringsstatus for datasettene.",
	}, s.handleSyncStatus)
}

// Run serves MCP over stdio until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting", "version", version.Version)
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// textResult wraps markdown as the tool call's content.
func textResult(markdown string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: markdown}},
	}
}
