package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/comigor/seijitalk-go/internal/config"
	"github.com/comigor/seijitalk-go/internal/llm"
	"github.com/comigor/seijitalk-go/internal/logger"
	"github.com/comigor/seijitalk-go/internal/search"
)

// FromConfig builds the configured resolver, wrapped with the contract check
// and the optional timeout. The returned close function releases any MCP
// clients and is never nil.
func FromConfig(ctx context.Context, cfg config.Config) (Resolver, func(), error) {
	noop := func() {}

	switch cfg.Resolver.Kind {
	case config.ResolverStub, "":
		logger.L.Info("using stub resolver", "latency", cfg.Resolver.Latency)
		return WithTimeout(Checked(NewStub(cfg.Resolver.Latency)), cfg.Resolver.Timeout), noop, nil
	case config.ResolverLLM:
	default:
		return nil, noop, fmt.Errorf("unknown resolver kind %q", cfg.Resolver.Kind)
	}

	var searchers search.Fallback
	var closers []*search.MCP
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.L.Warn("MCP client close error", "name", c.Name(), "error", err)
			}
		}
	}

	if cfg.Search.Google.Enabled() {
		searchers = append(searchers, search.NewGoogle(cfg.Search.Google))
	}
	for _, serverCfg := range cfg.MCPServers {
		s, err := search.DialMCP(ctx, serverCfg)
		if err != nil {
			logger.L.Error("Failed to set up MCP search server", "name", serverCfg.Name, "error", err)
			continue
		}
		searchers = append(searchers, s)
		closers = append(closers, s)
	}
	if len(searchers) == 0 {
		closeAll()
		return nil, noop, errors.New("llm resolver needs a search backend: configure search.google or mcp_servers")
	}

	r, err := NewLLM(llm.NewClient(cfg.LLM), LLMOptions{
		Model:     cfg.LLM.Model,
		Searcher:  searchers,
		Results:   cfg.Search.Results,
		CacheSize: cfg.Cache.Size,
	})
	if err != nil {
		closeAll()
		return nil, noop, err
	}
	logger.L.Info("using llm resolver", "model", cfg.LLM.Model, "search_backends", len(searchers))

	return WithTimeout(Checked(r), cfg.Resolver.Timeout), closeAll, nil
}
