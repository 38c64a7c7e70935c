// Package pipeline composes the full condensation flow: decompose the
// message, score the tree, run the refinement loop, persist the report,
// and stream progress events.
package pipeline

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/minsignal/condense/external"
	"github.com/minsignal/condense/internal/config"
	"github.com/minsignal/condense/internal/events"
	"github.com/minsignal/condense/internal/monitoring"
	"github.com/minsignal/condense/internal/oracle"
	"github.com/minsignal/condense/internal/refine"
	"github.com/minsignal/condense/internal/scoring"
	"github.com/minsignal/condense/internal/selection"
	"github.com/minsignal/condense/internal/store"
)

// Pipeline holds the long-lived collaborators shared across runs.
type Pipeline struct {
	cfg        *config.Config
	decomposer oracle.Decomposer
	renderer   oracle.Renderer
	judge      oracle.Judge
	analyzer   oracle.Analyzer
	counter    oracle.TokenCounter
	store      *store.Store
	hub        *events.Hub
}

// Result is what one condensation run produces.
type Result struct {
	Report   *refine.Report
	Frontier []selection.FrontierPoint
}

// New assembles a pipeline from configuration. st and hub may be nil;
// persistence and event streaming are then disabled.
func New(cfg *config.Config, st *store.Store, hub *events.Hub) *Pipeline {
	counter := oracle.NewTiktokenCounter(cfg.Oracles.TokenEncoding)

	p := &Pipeline{cfg: cfg, counter: counter, store: st, hub: hub}
	if cfg.Oracles.Offline {
		p.decomposer = oracle.NewSentenceDecomposer(counter)
		p.renderer = oracle.TemplateRenderer{}
		p.judge = oracle.LexicalJudge{}
	} else {
		p.decomposer = oracle.NewCachingDecomposer(
			oracle.NewLLMDecomposer(oracleClient(cfg.Oracles.Structure), counter),
			cfg.Oracles.CacheSize,
		)
		p.renderer = oracle.NewLLMRenderer(oracleClient(cfg.Oracles.Rewrite))
		p.judge = oracle.NewEmbeddingJudge(cfg.Oracles.Judge.Client())
		if cfg.Oracles.Analyzer.Endpoint != "" {
			p.analyzer = oracle.NewLLMAnalyzer(oracleClient(cfg.Oracles.Analyzer))
		}
	}
	return p
}

// oracleClient resolves one chat-oracle config. Bedrock providers get an
// HTTP client whose transport signs requests with SigV4.
func oracleClient(c config.OracleClientConfig) oracle.ClientConfig {
	cc := c.Client()
	if cc.Provider != "bedrock" {
		return cc
	}
	transport, err := external.NewBedrockSigningTransport(c.Region, nil)
	if err != nil {
		log.Warn().Err(err).Msg("bedrock signing unavailable, requests will go unsigned")
		return cc
	}
	return cc.WithHTTPClient(&http.Client{Transport: transport, Timeout: cc.Timeout})
}

// Condense runs the full loop on one message. withFrontier additionally
// sweeps the proxy frontier, which costs no oracle calls.
func (p *Pipeline) Condense(ctx context.Context, text string, withFrontier bool) (*Result, error) {
	runID := uuid.New()
	ctx = monitoring.WithRunIDContext(ctx, runID.String())
	p.publish(runID, events.StageDecomposing, 0, "")

	tree, err := p.decomposer.Decompose(ctx, text)
	if err != nil {
		p.publish(runID, events.StageFailed, 0, err.Error())
		return nil, fmt.Errorf("condense: %w", err)
	}

	p.publish(runID, events.StageScoring, 0, "")
	scorer, err := scoring.New(p.cfg.Scoring, text)
	if err != nil {
		return nil, fmt.Errorf("condense: %w", err)
	}
	scored, degraded := scorer.Score(tree)
	if degraded > 0 {
		log.Warn().
			Str("run_id", runID.String()).
			Int("degraded", degraded).
			Msg("some fragments scored zero")
	}

	opts := []refine.Option{
		refine.WithRunID(runID),
		refine.WithTokenCounter(p.counter),
		refine.WithObserver(func(state refine.State, round int) {
			p.publish(runID, string(state), round, "")
		}),
	}
	if p.analyzer != nil {
		opts = append(opts, refine.WithAnalyzer(p.analyzer))
	}
	ctrl, err := refine.NewController(p.cfg.Refine, p.renderer, p.judge, opts...)
	if err != nil {
		return nil, fmt.Errorf("condense: %w", err)
	}

	report, runErr := ctrl.Run(ctx, scored)
	result := &Result{Report: report}
	if withFrontier {
		result.Frontier = selection.BuildFrontier(scored, p.cfg.Frontier.Targets, p.cfg.Frontier.Steps)
	}

	if p.store != nil && report != nil && report.Rounds() > 0 {
		if err := p.store.SaveReport(ctx, report); err != nil {
			log.Error().Err(err).Str("run_id", runID.String()).Msg("failed to persist run")
		}
	}

	if runErr != nil {
		p.publish(runID, events.StageFailed, report.Rounds(), runErr.Error())
		return result, fmt.Errorf("condense: %w", runErr)
	}

	log.Info().
		Str("run_id", runID.String()).
		Int("rounds", report.Rounds()).
		Bool("converged", report.Converged).
		Float64("similarity", report.FinalSimilarity).
		Float64("compression_ratio", report.CompressionRatio).
		Msg("condensation complete")
	return result, nil
}

// Expand reconstructs a verbose message from a condensed one.
func (p *Pipeline) Expand(ctx context.Context, rendered string) (string, error) {
	expanded, err := p.renderer.Expand(ctx, rendered)
	if err != nil {
		return "", fmt.Errorf("expand: %w", err)
	}
	return expanded, nil
}

func (p *Pipeline) publish(runID uuid.UUID, stage string, round int, msg string) {
	if p.hub == nil {
		return
	}
	p.hub.Publish(events.Event{
		RunID:   runID.String(),
		Stage:   stage,
		Round:   round,
		Message: msg,
	})
}
