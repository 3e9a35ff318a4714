package orchestrator

import (
	"github.com/portfolio/showcase/cmd/showcase/capability"
	"github.com/portfolio/showcase/cmd/showcase/media"
	"github.com/portfolio/showcase/cmd/showcase/readiness"
	"github.com/portfolio/showcase/cmd/showcase/transition"
	"github.com/portfolio/showcase/cmd/showcase/warmup"
	"github.com/portfolio/showcase/common/config"
)

// Policy is the timing configuration for one engine family
type Policy struct {
	Warmup     warmup.Config
	Readiness  readiness.Config
	Transition transition.Config
}

// PolicyFor selects the engine-dependent values from cfg
func PolicyFor(cfg config.ShowcaseConfig, engine capability.EngineClass) Policy {
	minDisplay, maxWait := cfg.MinDisplayDefault, cfg.MaxWaitDefault
	fallback := cfg.FallbackSwapDelayDefault
	if engine == capability.SafariLike {
		minDisplay, maxWait = cfg.MinDisplaySafari, cfg.MaxWaitSafari
		fallback = cfg.FallbackSwapDelaySafari
	}

	return Policy{
		Warmup: warmup.Config{
			PrimeTimeout:       cfg.PrimeTimeout,
			AssetTimeout:       cfg.AssetWarmTimeout,
			SafariPrimeTimeout: cfg.SafariPrimeTimeout,
			BatchSize:          cfg.BatchSize,
		},
		Readiness: readiness.Config{
			MinDisplay:        minDisplay,
			MaxWait:           maxWait,
			PollInterval:      cfg.PollInterval,
			FontTimeout:       cfg.FontTimeout,
			ServiceTimeout:    cfg.ServiceTimeout,
			CoverageThreshold: cfg.CoverageThreshold,
		},
		Transition: transition.Config{
			ReadySwapDelay:    cfg.ReadySwapDelay,
			FallbackSwapDelay: fallback,
			PlayRetryDelay:    cfg.PlayRetryDelay,
			PlayTimeout:       cfg.PlayTimeout,
			PrepareTimeout:    cfg.AssetWarmTimeout,
			ReadyThreshold:    media.HaveFutureData,
		},
	}
}
