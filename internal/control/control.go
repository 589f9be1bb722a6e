// Package control wires configuration into running instances.
package control

import (
	"github.com/vietddude/pollmark/internal/core/claim"
	"github.com/vietddude/pollmark/internal/core/config"
	"github.com/vietddude/pollmark/internal/engine/effect"
	"github.com/vietddude/pollmark/internal/engine/emitter"
	"github.com/vietddude/pollmark/internal/engine/extract"
	"github.com/vietddude/pollmark/internal/engine/predicate"
	"github.com/vietddude/pollmark/internal/engine/processor"
	"github.com/vietddude/pollmark/internal/engine/scheduler"
	"github.com/vietddude/pollmark/internal/infra/channel"
	"github.com/vietddude/pollmark/internal/infra/llm"
	"github.com/vietddude/pollmark/internal/infra/store"
)

// Deps are the shared backends. Nil fields are built from the config.
type Deps struct {
	Store     store.RecordStore
	Ledger    claim.Ledger
	Generator llm.Generator
	Fetcher   effect.DocumentFetcher
	Mailer    channel.Mailer
	Messenger channel.Messenger
	Emitter   emitter.Emitter
}

// Instance is one wired poll-filter-process-mark agent.
type Instance struct {
	Config    config.InstanceConfig
	Predicate predicate.Expr
	Extractor *extract.Extractor
	Provider  effect.Provider
	Processor *processor.Processor
	Poller    *scheduler.Poller
}
