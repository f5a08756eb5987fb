package pipeline

import (
	"github.com/rs/zerolog"
)

// Deps are the collaborators a Stages instance runs against. Everything is
// injected so tests can substitute fakes per run.
type Deps struct {
	Store      Store
	Classifier Classifier
	Answerer   Answerer
	Replier    Replier
	Locks      Locker
	Queue      Enqueuer
	Analyzer   ImageAnalyzer
	Logger     zerolog.Logger
}

// Stages executes the pipeline's business operations. One instance per
// worker process, shared across jobs.
type Stages struct {
	store      Store
	classifier Classifier
	answerer   Answerer
	replier    Replier
	locks      Locker
	queue      Enqueuer
	analyzer   ImageAnalyzer
	logger     zerolog.Logger
}

// New wires a Stages instance.
func New(d Deps) *Stages {
	return &Stages{
		store:      d.Store,
		classifier: d.Classifier,
		answerer:   d.Answerer,
		replier:    d.Replier,
		locks:      d.Locks,
		queue:      d.Queue,
		analyzer:   d.Analyzer,
		logger:     d.Logger.With().Str("component", "pipeline").Logger(),
	}
}
