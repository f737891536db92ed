// Package pipeline runs the moodboard extraction: elements become design
// tokens, clusters are described, both are weighed against the user
// prompt, and after the user approves the weights a master prompt is
// synthesized.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"imagin3d/internal/checkpoint"
	"imagin3d/internal/confirmation"
	"imagin3d/internal/logging"
	"imagin3d/internal/types"
)

const (
	StageProcessElements = "Processing elements..."
	StageProcessClusters = "Processing clusters..."
	StageWeighClusters   = "Weighing clusters..."
	StageWeighElements   = "Weighing elements..."

	msgEmptyPayload = "Payload must contain elements or clusters"
	msgCancelled    = "Pipeline cancelled by user"
	msgExpired      = "Confirmation session expired"
)

var (
	ErrEmptyPayload  = errors.New("payload must contain elements or clusters")
	ErrTickShortfall = errors.New("stage finished without reporting every item")
)

// ClusterDescriber summarizes a cluster from its member tokens.
type ClusterDescriber interface {
	Describe(ctx context.Context, title string, members []*types.DesignToken) (types.ClusterInfo, error)
}

// Router weighs clusters and tokens against the user prompt.
type Router interface {
	RouteCluster(ctx context.Context, prompt string, cluster *types.ClusterDescriptor) (types.RouteInfo, error)
	RouteToken(ctx context.Context, prompt string, token *types.DesignToken, clusterContext string) (types.RouteInfo, error)
}

// Synthesizer writes the master prompt.
type Synthesizer interface {
	Synthesize(ctx context.Context, userPrompt string, clusters []types.SynthesisCluster) (types.MasterPrompt, error)
}

type Config struct {
	Enricher    Enricher
	Clusterer   ClusterDescriber
	Router      Router
	Synthesizer Synthesizer
	Checkpoints *checkpoint.Store
	Gate        *confirmation.Gate
	Runs        *Registry
	// StageConcurrency caps items in flight per stage; 0 means no cap.
	StageConcurrency int
	Logger           *slog.Logger
}

// Coordinator sequences the stages of every run.
type Coordinator struct {
	cfg Config
	log *slog.Logger
	now func() time.Time
}

func NewCoordinator(cfg Config) (*Coordinator, error) {
	switch {
	case cfg.Clusterer == nil:
		return nil, fmt.Errorf("pipeline: clusterer is required")
	case cfg.Router == nil:
		return nil, fmt.Errorf("pipeline: intent router is required")
	case cfg.Synthesizer == nil:
		return nil, fmt.Errorf("pipeline: synthesizer is required")
	case cfg.Checkpoints == nil:
		return nil, fmt.Errorf("pipeline: checkpoint store is required")
	case len(cfg.Enricher.Handlers) == 0:
		return nil, fmt.Errorf("pipeline: content handlers are required")
	}
	if cfg.Gate == nil {
		cfg.Gate = confirmation.NewGate(0)
	}
	if cfg.Runs == nil {
		cfg.Runs = NewRegistry()
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New("pipeline")
	}
	return &Coordinator{cfg: cfg, log: log, now: time.Now}, nil
}

// Run is a started pipeline. Events is closed after the terminal event.
type Run struct {
	ID     string
	Events <-chan Event
}

// Start launches a run for board. The run outlives ctx: when ctx ends,
// the run keeps going and its remaining events are dropped.
func (c *Coordinator) Start(ctx context.Context, board types.Moodboard) *Run {
	id := uuid.NewString()
	out := make(chan Event)
	rs := &runState{
		id:     id,
		client: ctx,
		out:    out,
		bus:    NewProgressBus(),
		runs:   c.cfg.Runs,
		log:    c.log.With("run_id", id),
		now:    c.now,
	}
	c.cfg.Runs.add(RunStatus{RunID: id, State: StateIngesting, StartedAt: c.now()})
	go c.run(context.WithoutCancel(ctx), rs, board)
	return &Run{ID: id, Events: out}
}

// Confirm resolves the confirmation session of a waiting run.
func (c *Coordinator) Confirm(sessionID string, confirmed bool) error {
	return c.cfg.Gate.Resolve(strings.TrimSpace(sessionID), confirmed)
}

// Status returns the state of a live or recently finished run. A run that
// waits for confirmation carries its open session.
func (c *Coordinator) Status(runID string) (RunStatus, bool) {
	st, ok := c.cfg.Runs.Get(runID)
	if !ok {
		return st, false
	}
	if p, waiting := c.cfg.Gate.Pending(st.RunID); waiting && !p.Resolved {
		since := p.CreatedAt
		st.SessionID = p.SessionID
		st.AwaitingSince = &since
	}
	return st, true
}

// ActiveRuns counts runs that have not finished yet.
func (c *Coordinator) ActiveRuns() int { return c.cfg.Runs.Active() }

// Checkpoints exposes the checkpoint store for inspection.
func (c *Coordinator) Checkpoints() *checkpoint.Store { return c.cfg.Checkpoints }

func (c *Coordinator) run(ctx context.Context, rs *runState, board types.Moodboard) {
	defer close(rs.out)
	defer c.cfg.Runs.scheduleCleanup(rs.id)

	if err := c.execute(ctx, rs, board); err != nil {
		msg := err.Error()
		if errors.Is(err, ErrEmptyPayload) {
			msg = msgEmptyPayload
		}
		rs.log.Error("pipeline failed", "state", rs.state, "err", err)
		c.cfg.Gate.Clear(rs.id)
		rs.finish(StateError, msg)
		rs.send(errorEvent(msg))
	}
}

func (c *Coordinator) execute(ctx context.Context, rs *runState, board types.Moodboard) error {
	// INGESTING
	rs.enter(StateIngesting)
	if len(board.Elements) == 0 && len(board.Clusters) == 0 {
		return ErrEmptyPayload
	}
	rs.log.Info("starting moodboard extraction",
		"prompt", board.Prompt, "element_count", len(board.Elements), "cluster_count", len(board.Clusters))

	ck, err := c.cfg.Checkpoints.Begin(ctx, rs.id)
	if err != nil {
		return err
	}
	if _, err := ck.SaveRaw(ctx, board); err != nil {
		return err
	}
	rs.total = 2*len(board.Elements) + 2*len(board.Clusters)
	rs.runs.update(rs.id, func(st *RunStatus) {
		st.Timestamp = ck.Timestamp
		st.Total = rs.total
	})
	ex := StageExecutor{Bus: rs.bus, Limit: c.cfg.StageConcurrency}

	// ENRICHING_TOKENS
	rs.enter(StateEnrichingTokens)
	var tokens []*types.DesignToken
	err = rs.stage(StageProcessElements, len(board.Elements), func() (err error) {
		tokens, err = RunStage(ctx, ex, StageProcessElements, board.Elements,
			func(ctx context.Context, el types.Element) (*types.DesignToken, error) {
				return c.cfg.Enricher.Enrich(ctx, el, ck)
			})
		return err
	})
	if err != nil {
		return err
	}
	tokensFile, err := ck.SaveDesignTokens(ctx, tokens)
	if err != nil {
		return err
	}
	lookup := make(map[int]*types.DesignToken, len(tokens))
	for _, tok := range tokens {
		lookup[tok.ID] = tok
	}

	// DESCRIBING_CLUSTERS
	rs.enter(StateDescribingClusters)
	var descriptors []*types.ClusterDescriptor
	err = rs.stage(StageProcessClusters, len(board.Clusters), func() (err error) {
		descriptors, err = RunStage(ctx, ex, StageProcessClusters, board.Clusters,
			func(ctx context.Context, cl types.Cluster) (*types.ClusterDescriptor, error) {
				members := ResolveMembers(cl.Elements, lookup)
				info, err := c.cfg.Clusterer.Describe(ctx, cl.Title, members)
				if err != nil {
					return nil, fmt.Errorf("cluster %d: %w", cl.ID, err)
				}
				title := strings.TrimSpace(info.Title)
				if title == "" {
					title = cl.Title
				}
				return &types.ClusterDescriptor{
					ID:          cl.ID,
					Title:       title,
					Purpose:     info.Purpose,
					Description: info.Description,
					Elements:    members,
				}, nil
			})
		return err
	})
	if err != nil {
		return err
	}
	for _, cd := range descriptors {
		if _, err := ck.SaveClusterDescriptor(ctx, cd); err != nil {
			return err
		}
	}

	// ROUTING_CLUSTERS
	rs.enter(StateRoutingClusters)
	var clusterRoutes []types.RouteInfo
	err = rs.stage(StageWeighClusters, len(descriptors), func() (err error) {
		clusterRoutes, err = RunStage(ctx, ex, StageWeighClusters, descriptors,
			func(ctx context.Context, cd *types.ClusterDescriptor) (types.RouteInfo, error) {
				route, err := c.cfg.Router.RouteCluster(ctx, board.Prompt, cd)
				if err != nil {
					return types.RouteInfo{}, fmt.Errorf("cluster %d: %w", cd.ID, err)
				}
				return route, nil
			})
		return err
	})
	if err != nil {
		return err
	}
	clusterWeights := make(map[int]types.WeightInfo, len(descriptors))
	for i, cd := range descriptors {
		cd.Weight, cd.Reasoning = clusterRoutes[i].Weight, clusterRoutes[i].Reasoning
		clusterWeights[cd.ID] = types.WeightInfo{Weight: cd.Weight, Reasoning: cd.Reasoning}
	}

	// ROUTING_TOKENS
	rs.enter(StateRoutingTokens)
	contexts := ClusterContexts(descriptors)
	var tokenRoutes []types.RouteInfo
	err = rs.stage(StageWeighElements, len(tokens), func() (err error) {
		tokenRoutes, err = RunStage(ctx, ex, StageWeighElements, tokens,
			func(ctx context.Context, tok *types.DesignToken) (types.RouteInfo, error) {
				route, err := c.cfg.Router.RouteToken(ctx, board.Prompt, tok, contexts[tok.ID])
				if err != nil {
					return types.RouteInfo{}, fmt.Errorf("element %d: %w", tok.ID, err)
				}
				return route, nil
			})
		return err
	})
	if err != nil {
		return err
	}
	tokenWeights := make(map[int]types.WeightInfo, len(tokens))
	for i, tok := range tokens {
		tok.Weight, tok.Reasoning = tokenRoutes[i].Weight, tokenRoutes[i].Reasoning
		tokenWeights[tok.ID] = types.WeightInfo{Weight: tok.Weight, Reasoning: tok.Reasoning}
	}

	// AWAITING_CONFIRMATION
	sessionID, err := c.cfg.Gate.Create(rs.id)
	if err != nil {
		return err
	}
	rs.enter(StateAwaitingConfirmation)
	rs.send(Event{
		Type:      EventWeights,
		Data:      WeightsData{Weights: tokenWeights, ClusterWeights: clusterWeights},
		SessionID: sessionID,
	})
	rs.log.Info("waiting for user confirmation of weights", "session_id", sessionID)

	confirmed, err := c.cfg.Gate.Await(ctx, sessionID)
	switch {
	case errors.Is(err, confirmation.ErrSessionExpired):
		rs.log.Info("confirmation session expired", "session_id", sessionID)
		rs.finish(StateCancelled, "")
		rs.send(cancelledEvent(msgExpired))
		return nil
	case err != nil:
		return err
	case !confirmed:
		rs.log.Info("user cancelled the pipeline")
		rs.finish(StateCancelled, "")
		rs.send(cancelledEvent(msgCancelled))
		return nil
	}
	rs.log.Info("user confirmed weights, continuing pipeline")

	// SYNTHESIZING
	rs.enter(StateSynthesizing)
	filtered := FilterForSynthesis(descriptors)
	master, err := c.cfg.Synthesizer.Synthesize(ctx, board.Prompt, filtered)
	if err != nil {
		return err
	}
	promptFile, err := ck.SaveMasterPrompt(ctx, board.Prompt, master)
	if err != nil {
		return err
	}
	rs.log.Info("completed moodboard extraction",
		"clusters_kept", len(filtered), "master_prompt", promptFile)

	rs.runs.update(rs.id, func(st *RunStatus) { st.File = tokensFile })
	rs.finish(StateComplete, "")
	rs.send(Event{Type: EventComplete, Data: CompleteData{Count: len(board.Elements), File: tokensFile}})
	return nil
}

// runState is owned by the run goroutine.
type runState struct {
	id     string
	client context.Context
	out    chan<- Event
	bus    *ProgressBus
	runs   *Registry
	log    *slog.Logger
	now    func() time.Time

	state   State
	current int
	total   int
	dropped bool
}

func (rs *runState) enter(s State) {
	rs.state = s
	rs.runs.update(rs.id, func(st *RunStatus) { st.State = s })
	rs.log.Debug("stage entered", "stage", s)
}

func (rs *runState) finish(s State, errMsg string) {
	rs.state = s
	at := rs.now()
	rs.runs.update(rs.id, func(st *RunStatus) {
		st.State = s
		st.Error = errMsg
		st.FinishedAt = &at
	})
}

// send delivers ev unless the client has gone away.
func (rs *runState) send(ev Event) {
	select {
	case rs.out <- ev:
	case <-rs.client.Done():
		if !rs.dropped {
			rs.dropped = true
			rs.log.Warn("client disconnected, dropping events", "event", ev.Type)
		}
	}
}

// stage runs work and forwards its ticks as progress events. It returns
// once work has returned and exactly n ticks were forwarded, or as soon as
// work fails.
func (rs *runState) stage(label string, n int, work func() error) error {
	done := make(chan error, 1)
	go func() { done <- work() }()

	got := 0
	for got < n {
		select {
		case <-rs.bus.Ready():
			got += rs.forward(rs.bus.Drain())
		case err := <-done:
			if err != nil {
				return err
			}
			got += rs.forward(rs.bus.Drain())
			if got != n {
				return fmt.Errorf("stage %q: %w (%d of %d)", label, ErrTickShortfall, got, n)
			}
			return nil
		}
	}
	return <-done
}

func (rs *runState) forward(ticks []Tick) int {
	for _, t := range ticks {
		rs.current++
		cur := rs.current
		rs.runs.update(rs.id, func(st *RunStatus) { st.Current = cur })
		rs.send(Event{Type: EventProgress, Data: ProgressData{Current: cur, Total: rs.total, Stage: t.Stage}})
	}
	return len(ticks)
}
