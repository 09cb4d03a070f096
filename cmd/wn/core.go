package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wnrun/wn-core/internal/rtconfig"
	"github.com/wnrun/wn-core/internal/rtlog"
	"github.com/wnrun/wn-core/pkg/agentloop"
	"github.com/wnrun/wn-core/pkg/provider"
	"github.com/wnrun/wn-core/pkg/resource"
	"github.com/wnrun/wn-core/pkg/rpc"
	"github.com/wnrun/wn-core/pkg/toolregistry"
)

// core owns everything a running `serve` process needs across the
// lifetime of the connection: the active Agent Loop, the config and
// resources it was built from, and the plumbing to rebuild it on
// configUpdate. Exactly one core exists per process.
type core struct {
	cfg       *rtconfig.Config
	resources resource.Set
	tools     *toolregistry.Registry
	handler   agentloop.Handler

	// loopMu guards the fields below. A configUpdate takes a new
	// snapshot of (providerName, model, personaName, systemMessage)
	// and rebuilds loop under this lock; an in-flight Step call has
	// already captured its own *agentloop.Loop pointer and is
	// unaffected by a later swap (spec.md §9 open question 1).
	loopMu        sync.Mutex
	providerName  string
	model         string
	personaName   string
	systemMessage string
	loop          *agentloop.Loop

	// turnMu serializes Step calls themselves, so the Agent Loop
	// "never runs two turns simultaneously" (spec.md §5) even though
	// the RPC server dispatches request lines concurrently.
	turnMu sync.Mutex

	// cancelMu guards the in-flight turn's cancel func so `abort` can
	// reach it without waiting on turnMu, which the in-flight turn
	// itself holds.
	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

func newCore(cfg *rtconfig.Config, resources resource.Set, tools *toolregistry.Registry, handler agentloop.Handler) *core {
	return &core{cfg: cfg, resources: resources, tools: tools, handler: handler}
}

// start builds the initial Agent Loop from the config's defaults. A
// failure here is a startup failure (spec.md §6: exit code 1).
func (c *core) start() error {
	loop, err := c.buildLoop(c.cfg.DefaultProvider, c.cfg.DefaultModel, c.cfg.DefaultPersona)
	if err != nil {
		return fmt.Errorf("building initial agent loop: %w", err)
	}
	c.providerName = c.cfg.DefaultProvider
	c.model = c.cfg.DefaultModel
	c.personaName = c.cfg.DefaultPersona
	if c.personaName != "" {
		c.systemMessage, _ = c.resolvePersonaContent(c.personaName)
	}
	c.loop = loop
	return nil
}

// buildLoop constructs a fresh Agent Loop for the given
// provider/model/persona triple. An empty personaName keeps whatever
// system message is already cached on c (used when configUpdate omits
// the persona field).
func (c *core) buildLoop(providerName, model, personaName string) (*agentloop.Loop, error) {
	providerCfg := c.cfg.Providers[providerName]
	prov, err := provider.New(providerName, providerCfg).Unwrap()
	if err != nil {
		return nil, err
	}

	systemMessage := c.systemMessage
	if personaName != "" {
		resolved, err := c.resolvePersonaContent(personaName)
		if err != nil {
			return nil, err
		}
		systemMessage = resolved
	}

	useModel := model
	if useModel == "" {
		useModel = prov.DefaultModel()
	}

	loop := agentloop.New(prov, c.tools, c.handler, useModel, 0)
	if systemMessage != "" {
		loop.SeedSystem(systemMessage)
	}
	return loop, nil
}

func (c *core) resolvePersonaContent(personaName string) (string, error) {
	persona, ok := c.resources.Personas[personaName]
	if !ok {
		return "", fmt.Errorf("Persona not found: %s", personaName)
	}
	return persona.Content, nil
}

func (c *core) snapshotLoop() *agentloop.Loop {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	return c.loop
}

func (c *core) setCancel(cancel context.CancelFunc) {
	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()
}

type inputParams struct {
	Text string `json:"text"`
}

// handleInput runs exactly one Agent Loop turn. Concurrent input
// dispatch from the RPC server is serialized here via turnMu so only
// one turn is ever in flight, per spec.md §5.
func (c *core) handleInput(ctx context.Context, raw json.RawMessage) (any, error) {
	var params inputParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid input params: %w", err)
	}

	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	turnCtx, cancel := context.WithCancel(ctx)
	c.setCancel(cancel)
	defer func() {
		cancel()
		c.setCancel(nil)
	}()

	loop := c.snapshotLoop()
	result := loop.Step(turnCtx, params.Text)
	return map[string]any{"accepted": result.IsOk()}, nil
}

func (c *core) handleAbort(context.Context, json.RawMessage) (any, error) {
	c.cancelMu.Lock()
	cancel := c.cancel
	c.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
	return map[string]any{"aborted": true}, nil
}

type configUpdateParams struct {
	Persona  string `json:"persona"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// handleConfigUpdate rebuilds the Agent Loop when any field changes,
// leaving it untouched on empty params or a failed rebuild (spec.md §6,
// §8 scenario S6).
func (c *core) handleConfigUpdate(_ context.Context, raw json.RawMessage) (any, error) {
	var params configUpdateParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid configUpdate params: %w", err)
	}

	if params.Persona == "" && params.Provider == "" && params.Model == "" {
		return map[string]any{"applied": false}, nil
	}

	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	providerName := params.Provider
	if providerName == "" {
		providerName = c.providerName
	}
	model := params.Model
	if model == "" {
		model = c.model
	}

	newSystemMessage := c.systemMessage
	if params.Persona != "" {
		resolved, err := c.resolvePersonaContent(params.Persona)
		if err != nil {
			rtlog.WarnCF("core", "configUpdate rejected", map[string]any{"error": err.Error()})
			return map[string]any{"applied": false}, nil
		}
		newSystemMessage = resolved
	}

	newLoop, err := c.buildLoop(providerName, model, params.Persona)
	if err != nil {
		rtlog.WarnCF("core", "configUpdate rejected", map[string]any{"error": err.Error()})
		return map[string]any{"applied": false}, nil
	}

	c.providerName = providerName
	c.model = model
	c.systemMessage = newSystemMessage
	if params.Persona != "" {
		c.personaName = params.Persona
	}
	c.loop = newLoop
	return map[string]any{"applied": true}, nil
}

// rpcHandler adapts core's method handlers to rpc.Handler.
func (c *core) rpcHandler(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "input":
		return c.handleInput(ctx, params)
	case "abort":
		return c.handleAbort(ctx, params)
	case "configUpdate":
		return c.handleConfigUpdate(ctx, params)
	default:
		return nil, rpc.ErrMethodNotFound
	}
}
