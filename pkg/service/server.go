package service

import (
	"bytes"
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v3"
	fiberadaptor "github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/theapemachine/gridswarm/pkg/agent"
	"github.com/theapemachine/gridswarm/pkg/checkpoint"
	"github.com/theapemachine/gridswarm/pkg/dashboard"
	"github.com/theapemachine/gridswarm/pkg/errors"
	"github.com/theapemachine/gridswarm/pkg/metrics"
	"github.com/theapemachine/gridswarm/pkg/swarm"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"
)

/*
Server exposes a running swarm, the gate checkpoints and the Prometheus
collectors over HTTP. The swarm manager and the loader are safe for
concurrent use, so handlers share them without extra locking.
*/
type Server struct {
	app       *fiber.App
	manager   *swarm.Manager
	loader    *checkpoint.Loader
	extractor *dashboard.Extractor
	broker    *Broker
	addr      string
	interval  time.Duration
	grace     time.Duration
	maxSteps  int
}

type ServerOption func(*Server)

func WithAddr(addr string) ServerOption {
	return func(srv *Server) {
		srv.addr = addr
	}
}

// WithStepInterval makes Start advance the swarm on a ticker. Zero disables it.
func WithStepInterval(interval time.Duration) ServerOption {
	return func(srv *Server) {
		srv.interval = interval
	}
}

// WithMaxSteps caps the count a single POST /grid/step may ask for.
func WithMaxSteps(n int) ServerOption {
	return func(srv *Server) {
		if n > 0 {
			srv.maxSteps = n
		}
	}
}

func WithShutdownGrace(grace time.Duration) ServerOption {
	return func(srv *Server) {
		srv.grace = grace
	}
}

func NewServer(manager *swarm.Manager, loader *checkpoint.Loader, options ...ServerOption) *Server {
	srv := &Server{
		app: fiber.New(fiber.Config{
			AppName:      "gridswarm",
			ServerHeader: "gridswarm",
		}),
		manager:   manager,
		loader:    loader,
		extractor: dashboard.NewExtractor(loader),
		broker:    NewBroker(0),
		addr:      ":3210",
		grace:     5 * time.Second,
		maxSteps:  1000,
	}

	for _, option := range options {
		option(srv)
	}

	srv.routes()

	return srv
}

// App exposes the fiber app, mainly for app.Test.
func (srv *Server) App() *fiber.App {
	return srv.app
}

func (srv *Server) routes() {
	srv.app.Use(logger.New(logger.Config{
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/metrics"
		},
	}), healthcheck.NewHealthChecker())

	srv.app.Get("/", srv.handleRoot)
	srv.app.Get("/metrics", fiberadaptor.HTTPHandler(metrics.Handler()))

	grid := srv.app.Group("/grid")
	grid.Get("/", srv.handleView)
	grid.Get("/metrics", srv.handleMetrics)
	grid.Get("/compression", srv.handleCompression)
	grid.Get("/evolution", srv.handleEvolution)
	grid.Get("/events", srv.handleEvents)
	grid.Post("/step", srv.handleStep)
	grid.Post("/inject", srv.handleInject)
	grid.Post("/reset", srv.handleReset)

	gates := srv.app.Group("/gates")
	gates.Get("/", srv.handleGates)
	gates.Get("/:id", srv.handleGate)
	gates.Get("/:id/proofs", srv.handleProofs)

	srv.app.Get("/dashboard", srv.handleDashboard)
}

/*
Start serves until ctx is cancelled, then shuts the app down within the
grace period. When a step interval is set the swarm advances in the
background for as long as the server runs.
*/
func (srv *Server) Start(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("serving", "addr", srv.addr)
		return srv.app.Listen(srv.addr, fiber.ListenConfig{DisableStartupMessage: true})
	})

	group.Go(func() error {
		<-groupCtx.Done()
		srv.broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), srv.grace)
		defer cancel()

		return srv.app.ShutdownWithContext(shutdownCtx)
	})

	if srv.interval > 0 {
		group.Go(func() error {
			return srv.stepLoop(groupCtx)
		})
	}

	err := group.Wait()
	srv.manager.Shutdown()

	return err
}

func (srv *Server) stepLoop(ctx context.Context) error {
	ticker := time.NewTicker(srv.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			step, err := srv.manager.Step()
			if err != nil {
				if !stderrors.Is(err, errors.ErrNotSpawned) {
					log.Error("background step failed", "error", err)
				}
				continue
			}
			srv.publish(step)
		}
	}
}

func (srv *Server) handleRoot(ctx fiber.Ctx) error {
	return ctx.SendString("OK")
}

func (srv *Server) handleView(ctx fiber.Ctx) error {
	return ctx.JSON(srv.manager.View())
}

func (srv *Server) handleMetrics(ctx fiber.Ctx) error {
	step, err := srv.manager.Metrics()
	if err != nil {
		return fail(ctx, err)
	}
	return ctx.JSON(step)
}

func (srv *Server) handleCompression(ctx fiber.Ctx) error {
	stats, err := srv.manager.CompressionStats()
	if err != nil {
		return fail(ctx, err)
	}
	return ctx.JSON(stats)
}

func (srv *Server) handleEvolution(ctx fiber.Ctx) error {
	return ctx.JSON(srv.manager.Evolution())
}

// handleEvents streams the metrics of every step as server-sent events.
func (srv *Server) handleEvents(ctx fiber.Ctx) error {
	ctx.Set(fiber.HeaderContentType, "text/event-stream")
	ctx.Set(fiber.HeaderCacheControl, "no-cache")
	ctx.Set(fiber.HeaderConnection, "keep-alive")

	ctx.RequestCtx().SetBodyStreamWriter(fasthttp.StreamWriter(srv.broker.Stream))

	return nil
}

func (srv *Server) publish(step swarm.StepMetrics) {
	if srv.broker.Subscribers() == 0 {
		return
	}

	if err := srv.broker.Broadcast(step); err != nil {
		log.Warn("step event dropped", "error", err)
	}
}

func (srv *Server) handleStep(ctx fiber.Ctx) error {
	count := 1

	if raw := ctx.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > srv.maxSteps {
			return ctx.Status(fiber.StatusBadRequest).JSON(
				errors.ErrInvalidConfig.WithMessagef("count must be an integer between 1 and %d", srv.maxSteps),
			)
		}
		count = n
	}

	var step swarm.StepMetrics

	for i := 0; i < count; i++ {
		var err error
		if step, err = srv.manager.Step(); err != nil {
			return fail(ctx, err)
		}
	}

	return ctx.JSON(step)
}

type injectRequest struct {
	Pattern  string  `json:"pattern"`
	Row      *int    `json:"row"`
	Col      *int    `json:"col"`
	Strength float64 `json:"strength"`
}

func (srv *Server) handleInject(ctx fiber.Ctx) error {
	var req injectRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).SendString("invalid inject request: " + err.Error())
	}

	if req.Strength == 0 {
		req.Strength = 1.0
	}

	var at *agent.Position
	if req.Row != nil && req.Col != nil {
		at = &agent.Position{Row: *req.Row, Col: *req.Col}
	}

	if err := srv.manager.InjectPattern(req.Pattern, at, req.Strength); err != nil {
		return fail(ctx, err)
	}

	return ctx.Status(fiber.StatusAccepted).JSON(srv.manager.View())
}

func (srv *Server) handleReset(ctx fiber.Ctx) error {
	srv.manager.Reset()
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (srv *Server) handleGates(ctx fiber.Ctx) error {
	return ctx.JSON(srv.extractor.Bundle(ctx.Context(), checkpoint.GateIDs()))
}

func (srv *Server) handleGate(ctx fiber.Ctx) error {
	id, err := strconv.Atoi(ctx.Params("id"))
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(errors.ErrUnknownGate.WithMessagef("gate id %q is not a number", ctx.Params("id")))
	}

	gateMetrics := srv.extractor.GateMetrics(ctx.Context(), id)
	if !gateMetrics.Available() {
		return ctx.Status(fiber.StatusNotFound).JSON(gateMetrics)
	}

	return ctx.JSON(gateMetrics)
}

func (srv *Server) handleProofs(ctx fiber.Ctx) error {
	id, err := strconv.Atoi(ctx.Params("id"))
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(errors.ErrUnknownGate.WithMessagef("gate id %q is not a number", ctx.Params("id")))
	}

	chain := srv.extractor.ProofChainMetrics(ctx.Context(), id)
	if !chain.Available {
		return ctx.Status(fiber.StatusNotFound).JSON(chain)
	}

	return ctx.JSON(chain)
}

func (srv *Server) handleDashboard(ctx fiber.Ctx) error {
	var buf bytes.Buffer

	if err := dashboard.RenderHTML(&buf, srv.extractor.Bundle(ctx.Context(), srv.loader.AvailableGates(ctx.Context()))); err != nil {
		return fail(ctx, err)
	}

	ctx.Type("html", "utf-8")
	return ctx.Send(buf.Bytes())
}

// fail maps domain errors onto status codes and writes them as JSON.
func fail(ctx fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError

	switch {
	case stderrors.Is(err, errors.ErrNotSpawned):
		status = fiber.StatusConflict
	case stderrors.Is(err, errors.ErrUnknownPattern),
		stderrors.Is(err, errors.ErrOutOfBounds),
		stderrors.Is(err, errors.ErrInvalidConfig):
		status = fiber.StatusBadRequest
	case stderrors.Is(err, errors.ErrCheckpointNotFound):
		status = fiber.StatusNotFound
	}

	var swarmErr *errors.SwarmError
	if stderrors.As(err, &swarmErr) {
		return ctx.Status(status).JSON(swarmErr)
	}

	return ctx.Status(status).JSON(fiber.Map{"message": err.Error()})
}
