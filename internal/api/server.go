// Package api serves a read-only HTTP view of the kernel dispatcher: the
// compiled-in catalog, the kernels loaded so far and a dry-run check of
// whether a request would be served by a precompiled kernel.
package api

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/xqa/internal/catalog"
	"github.com/samcharles93/xqa/internal/version"
	"github.com/samcharles93/xqa/internal/xqa"
)

const headerRequestID = "X-Request-Id"

type Server struct {
	disp   *xqa.Dispatcher
	loader *xqa.Loader
	descs  []catalog.Descriptor
}

func NewServer(disp *xqa.Dispatcher, loader *xqa.Loader, descs []catalog.Descriptor) *Server {
	return &Server{
		disp:   disp,
		loader: loader,
		descs:  descs,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.Use(requestID)

	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/catalog", s.handleCatalog)
	e.GET("/v1/kernels", s.handleKernels)
	e.POST("/v1/check", s.handleCheck)
}

// requestID echoes the caller's request id or assigns a fresh one.
func requestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		id := c.Request().Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Response().Header().Set(headerRequestID, id)
		return next(c)
	}
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Device:  s.disp.Device(),
		SM:      s.disp.SM().String(),
		SMCount: s.disp.MultiProcessorCount(),
		Version: version.Resolve(),
	})
}

func (s *Server) handleCatalog(c *echo.Context) error {
	descs, err := catalog.Select(s.descs, c.QueryParam("sm"), c.QueryParam("dtype"))
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	out := CatalogResponse{Object: "list", Data: make([]CatalogEntry, 0, len(descs))}
	for _, d := range descs {
		out.Data = append(out.Data, CatalogEntry{Descriptor: d, Cubin: d.CubinName()})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleKernels(c *echo.Context) error {
	lists := s.loader.Lists()
	out := KernelsResponse{
		Object:  "list",
		Devices: s.loader.Devices(),
		Data:    make([]KernelListEntry, 0, len(lists)),
	}
	for _, kl := range lists {
		entry := KernelListEntry{
			DataType: kl.DataType().String(),
			SM:       kl.SM().String(),
			Modules:  kl.ModuleCount(),
		}
		for _, k := range kl.Kernels() {
			entry.Kernels = append(entry.Kernels, kernelEntry(k))
		}
		out.Data = append(out.Data, entry)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleCheck(c *echo.Context) error {
	p, err := decodeJSON[xqa.Params](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if err := validateShape(&p); err != nil {
		return writeDispatchError(c, err)
	}
	ok, err := s.disp.IsConfigurationSupported(&p)
	if err != nil {
		return writeDispatchError(c, err)
	}
	if !ok {
		return c.JSON(http.StatusOK, CheckResponse{WorkspaceBytes: s.disp.WorkspaceSize(&p)})
	}
	plan, err := s.disp.Plan(&p)
	if err != nil {
		return writeDispatchError(c, err)
	}
	kernel := kernelEntry(plan.Kernel)
	return c.JSON(http.StatusOK, CheckResponse{
		Supported:      true,
		UseXQA:         plan.UseXQA,
		WorkspaceBytes: plan.WorkspaceBytes,
		MultiBlock:     plan.MultiBlock,
		Key:            plan.Key.String(),
		Kernel:         &kernel,
	})
}

// validateShape rejects requests the dispatcher would silently treat as
// zero-sized and fills the optional shape fields.
func validateShape(p *xqa.Params) error {
	if p.HeadSize <= 0 {
		return newInvalidRequest("head_size must be positive")
	}
	if p.BatchSize <= 0 {
		return newInvalidRequest("batch_size must be positive")
	}
	if p.Paged && p.TokensPerBlock <= 0 {
		return newInvalidRequest("tokens_per_block must be positive for a paged cache")
	}
	p.FillDefaults()
	return nil
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
