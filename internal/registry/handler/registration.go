package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/jmerrifield20/NodeRegistrar/internal/registry/model"
	"github.com/jmerrifield20/NodeRegistrar/internal/registry/service"
	"go.uber.org/zap"
)

// maxBodyBytes caps a registration request body.
const maxBodyBytes = 1 << 20

// registrationSvc is satisfied by *service.RegistrationService.
type registrationSvc interface {
	Register(ctx context.Context, caller model.Caller, params service.Params) (*model.Outcome, error)
	Decommission(ctx context.Context, caller model.Caller, params service.Params) (*model.Outcome, error)
	Reset(ctx context.Context, caller model.Caller, params service.Params) (*model.Outcome, error)
	Status(ctx context.Context, caller model.Caller, certname string) (*model.RegistrationStatus, error)
	ListEnvironments(ctx context.Context, caller model.Caller) ([]string, error)
	ListHostgroups(ctx context.Context, caller model.Caller) ([]string, error)
	EnvironmentID(ctx context.Context, caller model.Caller, name string) (*int64, error)
	HostgroupID(ctx context.Context, caller model.Caller, name string) (*int64, error)
}

// envelope is the body of every registration response except lookups.
type envelope struct {
	Result  bool   `json:"result"`
	Message string `json:"message"`
}

// RegistrationHandler serves the node registration API.
type RegistrationHandler struct {
	svc    registrationSvc
	logger *zap.Logger
}

// NewRegistrationHandler creates a RegistrationHandler.
func NewRegistrationHandler(svc registrationSvc, logger *zap.Logger) *RegistrationHandler {
	return &RegistrationHandler{svc: svc, logger: logger}
}

// Register mounts the registration routes on rg. rg must carry the
// Authenticate middleware.
func (h *RegistrationHandler) Register(rg *gin.RouterGroup) {
	r := rg.Group("/registrations")
	{
		r.POST("/register", h.RegisterNode)
		r.POST("/decommission", h.Decommission)
		r.POST("/reset", h.Reset)
		r.GET("/status", h.Status)
		r.GET("/environments", h.ListEnvironments)
		r.GET("/environments/lookup", h.EnvironmentID)
		r.GET("/hostgroups", h.ListHostgroups)
		r.GET("/hostgroups/lookup", h.HostgroupID)
	}
}

// RegisterNode handles POST /registrations/register.
func (h *RegistrationHandler) RegisterNode(c *gin.Context) {
	h.mutate(c, model.OpRegister, service.RegisterRule, h.svc.Register, func(*model.Outcome) string {
		return "Success!"
	})
}

// Decommission handles POST /registrations/decommission.
func (h *RegistrationHandler) Decommission(c *gin.Context) {
	h.mutate(c, model.OpDecommission, service.DecommissionRule, h.svc.Decommission, func(out *model.Outcome) string {
		if out.Action == model.ActionNone {
			return "Node not found, nothing to decommission"
		}
		return fmt.Sprintf("Node %s decommissioned", out.Node.Name)
	})
}

// Reset handles POST /registrations/reset.
func (h *RegistrationHandler) Reset(c *gin.Context) {
	h.mutate(c, model.OpReset, service.ResetRule, h.svc.Reset, func(out *model.Outcome) string {
		return fmt.Sprintf("Certificate of %s reset", out.Node.Name)
	})
}

type mutation func(ctx context.Context, caller model.Caller, params service.Params) (*model.Outcome, error)

func (h *RegistrationHandler) mutate(c *gin.Context, op model.Operation, rule service.ParamRule, run mutation, message func(*model.Outcome) string) {
	caller := CallerFromCtx(c)
	raw, err := requestParams(c)
	if err != nil {
		// The body is unusable; the query string may still name the node.
		h.rejected(op, caller, map[string]any{"name": c.Query("name"), "certname": c.Query("certname")}, err)
		c.JSON(http.StatusBadRequest, envelope{Result: false, Message: err.Error()})
		return
	}
	params, err := service.ValidateParams(raw, rule)
	if err != nil {
		h.rejected(op, caller, raw, err)
		h.fail(c, err)
		return
	}

	out, err := run(c.Request.Context(), caller, params)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, envelope{Result: true, Message: message(out)})
}

// rejected logs a request turned away before it reached the service.
func (h *RegistrationHandler) rejected(op model.Operation, caller model.Caller, raw map[string]any, err error) {
	h.logger.Warn("registration request rejected",
		zap.String("operation", string(op)),
		zap.Any("name", raw["name"]),
		zap.Any("certname", raw["certname"]),
		zap.String("caller", caller.Login),
		zap.String("source_ip", caller.SourceIP),
		zap.Error(err),
	)
}

// Status handles GET /registrations/status?certname=. It always answers 200;
// anything unknown is null.
func (h *RegistrationHandler) Status(c *gin.Context) {
	empty := &model.RegistrationStatus{}
	raw, err := requestParams(c)
	if err != nil {
		c.JSON(http.StatusOK, empty)
		return
	}
	params, err := service.ValidateParams(raw, service.StatusRule)
	if err != nil {
		c.JSON(http.StatusOK, empty)
		return
	}

	st, err := h.svc.Status(c.Request.Context(), CallerFromCtx(c), params.String("certname"))
	if err != nil {
		h.logger.Error("registration status", zap.String("certname", params.String("certname")), zap.Error(err))
		c.JSON(http.StatusOK, empty)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ListEnvironments handles GET /registrations/environments.
func (h *RegistrationHandler) ListEnvironments(c *gin.Context) {
	names, err := h.svc.ListEnvironments(c.Request.Context(), CallerFromCtx(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, names)
}

// ListHostgroups handles GET /registrations/hostgroups.
func (h *RegistrationHandler) ListHostgroups(c *gin.Context) {
	names, err := h.svc.ListHostgroups(c.Request.Context(), CallerFromCtx(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, names)
}

// EnvironmentID handles GET /registrations/environments/lookup?name=.
func (h *RegistrationHandler) EnvironmentID(c *gin.Context) {
	h.lookup(c, h.svc.EnvironmentID)
}

// HostgroupID handles GET /registrations/hostgroups/lookup?name=.
func (h *RegistrationHandler) HostgroupID(c *gin.Context) {
	h.lookup(c, h.svc.HostgroupID)
}

func (h *RegistrationHandler) lookup(c *gin.Context, find func(context.Context, model.Caller, string) (*int64, error)) {
	raw, err := requestParams(c)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"id": nil})
		return
	}
	params, err := service.ValidateParams(raw, service.LookupRule)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"id": nil})
		return
	}
	id, err := find(c.Request.Context(), CallerFromCtx(c), params.String("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// fail writes the error envelope with the status matching err.
func (h *RegistrationHandler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("registration request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
	c.JSON(status, envelope{Result: false, Message: err.Error()})
}

func statusFor(err error) int {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNodeNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// requestParams merges query string, form and JSON body parameters. Body
// values win over query values. JSON numbers are kept as json.Number.
func requestParams(c *gin.Context) (map[string]any, error) {
	out := make(map[string]any)
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			out[k] = v[len(v)-1]
		}
	}

	switch c.ContentType() {
	case binding.MIMEPOSTForm, binding.MIMEMultipartPOSTForm:
		var err error
		if c.ContentType() == binding.MIMEMultipartPOSTForm {
			err = c.Request.ParseMultipartForm(maxBodyBytes)
		} else {
			err = c.Request.ParseForm()
		}
		if err != nil {
			return nil, fmt.Errorf("malformed form body: %w", err)
		}
		for k, v := range c.Request.PostForm {
			if len(v) > 0 {
				out[k] = v[len(v)-1]
			}
		}
	case binding.MIMEJSON, "":
		if c.Request.Body == nil {
			return out, nil
		}
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return out, nil
		}
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			return nil, errors.New("request body must be a JSON object")
		}
		for k, v := range m {
			out[k] = v
		}
	}
	return out, nil
}
