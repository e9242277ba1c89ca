package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jmerrifield20/NodeRegistrar/internal/auditlog"
	"github.com/jmerrifield20/NodeRegistrar/internal/metrics"
	"github.com/jmerrifield20/NodeRegistrar/internal/registry/model"
	"github.com/jmerrifield20/NodeRegistrar/internal/registry/repository"
	"go.uber.org/zap"
)

// nodeRepo is the persistence interface for the registration service.
// *repository.NodeRepository satisfies this interface.
type nodeRepo interface {
	Create(ctx context.Context, node *model.Node) error
	GetByCertname(ctx context.Context, certname string) (*model.Node, error)
	GetByName(ctx context.Context, name string) (*model.Node, error)
	Update(ctx context.Context, node *model.Node) error
	Delete(ctx context.Context, id int64) error
	ListEnvironments(ctx context.Context) ([]model.Environment, error)
	ListHostgroups(ctx context.Context) ([]model.Hostgroup, error)
	EnvironmentByName(ctx context.Context, name string) (*model.Environment, error)
	HostgroupByName(ctx context.Context, name string) (*model.Hostgroup, error)
}

// CertificateClient talks to the CA proxy. *puppetca.Client satisfies this
// interface.
type CertificateClient interface {
	Revoke(ctx context.Context, baseURL, certname string) error
	Presence(ctx context.Context, baseURL, certname string) (model.CertificateState, error)
}

// caResolver is satisfied by *CADirectory.
type caResolver interface {
	Resolve(ctx context.Context) (*model.SmartProxy, error)
}

// Gate decides whether a caller may run an operation. *access.Gate satisfies
// this interface.
type Gate interface {
	Permit(ctx context.Context, caller model.Caller, op model.Operation) error
}

// RegistrationService runs the node registration state machine.
type RegistrationService struct {
	repo      nodeRepo
	directory caResolver
	ca        CertificateClient
	gate      Gate            // nil = no access check
	ledger    auditlog.Ledger // nil = no ledger writes
	logger    *zap.Logger
}

// NewRegistrationService creates a RegistrationService.
func NewRegistrationService(repo nodeRepo, directory caResolver, ca CertificateClient, logger *zap.Logger) *RegistrationService {
	return &RegistrationService{
		repo:      repo,
		directory: directory,
		ca:        ca,
		logger:    logger,
	}
}

// SetGate installs the access check run before every operation.
func (s *RegistrationService) SetGate(g Gate) {
	s.gate = g
}

// SetLedger configures the audit ledger that records every mutating outcome.
func (s *RegistrationService) SetLedger(l auditlog.Ledger) {
	s.ledger = l
}

// Register creates or re-enrolls a node. params must have passed RegisterRule.
//
// A node already holding the incoming certname only has that certificate
// revoked. A node found by name takes the new certname and the certificate is
// revoked so the agent can request a fresh one. A node found by name with
// an empty incoming certname is left as is: the action is none and neither
// the store nor the CA is touched. Otherwise a new node is created and the
// CA is not contacted.
func (s *RegistrationService) Register(ctx context.Context, caller model.Caller, params Params) (out *model.Outcome, err error) {
	name := params.String("name")
	certname := params.String("certname")
	out = &model.Outcome{Operation: model.OpRegister, Action: model.ActionNone}
	defer func() { s.record(ctx, caller, out, name, certname, err) }()

	if err = s.permit(ctx, caller, model.OpRegister); err != nil {
		return out, err
	}
	envID, err := params.Int64("environment_id")
	if err != nil {
		return out, &model.ValidationError{Params: params, Reason: err.Error()}
	}
	hgID, err := params.Int64("hostgroup_id")
	if err != nil {
		return out, &model.ValidationError{Params: params, Reason: err.Error()}
	}

	proxy, err := s.directory.Resolve(ctx)
	if err != nil {
		return out, err
	}

	if certname != "" {
		node, lookupErr := s.repo.GetByCertname(ctx, certname)
		switch {
		case lookupErr == nil:
			out.Action = model.ActionRevokeOnly
			out.Node = node
			err = s.revoke(ctx, proxy, certname)
			return out, err
		case !errors.Is(lookupErr, repository.ErrNotFound):
			err = &model.PersistenceError{Op: "look up", Err: lookupErr}
			return out, err
		}
	}

	node, lookupErr := s.repo.GetByName(ctx, name)
	switch {
	case lookupErr == nil:
		out.Node = node
		if certname == "" {
			return out, nil
		}
		out.Action = model.ActionUpdateAndRevoke
		node.Certname = certname
		if err = s.repo.Update(ctx, node); err != nil {
			err = &model.PersistenceError{Op: "update", Err: err}
			return out, err
		}
		err = s.revoke(ctx, proxy, certname)
		return out, err
	case !errors.Is(lookupErr, repository.ErrNotFound):
		err = &model.PersistenceError{Op: "look up", Err: lookupErr}
		return out, err
	}

	out.Action = model.ActionCreate
	node = &model.Node{
		Name:          name,
		Certname:      certname,
		EnvironmentID: envID,
		HostgroupID:   hgID,
		MAC:           params.String("mac"),
		Comment:       params.String("comment"),
	}
	out.Node = node
	if err = s.repo.Create(ctx, node); err != nil {
		err = &model.PersistenceError{Op: "create", Err: err}
		return out, err
	}
	return out, nil
}

// Decommission revokes a node's certificate and deletes the node. A missing
// node is not an error. A failed revoke leaves the node in place.
func (s *RegistrationService) Decommission(ctx context.Context, caller model.Caller, params Params) (out *model.Outcome, err error) {
	name := params.String("name")
	var certname string
	out = &model.Outcome{Operation: model.OpDecommission, Action: model.ActionNone}
	defer func() { s.record(ctx, caller, out, name, certname, err) }()

	if err = s.permit(ctx, caller, model.OpDecommission); err != nil {
		return out, err
	}
	proxy, err := s.directory.Resolve(ctx)
	if err != nil {
		return out, err
	}

	node, err := s.repo.GetByName(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		err = &model.PersistenceError{Op: "look up", Err: err}
		return out, err
	}
	out.Action = model.ActionDestroy
	out.Node = node
	certname = node.Certname

	if certname != "" {
		if err = s.revoke(ctx, proxy, certname); err != nil {
			return out, err
		}
	}
	if err = s.repo.Delete(ctx, node.ID); err != nil {
		err = &model.PersistenceError{Op: "destroy", Err: err}
		return out, err
	}
	return out, nil
}

// Reset revokes a node's current certificate and clears its certname so the
// agent re-enrolls on its next registration. The login parameter must match
// the caller unless the caller is an admin.
func (s *RegistrationService) Reset(ctx context.Context, caller model.Caller, params Params) (out *model.Outcome, err error) {
	name := params.String("name")
	var certname string
	out = &model.Outcome{Operation: model.OpReset, Action: model.ActionNone}
	defer func() { s.record(ctx, caller, out, name, certname, err) }()

	if err = s.permit(ctx, caller, model.OpReset); err != nil {
		return out, err
	}
	if login := params.String("login"); caller.Role != model.RoleAdmin && login != caller.Login {
		err = fmt.Errorf("%w: login %q does not match the authenticated user", model.ErrForbidden, login)
		return out, err
	}
	proxy, err := s.directory.Resolve(ctx)
	if err != nil {
		return out, err
	}

	node, err := s.repo.GetByName(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		err = fmt.Errorf("%w: %s", model.ErrNodeNotFound, name)
		return out, err
	}
	if err != nil {
		err = &model.PersistenceError{Op: "look up", Err: err}
		return out, err
	}
	out.Action = model.ActionReset
	out.Node = node
	certname = node.Certname

	if certname != "" {
		if err = s.revoke(ctx, proxy, certname); err != nil {
			return out, err
		}
	}
	node.Certname = ""
	if err = s.repo.Update(ctx, node); err != nil {
		err = &model.PersistenceError{Op: "update", Err: err}
		return out, err
	}
	return out, nil
}

// Status reports what is known about the node holding certname. An unknown
// certname yields an all-nil status. A CA that is missing or failing leaves
// HasCertificate nil; neither is an error.
func (s *RegistrationService) Status(ctx context.Context, caller model.Caller, certname string) (*model.RegistrationStatus, error) {
	if err := s.permit(ctx, caller, model.OpStatus); err != nil {
		return nil, err
	}
	status := &model.RegistrationStatus{}
	node, err := s.repo.GetByCertname(ctx, certname)
	if errors.Is(err, repository.ErrNotFound) {
		return status, nil
	}
	if err != nil {
		return nil, &model.PersistenceError{Op: "look up", Err: err}
	}
	name := node.Name
	status.Name = &name
	status.LastReport = node.LastReport

	proxy, err := s.directory.Resolve(ctx)
	if err != nil {
		s.logger.Warn("certificate presence unavailable",
			zap.String("certname", certname), zap.Error(err))
		return status, nil
	}
	state, err := s.ca.Presence(context.WithoutCancel(ctx), proxy.URL, certname)
	if err != nil {
		s.logger.Warn("certificate presence query failed",
			zap.String("certname", certname),
			zap.String("proxy", proxy.URL),
			zap.Error(err))
		return status, nil
	}
	has := state == model.CertificatePresent
	status.HasCertificate = &has
	return status, nil
}

// ListEnvironments returns all environment names, sorted.
func (s *RegistrationService) ListEnvironments(ctx context.Context, caller model.Caller) ([]string, error) {
	if err := s.permit(ctx, caller, model.OpList); err != nil {
		return nil, err
	}
	envs, err := s.repo.ListEnvironments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	names := make([]string, 0, len(envs))
	for _, e := range envs {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names, nil
}

// ListHostgroups returns all hostgroup names, sorted.
func (s *RegistrationService) ListHostgroups(ctx context.Context, caller model.Caller) ([]string, error) {
	if err := s.permit(ctx, caller, model.OpList); err != nil {
		return nil, err
	}
	groups, err := s.repo.ListHostgroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list hostgroups: %w", err)
	}
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	sort.Strings(names)
	return names, nil
}

// EnvironmentID returns the id of the named environment, or nil when none
// exists.
func (s *RegistrationService) EnvironmentID(ctx context.Context, caller model.Caller, name string) (*int64, error) {
	if err := s.permit(ctx, caller, model.OpList); err != nil {
		return nil, err
	}
	env, err := s.repo.EnvironmentByName(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up environment: %w", err)
	}
	return &env.ID, nil
}

// HostgroupID returns the id of the named hostgroup, or nil when none exists.
func (s *RegistrationService) HostgroupID(ctx context.Context, caller model.Caller, name string) (*int64, error) {
	if err := s.permit(ctx, caller, model.OpList); err != nil {
		return nil, err
	}
	hg, err := s.repo.HostgroupByName(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up hostgroup: %w", err)
	}
	return &hg.ID, nil
}

func (s *RegistrationService) permit(ctx context.Context, caller model.Caller, op model.Operation) error {
	if s.gate == nil {
		return nil
	}
	return s.gate.Permit(ctx, caller, op)
}

// revoke runs detached from the request context so a disconnecting caller
// cannot leave the store and the CA half-updated mid-call.
func (s *RegistrationService) revoke(ctx context.Context, proxy *model.SmartProxy, certname string) error {
	return s.ca.Revoke(context.WithoutCancel(ctx), proxy.URL, certname)
}

// record emits the single audit line for a finished mutating operation.
func (s *RegistrationService) record(ctx context.Context, caller model.Caller, out *model.Outcome, name, certname string, err error) {
	fields := []zap.Field{
		zap.String("operation", string(out.Operation)),
		zap.String("action", string(out.Action)),
		zap.String("name", name),
		zap.String("certname", certname),
		zap.String("caller", caller.Login),
		zap.String("source_ip", caller.SourceIP),
	}
	if err != nil {
		s.logger.Error("registration operation failed", append(fields, zap.Error(err))...)
	} else {
		s.logger.Info("registration operation", fields...)
	}
	metrics.RecordOperation(string(out.Operation), string(out.Action), err == nil)

	if s.ledger == nil {
		return
	}
	ev := auditlog.Event{
		Operation: string(out.Operation),
		Action:    string(out.Action),
		NodeName:  name,
		Certname:  certname,
		Actor:     caller.Login,
		Success:   err == nil,
	}
	if err != nil {
		ev.Message = err.Error()
	}
	if _, lerr := s.ledger.Append(context.WithoutCancel(ctx), ev); lerr != nil {
		s.logger.Warn("audit ledger append failed", zap.Error(lerr))
	} else {
		metrics.RecordAuditAppend()
	}
}
