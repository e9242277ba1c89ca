package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/NodeRegistrar/internal/registry/model"
)

// ErrNotFound is returned when a node is not found in the database.
var ErrNotFound = errors.New("node not found")

// ErrDuplicate is returned when a write would violate the uniqueness of a
// node's name, certname or MAC address.
var ErrDuplicate = errors.New("duplicate node identity")

const nodeColumns = `id, name, certname, environment_id, hostgroup_id, mac, comment, last_report, created_at, updated_at`

// NodeRepository provides CRUD operations for nodes against PostgreSQL.
type NodeRepository struct {
	db *pgxpool.Pool
}

// NewNodeRepository creates a new NodeRepository.
func NewNodeRepository(db *pgxpool.Pool) *NodeRepository {
	return &NodeRepository{db: db}
}

// Create inserts a new node. Sets ID, CreatedAt and UpdatedAt on success.
func (r *NodeRepository) Create(ctx context.Context, node *model.Node) error {
	now := time.Now().UTC()
	node.CreatedAt = now
	node.UpdatedAt = now

	query := `
		INSERT INTO nodes (
			name, certname, environment_id, hostgroup_id, mac, comment, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		node.Name, node.Certname, node.EnvironmentID, node.HostgroupID,
		node.MAC, node.Comment, node.CreatedAt, node.UpdatedAt,
	).Scan(&node.ID)
	return translate(err)
}

// GetByCertname returns the node holding the given certname.
func (r *NodeRepository) GetByCertname(ctx context.Context, certname string) (*model.Node, error) {
	return r.scanOne(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE certname = $1 AND certname <> ''`, certname)
}

// GetByName returns the node with the given name.
func (r *NodeRepository) GetByName(ctx context.Context, name string) (*model.Node, error) {
	return r.scanOne(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE name = $1`, name)
}

// Update writes the mutable fields of an existing node.
func (r *NodeRepository) Update(ctx context.Context, node *model.Node) error {
	node.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE nodes SET
			certname       = $2,
			environment_id = $3,
			hostgroup_id   = $4,
			mac            = $5,
			comment        = $6,
			updated_at     = $7
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		node.ID, node.Certname, node.EnvironmentID, node.HostgroupID,
		node.MAC, node.Comment, node.UpdatedAt,
	)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete permanently removes a node.
func (r *NodeRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEnvironments returns all environments ordered by name.
func (r *NodeRepository) ListEnvironments(ctx context.Context) ([]model.Environment, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name FROM environments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[model.Environment])
}

// ListHostgroups returns all hostgroups ordered by name.
func (r *NodeRepository) ListHostgroups(ctx context.Context) ([]model.Hostgroup, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name FROM hostgroups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list hostgroups: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[model.Hostgroup])
}

// EnvironmentByName returns the environment with the given name.
func (r *NodeRepository) EnvironmentByName(ctx context.Context, name string) (*model.Environment, error) {
	var e model.Environment
	err := r.db.QueryRow(ctx, `SELECT id, name FROM environments WHERE name = $1`, name).Scan(&e.ID, &e.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get environment: %w", err)
	}
	return &e, nil
}

// HostgroupByName returns the hostgroup with the given name.
func (r *NodeRepository) HostgroupByName(ctx context.Context, name string) (*model.Hostgroup, error) {
	var g model.Hostgroup
	err := r.db.QueryRow(ctx, `SELECT id, name FROM hostgroups WHERE name = $1`, name).Scan(&g.ID, &g.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get hostgroup: %w", err)
	}
	return &g, nil
}

// CreateEnvironment inserts an environment, returning the existing row when
// the name is already taken.
func (r *NodeRepository) CreateEnvironment(ctx context.Context, name string) (*model.Environment, error) {
	e := model.Environment{Name: name}
	err := r.db.QueryRow(ctx, `
		INSERT INTO environments (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, name).Scan(&e.ID)
	if err != nil {
		return nil, fmt.Errorf("create environment: %w", err)
	}
	return &e, nil
}

// CreateHostgroup inserts a hostgroup, returning the existing row when the
// name is already taken.
func (r *NodeRepository) CreateHostgroup(ctx context.Context, name string) (*model.Hostgroup, error) {
	g := model.Hostgroup{Name: name}
	err := r.db.QueryRow(ctx, `
		INSERT INTO hostgroups (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, name).Scan(&g.ID)
	if err != nil {
		return nil, fmt.Errorf("create hostgroup: %w", err)
	}
	return &g, nil
}

// scanOne executes a query returning a single node row.
func (r *NodeRepository) scanOne(ctx context.Context, query string, args ...any) (*model.Node, error) {
	var n model.Node
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&n.ID, &n.Name, &n.Certname, &n.EnvironmentID, &n.HostgroupID,
		&n.MAC, &n.Comment, &n.LastReport, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

// translate maps unique and foreign key violations onto repository errors.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("unknown environment or hostgroup: %s", pgErr.ConstraintName)
		}
	}
	return err
}
