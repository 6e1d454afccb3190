package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/store"
	postgresstore "github.com/wolfeidau/riskrunner/internal/store/postgres"
)

// OrgCmd manages organizations directly in PostgreSQL.
type OrgCmd struct {
	Postgres PostgresFlags `embed:"" prefix:"postgres-"`

	Create OrgCreateCmd `cmd:"" help:"Create an organization"`
	Update OrgUpdateCmd `cmd:"" help:"Change an organization's name or global data access"`
	List   OrgListCmd   `cmd:"" help:"List organizations"`
	Delete OrgDeleteCmd `cmd:"" help:"Delete an organization"`
}

func (c *OrgCmd) organizations(ctx context.Context) (store.OrganizationStore, func(), error) {
	pool, err := openPool(ctx, &c.Postgres)
	if err != nil {
		return nil, nil, err
	}
	return postgresstore.NewOrganizationStore(pool), pool.Close, nil
}

type OrgCreateCmd struct {
	Name            string `arg:"" help:"organization name"`
	AllowGlobalData bool   `help:"let members read globally scoped companies" default:"false"`
}

func (c *OrgCreateCmd) Run(ctx context.Context, globals *Globals, parent *OrgCmd) error {
	log := globals.setupLogger()

	orgs, closeFn, err := parent.organizations(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	now := time.Now()
	org := &models.Organization{
		OrgID:                 uuid.Must(uuid.NewV7()),
		Name:                  c.Name,
		AllowGlobalDataAccess: c.AllowGlobalData,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := orgs.Create(ctx, org); err != nil {
		return err
	}

	log.Info().Str("org_id", org.OrgID.String()).Str("name", org.Name).Msg("Organization created")
	fmt.Println(org.OrgID)
	return nil
}

type OrgUpdateCmd struct {
	OrgID           string `arg:"" help:"organization ID"`
	Name            string `help:"new name" default:""`
	AllowGlobalData *bool  `help:"let members read globally scoped companies (--allow-global-data=false revokes)"`
}

func (c *OrgUpdateCmd) Run(ctx context.Context, globals *Globals, parent *OrgCmd) error {
	log := globals.setupLogger()

	orgID, err := uuid.Parse(c.OrgID)
	if err != nil {
		return fmt.Errorf("invalid organization ID: %w", err)
	}

	orgs, closeFn, err := parent.organizations(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	org, err := orgs.Get(ctx, orgID)
	if err != nil {
		return err
	}
	if c.Name != "" {
		org.Name = c.Name
	}
	if c.AllowGlobalData != nil {
		org.AllowGlobalDataAccess = *c.AllowGlobalData
	}
	if err := orgs.Update(ctx, org); err != nil {
		return err
	}

	log.Info().Str("org_id", org.OrgID.String()).Bool("allow_global_data_access", org.AllowGlobalDataAccess).Msg("Organization updated")
	return nil
}

type OrgListCmd struct{}

func (c *OrgListCmd) Run(ctx context.Context, globals *Globals, parent *OrgCmd) error {
	globals.setupLogger()

	orgs, closeFn, err := parent.organizations(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	list, err := orgs.List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tGLOBAL DATA\tCREATED")
	for _, org := range list {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", org.OrgID, org.Name, org.AllowGlobalDataAccess, org.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

type OrgDeleteCmd struct {
	OrgID string `arg:"" help:"organization ID"`
}

func (c *OrgDeleteCmd) Run(ctx context.Context, globals *Globals, parent *OrgCmd) error {
	log := globals.setupLogger()

	orgs, closeFn, err := parent.organizations(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	orgID, err := deleteOrganization(ctx, orgs, c.OrgID)
	if err != nil {
		return err
	}

	log.Info().Str("org_id", orgID.String()).Msg("Organization deleted")
	return nil
}

// deleteOrganization removes the organization row. Companies and predictions
// scoped to it are kept; members lose global data access with it.
func deleteOrganization(ctx context.Context, orgs store.OrganizationStore, id string) (uuid.UUID, error) {
	orgID, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid organization ID: %w", err)
	}
	if err := orgs.Delete(ctx, orgID); err != nil {
		return uuid.Nil, fmt.Errorf("failed to delete organization %s: %w", orgID, err)
	}
	return orgID, nil
}
