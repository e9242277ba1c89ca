package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/NodeRegistrar/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

const defaultRegistrarURL = "http://localhost:8080"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	cfgFile      string
	registrarURL string
	login        string
	password     string
	token        string
	exchange     bool
	insecure     bool
	format       string
	timeout      time.Duration
	v            *viper.Viper
}

func newRootCmd() *cobra.Command {
	g := &globals{v: viper.New()}

	root := &cobra.Command{
		Use:   "regctl",
		Short: "Node registrar CLI",
		Long: `regctl is the command-line interface for the node registrar.

It registers nodes, decommissions them, resets their certificates and
queries registration status, environments and hostgroups.

Credentials come from flags, the REGCTL_* environment or ~/.regctl/config.yaml.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.cfgFile, "config", "", "config file (default ~/.regctl/config.yaml)")
	pf.StringVar(&g.registrarURL, "registrar", "", "registrar URL (default "+defaultRegistrarURL+")")
	pf.StringVar(&g.login, "login", "", "login for basic authentication")
	pf.StringVar(&g.password, "password", "", "password for basic authentication")
	pf.StringVar(&g.token, "token", "", "bearer token (overrides login/password)")
	pf.BoolVar(&g.exchange, "token-exchange", false, "trade login/password for a bearer token before the first request")
	pf.BoolVar(&g.insecure, "insecure", false, "skip TLS certificate verification")
	pf.StringVar(&g.format, "format", "text", "output format: text or json")
	pf.DurationVar(&g.timeout, "timeout", 60*time.Second, "request timeout")

	root.AddCommand(
		newRegisterCmd(g),
		newDecommissionCmd(g),
		newResetCmd(g),
		newStatusCmd(g),
		newListCmd(g, "environments", "List environment names", (*client.Client).Environments),
		newListCmd(g, "hostgroups", "List hostgroup names", (*client.Client).Hostgroups),
		newLookupCmd(g),
		newTokenCmd(g),
		newVersionCmd(),
	)
	return root
}

// load merges the config file and environment under the flags. Flags win.
func (g *globals) load() error {
	v := g.v
	if g.cfgFile != "" {
		v.SetConfigFile(g.cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(home, ".regctl"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix("REGCTL")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if g.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	fill := func(dst *string, key, def string) {
		if *dst == "" {
			*dst = v.GetString(key)
		}
		if *dst == "" {
			*dst = def
		}
	}
	fill(&g.registrarURL, "registrar_url", defaultRegistrarURL)
	fill(&g.login, "login", "")
	fill(&g.password, "password", "")
	fill(&g.token, "token", "")
	if !g.insecure {
		g.insecure = v.GetBool("insecure")
	}
	if !g.exchange {
		g.exchange = v.GetBool("token_exchange")
	}

	if g.format != "text" && g.format != "json" {
		return fmt.Errorf("unknown format %q", g.format)
	}
	return nil
}

func (g *globals) client() (*client.Client, error) {
	opts := []client.Option{client.WithTimeout(g.timeout)}
	if g.insecure {
		opts = append(opts, client.WithInsecureSkipVerify())
	}
	switch {
	case g.token != "":
		opts = append(opts, client.WithBearerToken(g.token))
	case g.login != "":
		opts = append(opts, client.WithBasicAuth(g.login, g.password))
		if g.exchange {
			opts = append(opts, client.WithTokenExchange())
		}
	default:
		return nil, errors.New("no credentials: set --login/--password or --token")
	}
	return client.New(g.registrarURL, opts...)
}

// ── register ─────────────────────────────────────────────────────────────────

func newRegisterCmd(g *globals) *cobra.Command {
	var (
		req         client.RegisterRequest
		environment string
		hostgroup   string
	)
	cmd := &cobra.Command{
		Use:   "register <name>",
		Short: "Register a node, or refresh its registration",
		Long: `Register creates the node when neither its certname nor its name is known.
A known name with a new certname updates the node and revokes the old
certificate. A known certname is revoked so the agent can request a new one.

--environment and --hostgroup accept either an id or a name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			req.Name = args[0]
			if req.EnvironmentID, err = resolveID(ctx, environment, "environment", c.EnvironmentID); err != nil {
				return err
			}
			if req.HostgroupID, err = resolveID(ctx, hostgroup, "hostgroup", c.HostgroupID); err != nil {
				return err
			}
			res, err := c.Register(ctx, req)
			if err != nil {
				return err
			}
			return g.printResult(cmd.OutOrStdout(), res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Certname, "certname", "", "certificate name; empty when the node has none yet")
	f.StringVar(&environment, "environment", "", "environment id or name")
	f.StringVar(&hostgroup, "hostgroup", "", "hostgroup id or name")
	f.StringVar(&req.MAC, "mac", "", "primary MAC address")
	f.StringVar(&req.Comment, "comment", "", "free-form comment")
	_ = cmd.MarkFlagRequired("environment")
	_ = cmd.MarkFlagRequired("hostgroup")
	return cmd
}

// resolveID accepts a numeric id or looks the name up on the registrar.
func resolveID(ctx context.Context, ref, kind string, lookup func(context.Context, string) (*int64, error)) (int64, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return id, nil
	}
	id, err := lookup(ctx, ref)
	if err != nil {
		return 0, fmt.Errorf("look up %s %q: %w", kind, ref, err)
	}
	if id == nil {
		return 0, fmt.Errorf("unknown %s %q", kind, ref)
	}
	return *id, nil
}

// ── decommission / reset ─────────────────────────────────────────────────────

func newDecommissionCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "decommission <name>",
		Short: "Delete a node and revoke its certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			res, err := c.Decommission(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return g.printResult(cmd.OutOrStdout(), res)
		},
	}
}

func newResetCmd(g *globals) *cobra.Command {
	var login string
	cmd := &cobra.Command{
		Use:   "reset <name>",
		Short: "Revoke a node's certificate so it can register again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			if login == "" {
				login = g.login
			}
			res, err := c.Reset(cmd.Context(), args[0], login)
			if err != nil {
				return err
			}
			return g.printResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&login, "as", "", "login the reset is recorded for (default: --login)")
	return cmd
}

// ── status ───────────────────────────────────────────────────────────────────

// statusRow holds the outcome of a single status query.
type statusRow struct {
	certname string
	status   *client.Status
	err      error
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status <certname> [certname] ...",
		Short: "Show the registration status of one or more certnames",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}

			// Query concurrently, report in input order.
			rows := make([]statusRow, len(args))
			done := make(chan struct{}, len(args))
			for i, certname := range args {
				go func() {
					st, err := c.Status(cmd.Context(), certname)
					rows[i] = statusRow{certname: certname, status: st, err: err}
					done <- struct{}{}
				}()
			}
			for range args {
				<-done
			}

			if g.format == "json" {
				return printStatusJSON(cmd.OutOrStdout(), rows)
			}
			return printStatusText(cmd.OutOrStdout(), rows)
		},
	}
}

func printStatusJSON(out io.Writer, rows []statusRow) error {
	type jsonRow struct {
		Certname string `json:"certname"`
		*client.Status
		Error string `json:"error,omitempty"`
	}
	v := make([]jsonRow, len(rows))
	for i, r := range rows {
		v[i] = jsonRow{Certname: r.certname, Status: r.status}
		if r.err != nil {
			v[i].Error = r.err.Error()
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatusText(out io.Writer, rows []statusRow) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CERTNAME\tNAME\tLAST REPORT\tCERTIFICATE\tERROR")
	for _, r := range rows {
		if r.err != nil {
			fmt.Fprintf(w, "%s\t\t\t\t%s\n", r.certname, r.err.Error())
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", r.certname,
			orDash(r.status.Name), formatTime(r.status.LastReport), formatBool(r.status.HasCertificate))
	}
	return w.Flush()
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

func formatBool(b *bool) string {
	switch {
	case b == nil:
		return "unknown"
	case *b:
		return "present"
	default:
		return "absent"
	}
}

// ── environments / hostgroups / lookup ───────────────────────────────────────

func newListCmd(g *globals, use, short string, list func(*client.Client, context.Context) ([]string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			names, err := list(c, cmd.Context())
			if err != nil {
				return err
			}
			if g.format == "json" {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(names)
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func newLookupCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:       "lookup <environment|hostgroup> <name>",
		Short:     "Print the id of an environment or hostgroup",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"environment", "hostgroup"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			var id *int64
			switch args[0] {
			case "environment":
				id, err = c.EnvironmentID(cmd.Context(), args[1])
			case "hostgroup":
				id, err = c.HostgroupID(cmd.Context(), args[1])
			default:
				return fmt.Errorf("unknown kind %q: want environment or hostgroup", args[0])
			}
			if err != nil {
				return err
			}
			if g.format == "json" {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]*int64{"id": id})
			}
			if id == nil {
				return fmt.Errorf("%s %q not found", args[0], args[1])
			}
			fmt.Fprintln(cmd.OutOrStdout(), *id)
			return nil
		},
	}
}

// ── token / version ──────────────────────────────────────────────────────────

func newTokenCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Exchange login and password for a bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.login == "" {
				return errors.New("--login and --password are required")
			}
			c, err := client.New(g.registrarURL, client.WithBasicAuth(g.login, g.password), client.WithTimeout(g.timeout))
			if err != nil {
				return err
			}
			token, exp, err := c.FetchToken(cmd.Context())
			if err != nil {
				return err
			}
			if g.format == "json" {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"token": token, "expires_at": exp})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Local().Format(time.RFC3339))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the regctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "regctl %s\n", version)
		},
	}
}

func (g *globals) printResult(out io.Writer, res *client.Result) error {
	if g.format == "json" {
		return json.NewEncoder(out).Encode(res)
	}
	fmt.Fprintln(out, res.Message)
	return nil
}
