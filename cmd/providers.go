package cmd

import (
	"fmt"
	"io"
	"slices"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/zjrosen/devteam/internal/config"
	"github.com/zjrosen/devteam/internal/orchestration/client"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List model providers and their credentials",
	Long: `List every model provider, whether a credential is available, and the
order in which failover tries them.

Credentials are read from <PROVIDER>_API_KEY (OLLAMA_HOST for ollama). The
primary provider may also use llm.api_key from the config file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		printProviders(cmd.OutOrStdout(), providerRows(cfg.LLM, client.EnvCredentials))
		return nil
	},
}

var providersUseCmd = &cobra.Command{
	Use:   "use <provider>",
	Short: "Set the primary provider in the config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := client.ParseProviderType(args[0])
		if err != nil {
			return err
		}
		path := configPath()
		if err := config.SaveProvider(path, string(p)); err != nil {
			return fmt.Errorf("saving provider: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Primary provider set to %s in %s\n", p, path)
		return nil
	},
}

func init() {
	providersCmd.AddCommand(providersUseCmd)
	rootCmd.AddCommand(providersCmd)
}

// providerRow is one line of the providers table.
type providerRow struct {
	Provider   client.ProviderType
	Primary    bool
	Registered bool
	Credential bool
	EnvVar     string
	// Failover is the 1-based failover position, 0 when not in the order.
	Failover int
}

func providerRows(llm config.LLMConfig, creds client.CredentialFunc) []providerRow {
	primary := client.ProviderType(llm.Provider)
	if primary == "" {
		primary = client.ProviderMock
	}
	order := llm.FailoverOrder()

	rows := make([]providerRow, 0, len(client.KnownProviders()))
	for _, p := range client.KnownProviders() {
		row := providerRow{
			Provider:   p,
			Primary:    p == primary,
			Registered: client.IsRegistered(p),
			Credential: !p.RequiresAPIKey() || creds(p) != "" || (p == primary && llm.APIKey != ""),
		}
		if p != client.ProviderMock {
			row.EnvVar = client.CredentialEnvVar(p)
			// ollama needs a host to take part in failover
			if p == client.ProviderOllama {
				row.Credential = creds(p) != "" || p == primary
			}
		}
		if i := slices.Index(order, p); i >= 0 && p != primary {
			row.Failover = i + 1
		}
		rows = append(rows, row)
	}
	return rows
}

func printProviders(w io.Writer, rows []providerRow) {
	cell := lipgloss.NewStyle().Width(12)
	fmt.Fprintln(w, headerStyle.Render(cell.Render("PROVIDER")+cell.Render("ROLE")+cell.Render("CREDENTIAL")+"ENV"))
	for _, r := range rows {
		role := subtleStyle.Render("-")
		switch {
		case r.Primary:
			role = titleStyle.Render("primary")
		case r.Failover > 0:
			role = fmt.Sprintf("failover %d", r.Failover)
		}
		cred := errorStyle.Render("missing")
		if r.Credential {
			cred = successStyle.Render("ok")
		}
		name := string(r.Provider)
		if !r.Registered {
			name += subtleStyle.Render("*")
		}
		fmt.Fprintln(w, cell.Render(name)+cell.Render(role)+cell.Render(cred)+subtleStyle.Render(r.EnvVar))
	}
}
