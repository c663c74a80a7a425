package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

const exampleConfig = `# ac2git configuration. Save as ac2git.yaml and pass --config ac2git.yaml,
# or place at ./.ac2git.yaml / $HOME/.ac2git.yaml for automatic discovery.
# Every key may be overridden by an AC2GIT_-prefixed environment variable,
# e.g. AC2GIT_DEPOT=MyDepot.

# AccuRev depot name (required).
depot: MyDepot

# Stream names to track, in any order (required, at least one).
streams:
  - Dev
  - Test

# Transaction range: an integer, or one of first/highest/now.
start-tx: first
end-tx: highest

# Retrieval method: pop, diff, or deep-hist.
method: pop

# When true, a basis stream's visible branch fast-forwards onto a
# child's merge commit instead of staying put (spec scenario B).
source-stream-fast-forward: false

# How an unchanged child stream is represented on a parent promote:
# merge or cherry-pick (spec scenario C).
empty-child-stream-action: merge

# Source username -> target commit identity.
user-map:
  jdoe:
    name: Jane Doe
    email: jane@example.com
    timezone: America/New_York

# Filesystem path to the target git repository (created if absent).
repo-path: ./converted.git

retrieval:
  workers: 4
  retry_max: 5
  retry_delay: 500ms
`

// NewConfigCommand builds the "config" command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	cmd.AddCommand(newConfigExampleCommand())

	return cmd
}

func newConfigExampleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "example",
		Short: "Print a commented example configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeExampleConfig(cmd.OutOrStdout())
		},
	}
}

func writeExampleConfig(w io.Writer) error {
	_, err := fmt.Fprint(w, exampleConfig)
	return err
}
