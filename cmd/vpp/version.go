package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/calehh/vp-proxy/types"
)

// GitCommit is set at build time with -ldflags "-X main.GitCommit=...".
var GitCommit string

const (
	VersionMajor = 0
	VersionMinor = 1
	VersionPatch = 0
)

var Version = fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)

// VersionWithCommit appends the short commit hash when one was stamped in.
func VersionWithCommit(gitCommit string) string {
	if len(gitCommit) < 8 {
		return Version
	}
	return Version + "-" + gitCommit[:8]
}

var versionLong bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the vpp version",
	Long: `Print the vpp release. With --long it also prints the Go toolchain the
binary was built with and the snapshot layout version it reads and writes;
a node can only restore snapshots of the same layout version.`,
	Aliases: []string{"V"},
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), versionInfo(versionLong))
	},
}

func versionInfo(long bool) string {
	vsn := VersionWithCommit(GitCommit)
	if !long {
		return vsn
	}
	return fmt.Sprintf("vpp %s\ngo %s %s/%s\nsnapshot v%d",
		vsn, runtime.Version(), runtime.GOOS, runtime.GOARCH, types.SnapshotVersion)
}

func init() {
	versionCmd.Flags().BoolVarP(&versionLong, "long", "l", false, "also print build and snapshot layout versions")
}
