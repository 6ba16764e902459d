/*
Copyright the Sonobuoy contributors 2019

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package app

import (
	"flag"

	"github.com/spf13/cobra"

	"github.com/edgecore/supervisor/pkg/errlog"
)

func init() {
	// import `flag` flags into this command to support glog flags pulled
	// in transitively through the Docker Engine client.
	RootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	RootCmd.PersistentFlags().BoolVarP(&errlog.DebugOutput, "debug", "d", false, "Enable debug output (includes stack traces)")

	RootCmd.AddCommand(NewCmdRun())
	RootCmd.AddCommand(NewCmdVersion())
}

// RootCmd is the root command executed when the binary is run without any
// subcommand.
var RootCmd = &cobra.Command{
	Use:   "supervisor",
	Short: "Run the device-side container supervisor",
	Long:  "supervisor reconciles containerized applications against a cloud-delivered target state, syncs a sensor-config shadow document, and executes cloud-queued jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// NewRootCommand returns the root command, mirroring the teacher's
// NewSonobuoyCommand constructor shape.
func NewRootCommand() *cobra.Command {
	return RootCmd
}
