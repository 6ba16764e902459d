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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgecore/supervisor/pkg/buildinfo"
)

// NewCmdVersion builds the "version" subcommand, grounded on
// cmd/sonobuoy/app/version.go stripped of the Kubernetes server-version
// check: this supervisor talks to a cloud API over HTTP, not to a
// Kubernetes API server, so there is no remote version to query.
func NewCmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print supervisor version",
		Args:  cobra.ExactArgs(0),
		Run:   runVersion,
	}
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Println(fmt.Sprintf("Supervisor Version: %s", buildinfo.Version))
	fmt.Println(fmt.Sprintf("GitSHA: %s", buildinfo.GitSHA))
}
