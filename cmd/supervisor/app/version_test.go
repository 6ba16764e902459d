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
	"strings"
	"testing"
)

func TestCmdVersion_IsRegisteredAsVersionCommand(t *testing.T) {
	cmd := NewCmdVersion()
	if !strings.Contains(cmd.Use, "version") {
		t.Errorf("cmd.Use = %q, want it to contain %q", cmd.Use, "version")
	}
	// runVersion writes straight to stdout via fmt.Println rather than
	// cmd.OutOrStdout, matching the teacher's version command, so there's
	// nothing more useful to assert on here than that it runs without a
	// panic given nil args.
	runVersion(cmd, nil)
}

func TestRootCommand_HasRunAndVersionSubcommands(t *testing.T) {
	root := NewRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	wantRun, wantVersion := false, false
	for _, n := range names {
		if n == "run" {
			wantRun = true
		}
		if n == "version" {
			wantVersion = true
		}
	}
	if !wantRun {
		t.Errorf("expected a 'run' subcommand, got %v", names)
	}
	if !wantVersion {
		t.Errorf("expected a 'version' subcommand, got %v", names)
	}
}
