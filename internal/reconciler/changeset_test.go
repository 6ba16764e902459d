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

package reconciler

import (
	"testing"

	"github.com/edgecore/supervisor/internal/model"
)

func TestComputeChangeSet(t *testing.T) {
	tests := []struct {
		name string
		cur  model.Service
		tgt  model.Service
		want ChangeSet
	}{
		{
			name: "identical services produce no change",
			cur:  svcFixture(1, "nginx:1.25"),
			tgt:  svcFixture(1, "nginx:1.25"),
			want: ChangeSet{},
		},
		{
			name: "image change",
			cur:  svcFixture(1, "nginx:1.25"),
			tgt:  svcFixture(1, "nginx:1.26"),
			want: ChangeSet{ImageChanged: true},
		},
		{
			name: "extra runtime-injected env on current is ignored",
			cur: func() model.Service {
				s := svcFixture(1, "nginx:1.25")
				s.Config.Environment = map[string]string{"FOO": "bar", "SUPERVISOR_INJECTED": "1"}
				return s
			}(),
			tgt: func() model.Service {
				s := svcFixture(1, "nginx:1.25")
				s.Config.Environment = map[string]string{"FOO": "bar"}
				return s
			}(),
			want: ChangeSet{},
		},
		{
			name: "target env key missing from current is a change",
			cur:  svcFixture(1, "nginx:1.25"),
			tgt: func() model.Service {
				s := svcFixture(1, "nginx:1.25")
				s.Config.Environment = map[string]string{"FOO": "bar"}
				return s
			}(),
			want: ChangeSet{EnvChanged: true},
		},
		{
			name: "empty target restart policy never triggers a change",
			cur: func() model.Service {
				s := svcFixture(1, "nginx:1.25")
				s.Config.RestartPolicy = "always"
				return s
			}(),
			tgt:  svcFixture(1, "nginx:1.25"),
			want: ChangeSet{},
		},
		{
			name: "declared restart policy mismatch is a change",
			cur: func() model.Service {
				s := svcFixture(1, "nginx:1.25")
				s.Config.RestartPolicy = "always"
				return s
			}(),
			tgt: func() model.Service {
				s := svcFixture(1, "nginx:1.25")
				s.Config.RestartPolicy = "onFailure"
				return s
			}(),
			want: ChangeSet{RestartChanged: true},
		},
		{
			name: "ports compared order-independently",
			cur: func() model.Service {
				s := svcFixture(1, "nginx:1.25")
				s.Config.Ports = []model.PortMapping{{Host: 8081, Container: 81}, {Host: 8080, Container: 80}}
				return s
			}(),
			tgt: func() model.Service {
				s := svcFixture(1, "nginx:1.25")
				s.Config.Ports = []model.PortMapping{{Host: 8080, Container: 80}, {Host: 8081, Container: 81}}
				return s
			}(),
			want: ChangeSet{},
		},
		{
			name: "exited container is flagged even with no config drift",
			cur: func() model.Service {
				s := svcFixture(1, "nginx:1.25")
				s.Runtime = &model.ServiceRuntime{Status: model.StatusExited}
				return s
			}(),
			tgt:  svcFixture(1, "nginx:1.25"),
			want: ChangeSet{ContainerStopped: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeChangeSet(tt.cur, tt.tgt)
			if got != tt.want {
				t.Errorf("computeChangeSet() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
